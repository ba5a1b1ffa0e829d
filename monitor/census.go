package monitor

import (
	"context"
	"runtime"
	"time"

	"github.com/golang/glog"

	"contrib.go.opencensus.io/exporter/prometheus"
	rprom "github.com/prometheus/client_golang/prometheus"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

type (
	StreamErrorKind string
	FlushPath       string
)

const (
	StreamErrorStatus    StreamErrorKind = "Status"
	StreamErrorNetwork   StreamErrorKind = "Network"
	StreamErrorTimeout   StreamErrorKind = "Timeout"
	StreamErrorReadBody  StreamErrorKind = "ReadBody"
	StreamErrorMalformed StreamErrorKind = "Malformed"

	FlushPathSingle FlushPath = "single"
	FlushPathBatch  FlushPath = "batch"
)

// Enabled true if metrics was enabled in command line
var Enabled bool

type censusMetricsCounter struct {
	nodeType string
	nodeID   string
	ctx      context.Context

	kNodeType tag.Key
	kNodeID   tag.Key
	kResult   tag.Key
	kKind     tag.Key
	kPath     tag.Key
	kMethod   tag.Key

	mHealthProbes       *stats.Int64Measure
	mHealthyWorkers     *stats.Int64Measure
	mTotalWorkers       *stats.Int64Measure
	mSelections         *stats.Int64Measure
	mStreamErrors       *stats.Int64Measure
	mStreamLatency      *stats.Float64Measure
	mUsageFlushes       *stats.Int64Measure
	mFlushedRequests    *stats.Int64Measure
	mBufferedAddresses  *stats.Int64Measure
	mLedgerReadFallback *stats.Int64Measure
}

// Exporter Prometheus exporter that handles `/metrics` endpoint
var Exporter *prometheus.Exporter

var census censusMetricsCounter

func InitCensus(nodeType, nodeID, version string) {
	census = censusMetricsCounter{
		nodeID:   nodeID,
		nodeType: nodeType,
	}
	var err error
	census.kNodeType, _ = tag.NewKey("node_type")
	census.kNodeID, _ = tag.NewKey("node_id")
	census.kResult, _ = tag.NewKey("result")
	census.kKind, _ = tag.NewKey("kind")
	census.kPath, _ = tag.NewKey("path")
	census.kMethod, _ = tag.NewKey("method")
	census.ctx, err = tag.New(context.Background(), tag.Insert(census.kNodeType, nodeType), tag.Insert(census.kNodeID, nodeID))
	if err != nil {
		glog.Fatal("Error creating context", err)
	}
	census.mHealthProbes = stats.Int64("health_probes_total", "Worker health probes", "tot")
	census.mHealthyWorkers = stats.Int64("healthy_workers", "Number of workers that passed their last health probe", "tot")
	census.mTotalWorkers = stats.Int64("registered_workers", "Number of workers in the registry", "tot")
	census.mSelections = stats.Int64("worker_selections_total", "Worker selections", "tot")
	census.mStreamErrors = stats.Int64("stream_errors_total", "Chat completion streams that ended with an error", "tot")
	census.mStreamLatency = stats.Float64("stream_latency_seconds", "Wall clock duration of a completed chat exchange", "sec")
	census.mUsageFlushes = stats.Int64("usage_flushes_total", "Usage buffer flushes to the ledger", "tot")
	census.mFlushedRequests = stats.Int64("usage_flushed_requests_total", "Requests committed to the ledger", "tot")
	census.mBufferedAddresses = stats.Int64("usage_buffered_addresses", "Number of worker addresses with uncommitted usage", "tot")
	census.mLedgerReadFallback = stats.Int64("ledger_read_fallbacks_total", "Ledger reads that fell back to cached data", "tot")

	glog.Infof("Compiler: %s Arch %s OS %s Go version %s", runtime.Compiler, runtime.GOARCH, runtime.GOOS, runtime.Version())
	glog.Infof("Gateway version: %s", version)
	glog.Infof("Node type %s node ID %s", nodeType, nodeID)
	mVersions := stats.Int64("versions", "Version information.", "Num")
	compiler, _ := tag.NewKey("compiler")
	goarch, _ := tag.NewKey("goarch")
	goos, _ := tag.NewKey("goos")
	goversion, _ := tag.NewKey("goversion")
	gatewayversion, _ := tag.NewKey("gatewayversion")
	ctx, err := tag.New(context.Background(), tag.Insert(census.kNodeType, nodeType), tag.Insert(census.kNodeID, nodeID),
		tag.Insert(compiler, runtime.Compiler), tag.Insert(goarch, runtime.GOARCH), tag.Insert(goos, runtime.GOOS),
		tag.Insert(goversion, runtime.Version()), tag.Insert(gatewayversion, version))
	if err != nil {
		glog.Fatal("Error creating tagged context", err)
	}
	baseTags := []tag.Key{census.kNodeID, census.kNodeType}
	views := []*view.View{
		{
			Name:        "versions",
			Measure:     mVersions,
			Description: "Versions used by the gateway node.",
			TagKeys:     []tag.Key{census.kNodeType, compiler, goos, goversion, gatewayversion},
			Aggregation: view.LastValue(),
		},
		{
			Name:        "health_probes_total",
			Measure:     census.mHealthProbes,
			Description: "Worker health probes, by result",
			TagKeys:     append([]tag.Key{census.kResult}, baseTags...),
			Aggregation: view.Count(),
		},
		{
			Name:        "healthy_workers",
			Measure:     census.mHealthyWorkers,
			Description: "Number of workers that passed their last health probe",
			TagKeys:     baseTags,
			Aggregation: view.LastValue(),
		},
		{
			Name:        "registered_workers",
			Measure:     census.mTotalWorkers,
			Description: "Number of workers in the registry",
			TagKeys:     baseTags,
			Aggregation: view.LastValue(),
		},
		{
			Name:        "worker_selections_total",
			Measure:     census.mSelections,
			Description: "Worker selections, by result",
			TagKeys:     append([]tag.Key{census.kResult}, baseTags...),
			Aggregation: view.Count(),
		},
		{
			Name:        "stream_errors_total",
			Measure:     census.mStreamErrors,
			Description: "Chat completion streams that ended with an error, by kind",
			TagKeys:     append([]tag.Key{census.kKind}, baseTags...),
			Aggregation: view.Count(),
		},
		{
			Name:        "stream_latency_seconds",
			Measure:     census.mStreamLatency,
			Description: "Wall clock duration of a completed chat exchange",
			TagKeys:     baseTags,
			Aggregation: view.Distribution(0, .250, .500, 1, 2, 5, 10, 20, 30, 60),
		},
		{
			Name:        "usage_flushes_total",
			Measure:     census.mUsageFlushes,
			Description: "Usage buffer flushes to the ledger, by path and result",
			TagKeys:     append([]tag.Key{census.kPath, census.kResult}, baseTags...),
			Aggregation: view.Count(),
		},
		{
			Name:        "usage_flushed_requests_total",
			Measure:     census.mFlushedRequests,
			Description: "Requests committed to the ledger",
			TagKeys:     baseTags,
			Aggregation: view.Sum(),
		},
		{
			Name:        "usage_buffered_addresses",
			Measure:     census.mBufferedAddresses,
			Description: "Number of worker addresses with uncommitted usage",
			TagKeys:     baseTags,
			Aggregation: view.LastValue(),
		},
		{
			Name:        "ledger_read_fallbacks_total",
			Measure:     census.mLedgerReadFallback,
			Description: "Ledger reads that fell back to cached data, by method",
			TagKeys:     append([]tag.Key{census.kMethod}, baseTags...),
			Aggregation: view.Count(),
		},
	}
	// Register the views
	if err := view.Register(views...); err != nil {
		glog.Fatalf("Failed to register views: %v", err)
	}
	registry := rprom.NewRegistry()
	registry.MustRegister(rprom.NewProcessCollector(rprom.ProcessCollectorOpts{}))
	registry.MustRegister(rprom.NewGoCollector())
	pe, err := prometheus.NewExporter(prometheus.Options{
		Namespace: "llmgateway",
		Registry:  registry,
	})
	if err != nil {
		glog.Fatalf("Failed to create the Prometheus stats exporter: %v", err)
	}

	// Register the Prometheus exporters as a stats exporter.
	view.RegisterExporter(pe)
	stats.Record(ctx, mVersions.M(1))
	Exporter = pe
}

func recording() bool {
	return Enabled && census.ctx != nil
}

func resultTag(ok bool, success, failure string) string {
	if ok {
		return success
	}
	return failure
}

// HealthProbe records the outcome of one worker health probe
func HealthProbe(success bool) {
	if !recording() {
		return
	}
	if err := stats.RecordWithTags(census.ctx,
		[]tag.Mutator{tag.Insert(census.kResult, resultTag(success, "healthy", "unhealthy"))},
		census.mHealthProbes.M(1)); err != nil {
		glog.Errorf("Error recording metrics err=%q", err)
	}
}

// WorkerCounts records the registry size after a health pass
func WorkerCounts(total, healthy int) {
	if !recording() {
		return
	}
	stats.Record(census.ctx, census.mTotalWorkers.M(int64(total)), census.mHealthyWorkers.M(int64(healthy)))
}

func WorkerSelected(found bool) {
	if !recording() {
		return
	}
	if err := stats.RecordWithTags(census.ctx,
		[]tag.Mutator{tag.Insert(census.kResult, resultTag(found, "selected", "no_worker"))},
		census.mSelections.M(1)); err != nil {
		glog.Errorf("Error recording metrics err=%q", err)
	}
}

func StreamError(kind StreamErrorKind) {
	if !recording() {
		return
	}
	if err := stats.RecordWithTags(census.ctx,
		[]tag.Mutator{tag.Insert(census.kKind, string(kind))},
		census.mStreamErrors.M(1)); err != nil {
		glog.Errorf("Error recording metrics err=%q", err)
	}
}

func StreamLatency(d time.Duration) {
	if !recording() {
		return
	}
	stats.Record(census.ctx, census.mStreamLatency.M(d.Seconds()))
}

// UsageFlushed records one ledger commit attempt and, on success, the number of requests it carried
func UsageFlushed(path FlushPath, success bool, requests int64) {
	if !recording() {
		return
	}
	if err := stats.RecordWithTags(census.ctx,
		[]tag.Mutator{tag.Insert(census.kPath, string(path)), tag.Insert(census.kResult, resultTag(success, "success", "failure"))},
		census.mUsageFlushes.M(1)); err != nil {
		glog.Errorf("Error recording metrics err=%q", err)
	}
	if success {
		stats.Record(census.ctx, census.mFlushedRequests.M(requests))
	}
}

func BufferedAddresses(n int) {
	if !recording() {
		return
	}
	stats.Record(census.ctx, census.mBufferedAddresses.M(int64(n)))
}

func LedgerReadFallback(method string) {
	if !recording() {
		return
	}
	if err := stats.RecordWithTags(census.ctx,
		[]tag.Mutator{tag.Insert(census.kMethod, method)},
		census.mLedgerReadFallback.M(1)); err != nil {
		glog.Errorf("Error recording metrics err=%q", err)
	}
}
