package starter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/user"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/golang/glog"
	"github.com/livepeer/go-llm-gateway/ai/worker"
	"github.com/livepeer/go-llm-gateway/common"
	"github.com/livepeer/go-llm-gateway/core"
	"github.com/livepeer/go-llm-gateway/eth"
	"github.com/livepeer/go-llm-gateway/monitor"
	"github.com/livepeer/go-llm-gateway/server"
	"github.com/olekukonko/tablewriter"
)

const (
	dbFilename       = "llmgateway.sqlite3"
	replayUsageLimit = 100000
	shutdownTimeout  = 30 * time.Second
)

var errMissingLedgerConfig = errors.New("-ethUrl, -registryAddr and -stakingAddr are required")

type GatewayConfig struct {
	HttpAddr              *string
	GatewayAddr           *string
	Datadir               *string
	EthUrl                *string
	EthKeystorePath       *string
	EthAcctAddr           *string
	EthPassword           *string
	RegistryAddr          *string
	StakingAddr           *string
	TxTimeout             *time.Duration
	HealthCheckInterval   *time.Duration
	ProbeTimeout          *time.Duration
	RequestTimeout        *time.Duration
	FlushInterval         *time.Duration
	CacheRefreshInterval  *time.Duration
	ReplayUnsyncedUsage   *bool
	Monitor               *bool
	KafkaBootstrapServers *string
	KafkaUsername         *string
	KafkaPassword         *string
	KafkaGatewayTopic     *string
}

// DefaultGatewayConfig creates GatewayConfig exactly the same as when no flags are passed to the gateway process.
func DefaultGatewayConfig() GatewayConfig {
	// Network & Addresses:
	defaultHttpAddr := "0.0.0.0:8080"
	defaultGatewayAddr := ""
	defaultDatadir := ""

	// Ledger:
	defaultEthUrl := ""
	defaultEthKeystorePath := ""
	defaultEthAcctAddr := ""
	defaultEthPassword := ""
	defaultRegistryAddr := ""
	defaultStakingAddr := ""
	defaultTxTimeout := eth.DefaultTxTimeout

	// Workers:
	defaultHealthCheckInterval := core.DefaultHealthCheckInterval
	defaultProbeTimeout := core.DefaultProbeTimeout
	defaultRequestTimeout := worker.DefaultRequestTimeout

	// Usage reconciliation:
	defaultFlushInterval := core.DefaultFlushInterval
	defaultCacheRefreshInterval := core.DefaultCacheRefreshInterval
	defaultReplayUnsyncedUsage := false

	// Metrics & events:
	defaultMonitor := false
	defaultKafkaBootstrapServers := ""
	defaultKafkaUsername := ""
	defaultKafkaPassword := ""
	defaultKafkaGatewayTopic := ""

	return GatewayConfig{
		HttpAddr:              &defaultHttpAddr,
		GatewayAddr:           &defaultGatewayAddr,
		Datadir:               &defaultDatadir,
		EthUrl:                &defaultEthUrl,
		EthKeystorePath:       &defaultEthKeystorePath,
		EthAcctAddr:           &defaultEthAcctAddr,
		EthPassword:           &defaultEthPassword,
		RegistryAddr:          &defaultRegistryAddr,
		StakingAddr:           &defaultStakingAddr,
		TxTimeout:             &defaultTxTimeout,
		HealthCheckInterval:   &defaultHealthCheckInterval,
		ProbeTimeout:          &defaultProbeTimeout,
		RequestTimeout:        &defaultRequestTimeout,
		FlushInterval:         &defaultFlushInterval,
		CacheRefreshInterval:  &defaultCacheRefreshInterval,
		ReplayUnsyncedUsage:   &defaultReplayUnsyncedUsage,
		Monitor:               &defaultMonitor,
		KafkaBootstrapServers: &defaultKafkaBootstrapServers,
		KafkaUsername:         &defaultKafkaUsername,
		KafkaPassword:         &defaultKafkaPassword,
		KafkaGatewayTopic:     &defaultKafkaGatewayTopic,
	}
}

func (cfg GatewayConfig) PrintConfig(w io.Writer) {
	// compare current settings with default values, and print the difference
	defCfg := DefaultGatewayConfig()
	vDefCfg := reflect.ValueOf(defCfg)
	vCfg := reflect.ValueOf(cfg)
	cfgType := vCfg.Type()
	paramTable := tablewriter.NewWriter(w)

	sensitiveFields := map[string]bool{
		"EthPassword":   true,
		"KafkaPassword": true,
	}

	for i := 0; i < cfgType.NumField(); i++ {
		if !vDefCfg.Field(i).IsNil() && !vCfg.Field(i).IsNil() && vCfg.Field(i).Elem().Interface() != vDefCfg.Field(i).Elem().Interface() {
			val := fmt.Sprintf("%v", vCfg.Field(i).Elem())
			if _, ok := sensitiveFields[cfgType.Field(i).Name]; ok {
				val = "***"
			}
			paramTable.Append([]string{cfgType.Field(i).Name, val})
		}
	}
	paramTable.SetAlignment(tablewriter.ALIGN_LEFT)
	paramTable.SetCenterSeparator("*")
	paramTable.SetColumnSeparator("|")
	paramTable.Render()
}

// StartGateway runs the gateway until ctx is cancelled or the web server fails,
// then shuts everything down in dependency order.
func StartGateway(ctx context.Context, cfg GatewayConfig) error {
	if err := validateConfig(cfg); err != nil {
		return err
	}

	datadir, err := prepareDatadir(*cfg.Datadir)
	if err != nil {
		return err
	}

	dbh, err := common.InitDB(filepath.Join(datadir, dbFilename))
	if err != nil {
		return fmt.Errorf("error opening DB: %w", err)
	}
	defer dbh.Close()

	if *cfg.Monitor {
		monitor.Enabled = true
		glog.Info("Monitoring endpoint is enabled")
		monitor.InitCensus("gateway", *cfg.GatewayAddr, core.GatewayVersion)
	}

	if err := startKafkaProducer(cfg); err != nil {
		return fmt.Errorf("error while starting Kafka producer: %w", err)
	}
	defer monitor.StopKafkaProducer()

	dial := func(ctx context.Context) (eth.LedgerClient, error) {
		return newLedgerClient(ctx, cfg, datadir)
	}

	httpClient := &http.Client{Transport: workerTransport()}
	registry := core.NewRegistry(worker.NewClient(httpClient), *cfg.HealthCheckInterval, *cfg.ProbeTimeout)
	reconciler := core.NewReconciler(registry, dial, dbh, core.ReconcilerConfig{
		FlushInterval:        *cfg.FlushInterval,
		CacheRefreshInterval: *cfg.CacheRefreshInterval,
	})
	if err := reconciler.Initialize(ctx); err != nil {
		return fmt.Errorf("error initializing reconciler: %w", err)
	}

	if *cfg.ReplayUnsyncedUsage {
		if _, err := reconciler.ReplayUnsynced(ctx, replayUsageLimit); err != nil {
			glog.Errorf("Error replaying unsynced usage err=%q", err)
		}
	}

	selector := server.NewNodeSelector(registry, server.ScoreSelectionAlgorithm{ShortlistSize: server.DefaultShortlistSize}, nil)
	proxy := worker.NewProxy(httpClient, registry, *cfg.RequestTimeout)
	srv := server.NewGatewayServer(registry, selector, proxy, reconciler)

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- srv.StartWebserver(*cfg.HttpAddr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		glog.Infof("Shutting down gateway")
	case runErr = <-srvErr:
		if runErr != nil {
			glog.Errorf("Web server stopped err=%q", runErr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		glog.Errorf("Error shutting down web server err=%q", err)
	}
	if err := reconciler.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func validateConfig(cfg GatewayConfig) error {
	if *cfg.EthUrl == "" || *cfg.RegistryAddr == "" || *cfg.StakingAddr == "" {
		return errMissingLedgerConfig
	}
	for name, addr := range map[string]string{"registryAddr": *cfg.RegistryAddr, "stakingAddr": *cfg.StakingAddr} {
		if !ethcommon.IsHexAddress(addr) {
			return fmt.Errorf("-%v is not a valid address: %q", name, addr)
		}
	}
	if *cfg.EthAcctAddr != "" && !ethcommon.IsHexAddress(*cfg.EthAcctAddr) {
		return fmt.Errorf("-ethAcctAddr is not a valid address: %q", *cfg.EthAcctAddr)
	}
	if *cfg.HealthCheckInterval <= 0 || *cfg.FlushInterval <= 0 || *cfg.CacheRefreshInterval <= 0 {
		return errors.New("intervals must be positive")
	}
	return nil
}

func prepareDatadir(datadir string) (string, error) {
	if datadir == "" {
		usr, err := user.Current()
		if err != nil {
			return "", fmt.Errorf("cannot find current user: %w", err)
		}
		datadir = filepath.Join(usr.HomeDir, ".llmgateway")
	}
	if _, err := os.Stat(datadir); os.IsNotExist(err) {
		glog.Infof("Creating datadir: %v", datadir)
		if err = os.MkdirAll(datadir, 0755); err != nil {
			return "", fmt.Errorf("error creating datadir: %w", err)
		}
	}
	return datadir, nil
}

func workerTransport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DialContext = (&net.Dialer{Timeout: common.HTTPDialTimeout}).DialContext
	return t
}

// newLedgerClient connects to the ledger and binds the contracts. Without a
// configured account the client is read-only.
func newLedgerClient(ctx context.Context, cfg GatewayConfig, datadir string) (eth.LedgerClient, error) {
	backend, err := eth.Dial(ctx, *cfg.EthUrl)
	if err != nil {
		return nil, err
	}
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("failed to get chain ID from remote ethereum node: %w", err)
	}
	glog.Infof("Connected to ledger url=%v chainID=%v", *cfg.EthUrl, chainID)

	var am eth.AccountManager
	if *cfg.EthKeystorePath != "" || *cfg.EthAcctAddr != "" {
		keystore, err := parseEthKeystorePath(*cfg.EthKeystorePath)
		if err != nil {
			backend.Close()
			return nil, err
		}
		acctAddr := ethcommon.HexToAddress(*cfg.EthAcctAddr)
		if (keystore.address != ethcommon.Address{}) {
			if (acctAddr != ethcommon.Address{}) && acctAddr != keystore.address {
				backend.Close()
				return nil, errors.New("-ethAcctAddr does not match the address in -ethKeystorePath")
			}
			acctAddr = keystore.address
		}
		keystoreDir := keystore.path
		if keystoreDir == "" {
			keystoreDir = filepath.Join(datadir, "keystore")
		}

		password, err := common.ReadSecret(*cfg.EthPassword)
		if err != nil {
			backend.Close()
			return nil, err
		}
		am, err = eth.NewAccountManager(acctAddr, keystoreDir, chainID, password)
		if err != nil {
			backend.Close()
			return nil, fmt.Errorf("error creating ETH account manager: %w", err)
		}
		if err := am.Unlock(password); err != nil {
			backend.Close()
			return nil, fmt.Errorf("error unlocking ETH account: %w", err)
		}
	}

	client, err := eth.NewClient(eth.LedgerClientConfig{
		AccountManager: am,
		Backend:        backend,
		RegistryAddr:   ethcommon.HexToAddress(*cfg.RegistryAddr),
		StakingAddr:    ethcommon.HexToAddress(*cfg.StakingAddr),
		TxTimeout:      *cfg.TxTimeout,
	})
	if err != nil {
		backend.Close()
		return nil, err
	}
	return client, nil
}

type keystorePath struct {
	path    string
	address ethcommon.Address
}

// parseEthKeystorePath accepts either a keystore directory or a single key file.
// For a key file the containing directory is used as the keystore.
func parseEthKeystorePath(ethKeystorePath string) (keystorePath, error) {
	var keystore = keystorePath{"", ethcommon.Address{}}
	if ethKeystorePath == "" {
		return keystore, nil
	}

	ethKeystorePath = strings.TrimSuffix(ethKeystorePath, "/")
	fileInfo, err := os.Stat(ethKeystorePath)
	if err != nil {
		return keystore, errors.New("provided -ethKeystorePath was not found")
	}

	if fileInfo.IsDir() {
		keystore.path = ethKeystorePath
		return keystore, nil
	}

	keystore.path = filepath.Dir(ethKeystorePath)
	keyJSON, err := os.ReadFile(ethKeystorePath)
	if err != nil {
		return keystore, errors.New("error opening keystore")
	}
	keystore.address, err = common.ParseKeystoreAddress(keyJSON)
	if err != nil {
		return keystore, err
	}
	return keystore, nil
}
