package server

import (
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/golang/glog"
	"github.com/livepeer/go-llm-gateway/core"
)

type workerStatus struct {
	Address         string   `json:"address"`
	Endpoint        string   `json:"endpoint"`
	Healthy         bool     `json:"healthy"`
	LatencyMs       int64    `json:"latencyMs"`
	LastHealthCheck string   `json:"lastHealthCheck,omitempty"`
	Models          []string `json:"models"`
}

type statusResponse struct {
	core.HealthSummary
	Initialized     bool           `json:"initialized"`
	PendingRequests int64          `json:"pendingRequests"`
	Workers         []workerStatus `json:"workers"`
}

func statusHandler(registry *core.Registry, reconciler *core.Reconciler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if registry == nil {
			logAndRespondWithError(w, "missing worker registry", http.StatusInternalServerError)
			return
		}

		res := statusResponse{
			HealthSummary: registry.GetHealthySummary(),
			Workers:       []workerStatus{},
		}
		for _, n := range registry.GetAllNodes() {
			ws := workerStatus{
				Address:   n.Address.Hex(),
				Endpoint:  n.Endpoint,
				Healthy:   n.IsHealthy,
				LatencyMs: n.LatencyMs,
				Models:    n.SupportedModels,
			}
			if !n.LastHealthCheck.IsZero() {
				ws.LastHealthCheck = humanize.RelTime(n.LastHealthCheck, time.Now(), "ago", "from now")
			}
			res.Workers = append(res.Workers, ws)
		}
		if reconciler != nil {
			res.Initialized = reconciler.IsInitialized()
			for _, b := range reconciler.PendingUsage() {
				res.PendingRequests += b.Requests
			}
		}
		respondJson(w, res, http.StatusOK)
	})
}

type operatorDetailsResponse struct {
	*core.OperatorDetails
	StakeAmountFormatted    string `json:"stakeAmountFormatted"`
	PendingRewardsFormatted string `json:"pendingRewardsFormatted,omitempty"`
}

func operatorDetailsHandler(reconciler *core.Reconciler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr, ok := parseAddress(w, r)
		if !ok {
			return
		}
		if reconciler == nil {
			logAndRespondWithError(w, "missing ledger reconciler", http.StatusInternalServerError)
			return
		}

		details, err := reconciler.GetOperatorDetails(r.Context(), addr)
		if errors.Is(err, core.ErrOperatorNotFound) {
			logAndRespondWithError(w, "operator not found", http.StatusNotFound)
			return
		}
		if err != nil {
			glog.Error(err)
			logAndRespondWithError(w, "could not query operator details", http.StatusInternalServerError)
			return
		}

		res := operatorDetailsResponse{
			OperatorDetails:      details,
			StakeAmountFormatted: formatAmount(details.StakeAmount),
		}
		if details.PendingRewards != nil {
			res.PendingRewardsFormatted = formatAmount(details.PendingRewards)
		}
		respondJson(w, res, http.StatusOK)
	})
}

type epochStatsResponse struct {
	Address          string   `json:"address"`
	Requests         *big.Int `json:"requests"`
	Successful       *big.Int `json:"successful"`
	AvgLatencyMs     *big.Int `json:"avgLatencyMs"`
	WeightedRequests *big.Int `json:"weightedRequests"`
	EstimatedReward  *big.Int `json:"estimatedReward"`
	SuccessRate      string   `json:"successRate"`
}

func epochStatsHandler(reconciler *core.Reconciler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr, ok := parseAddress(w, r)
		if !ok {
			return
		}
		if reconciler == nil {
			logAndRespondWithError(w, "missing ledger reconciler", http.StatusInternalServerError)
			return
		}

		stats := reconciler.GetCurrentEpochStats(r.Context(), addr)
		res := epochStatsResponse{
			Address:          addr.Hex(),
			Requests:         stats.Requests,
			Successful:       stats.Successful,
			AvgLatencyMs:     stats.AvgLatencyMs,
			WeightedRequests: stats.WeightedRequests,
			EstimatedReward:  stats.EstimatedReward,
			SuccessRate:      "n/a",
		}
		if stats.Requests != nil && stats.Requests.Sign() > 0 && stats.Successful != nil {
			rate, _ := new(big.Rat).SetFrac(stats.Successful, stats.Requests).Float64()
			res.SuccessRate = humanize.FormatFloat("#.##", rate*100) + "%"
		}
		respondJson(w, res, http.StatusOK)
	})
}

func parseAddress(w http.ResponseWriter, r *http.Request) (ethcommon.Address, bool) {
	raw := r.PathValue("addr")
	if !ethcommon.IsHexAddress(raw) {
		logAndRespondWithError(w, "invalid operator address", http.StatusBadRequest)
		return ethcommon.Address{}, false
	}
	return ethcommon.HexToAddress(raw), true
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return humanize.BigComma(v)
}
