package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Observation metrics
	CyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_cycles_total",
			Help: "Total number of observation cycles completed",
		},
	)

	ObservationFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_observation_failures_total",
			Help: "Total number of failed observation ticks",
		},
	)

	OraclePrice = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_oracle_price_usd",
			Help: "Last observed oracle price in USD",
		},
	)

	AMMSpotPrice = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_amm_spot_price_usd",
			Help: "Last observed AMM spot price in USD",
		},
	)

	PriceDeviation = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_price_deviation_pct",
			Help: "Signed oracle/AMM price deviation percent",
		},
	)

	// Reasoner metrics
	AnomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_anomalies_total",
			Help: "Total anomaly signals by kind",
		},
		[]string{"signal"},
	)

	LLMCallsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_llm_calls_total",
			Help: "Total language model calls issued",
		},
	)

	LLMCallDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sentinel_llm_call_duration_seconds",
			Help:    "Language model call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ThreatsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_threats_total",
			Help: "Total non-natural classifications by kind",
		},
		[]string{"classification"},
	)

	// Actor metrics
	ActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_actions_total",
			Help: "Total protective actions by type and outcome",
		},
		[]string{"action", "outcome"},
	)

	RestoresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_restores_total",
			Help: "Total price restoration attempts by outcome",
		},
		[]string{"outcome"},
	)

	// Contract state
	AMMPaused = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_amm_paused",
			Help: "Whether the AMM is paused (1 = paused)",
		},
	)

	VaultPaused = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_vault_paused",
			Help: "Whether the vault is paused (1 = paused)",
		},
	)

	LiquidationsBlocked = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_liquidations_blocked",
			Help: "Whether vault liquidations are blocked (1 = blocked)",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	WebsocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_websocket_clients",
			Help: "Currently connected WebSocket clients",
		},
	)

	// Event store metrics
	EventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_events_total",
			Help: "Total events appended to the store",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(CyclesTotal)
	prometheus.MustRegister(ObservationFailures)
	prometheus.MustRegister(OraclePrice)
	prometheus.MustRegister(AMMSpotPrice)
	prometheus.MustRegister(PriceDeviation)
	prometheus.MustRegister(AnomaliesTotal)
	prometheus.MustRegister(LLMCallsTotal)
	prometheus.MustRegister(LLMCallDuration)
	prometheus.MustRegister(ThreatsTotal)
	prometheus.MustRegister(ActionsTotal)
	prometheus.MustRegister(RestoresTotal)
	prometheus.MustRegister(AMMPaused)
	prometheus.MustRegister(VaultPaused)
	prometheus.MustRegister(LiquidationsBlocked)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(WebsocketClients)
	prometheus.MustRegister(EventsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// BoolGauge sets a gauge from a boolean flag.
func BoolGauge(g prometheus.Gauge, v bool) {
	if v {
		g.Set(1)
	} else {
		g.Set(0)
	}
}
