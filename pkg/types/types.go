package types

import (
	"math/big"
	"time"
)

// PriceDecimals is the fixed-point scale for all USD prices (oracle and AMM
// spot). A price of $2000 is stored as 2000e8.
const PriceDecimals = 8

// PriceScale is 10^PriceDecimals.
const PriceScale = int64(100_000_000)

// Token decimal scales as deployed.
const (
	WETHDecimals = 18
	USDCDecimals = 6
)

// SignalKind identifies which deterministic anomaly rule fired.
type SignalKind string

const (
	SignalLargeDeviation        SignalKind = "LARGE_DEVIATION"
	SignalMultipleOracleUpdates SignalKind = "MULTIPLE_ORACLE_UPDATES"
	SignalAttackSwapPattern     SignalKind = "ATTACK_SWAP_PATTERN"
	SignalSameBlockRecovery     SignalKind = "SAME_BLOCK_RECOVERY"
	SignalUnfairLiquidation     SignalKind = "UNFAIR_LIQUIDATION"
	SignalExtremeMove           SignalKind = "EXTREME_MOVE"
)

// AnomalySignal is the non-nil result of the deterministic filter.
type AnomalySignal struct {
	Kind   SignalKind
	Detail string

	// Populated for UNFAIR_LIQUIDATION so the reasoner can build the
	// liq:{user}:{block} dedup key.
	LiquidatedUser string
	Block          uint64
}

// Snapshot is the immutable per-cycle market state. Prices are 8-decimal
// fixed point int64, reserves are raw token units (big.Int), and deviation
// is signed basis points. No floating point feeds the filter, decider or
// restore math.
type Snapshot struct {
	Cycle     uint64
	Timestamp time.Time // UTC
	Block     uint64

	OraclePrice  int64 // 8 decimals
	OracleTWAP   int64 // 8 decimals, 0 when unavailable
	AMMSpotPrice int64 // 8 decimals

	WETHReserve *big.Int // 18 decimals
	USDCReserve *big.Int // 6 decimals

	// DeviationBps = (oracle - amm) / oracle in signed basis points.
	DeviationBps int64

	SwapCount     int
	OracleUpdates int

	LiquidationSeen bool
	LiquidatedUser  string

	// LargestSwapWETH is the biggest single swap input observed since the
	// previous snapshot, in WETH wei (USDC inputs converted at oracle price).
	LargestSwapWETH *big.Int

	AMMPaused           bool
	VaultPaused         bool
	LiquidationsBlocked bool

	Valid         bool
	InvalidReason string
}

// DeviationPct returns the signed deviation as a percent for display.
func (s *Snapshot) DeviationPct() float64 {
	return float64(s.DeviationBps) / 100.0
}

// State extracts the on-chain protection flags the decider keys on.
func (s *Snapshot) State() ChainState {
	return ChainState{
		AMMPaused:           s.AMMPaused,
		VaultPaused:         s.VaultPaused,
		LiquidationsBlocked: s.LiquidationsBlocked,
	}
}

// PriceFloat converts an 8-decimal fixed-point price to USD for display.
func PriceFloat(p int64) float64 {
	return float64(p) / float64(PriceScale)
}

// ChainState is the last observed protection state of the contracts.
type ChainState struct {
	AMMPaused           bool
	VaultPaused         bool
	LiquidationsBlocked bool
}

// ClassificationKind is the threat label produced by the reasoner.
type ClassificationKind string

const (
	ClassNatural            ClassificationKind = "NATURAL"
	ClassFlashLoanAttack    ClassificationKind = "FLASH_LOAN_ATTACK"
	ClassOracleManipulation ClassificationKind = "ORACLE_MANIPULATION"
	ClassSandwich           ClassificationKind = "SANDWICH"
	ClassUnknownAnomaly     ClassificationKind = "UNKNOWN_ANOMALY"
)

// ValidClassification reports whether k is a known threat label.
func ValidClassification(k ClassificationKind) bool {
	switch k {
	case ClassNatural, ClassFlashLoanAttack, ClassOracleManipulation,
		ClassSandwich, ClassUnknownAnomaly:
		return true
	}
	return false
}

// ClassificationSource records how a classification was produced.
type ClassificationSource string

const (
	SourceDeterministicSkip ClassificationSource = "deterministic_skip"
	SourceDedupSkip         ClassificationSource = "dedup_skip"
	SourceLLM               ClassificationSource = "llm"
)

// Classification is the reasoner's verdict for one cycle.
//
// Invariant: when Source != SourceLLM, Kind is NATURAL and Confidence is 0.
type Classification struct {
	Kind        ClassificationKind
	Confidence  float64
	Explanation string
	Evidence    []string
	Source      ClassificationSource
}

// IsThreat reports whether the classification names an attack pattern.
func (c Classification) IsThreat() bool {
	return c.Kind != ClassNatural
}

// ActionType is a protective action the agent can take on-chain.
type ActionType string

const (
	ActionNone              ActionType = "NONE"
	ActionPauseAMM          ActionType = "PAUSE_AMM"
	ActionBlockLiquidations ActionType = "BLOCK_LIQUIDATIONS"
	ActionPauseVault        ActionType = "PAUSE_VAULT"
	ActionRestore           ActionType = "RESTORE"
)

// Severity orders actions for coalescing and tie-breaks. Higher is more
// restrictive: PAUSE_VAULT > PAUSE_AMM > BLOCK_LIQUIDATIONS > RESTORE > NONE.
func (a ActionType) Severity() int {
	switch a {
	case ActionPauseVault:
		return 4
	case ActionPauseAMM:
		return 3
	case ActionBlockLiquidations:
		return 2
	case ActionRestore:
		return 1
	default:
		return 0
	}
}

// Intent is the decider's chosen action plus its justification.
type Intent struct {
	Action        ActionType
	Rationale     string
	MinConfidence float64
}

// ActionRecord is the actor's result for one executed intent.
type ActionRecord struct {
	Intent   Intent
	Success  bool
	TxHash   string // empty on skip or failure
	Reason   string // failure reason, or "already in target state" on skip
	Cycle    uint64
	Block    uint64
	Duration time.Duration
}

// EventKind tags entries in the event store.
type EventKind string

const (
	EventObservation EventKind = "observation"
	EventAnomaly     EventKind = "anomaly"
	EventReasoning   EventKind = "reasoning"
	EventDecision    EventKind = "decision"
	EventAction      EventKind = "action"
	EventRestore     EventKind = "restore"
	EventLifecycle   EventKind = "lifecycle"
)

// Event is the tagged union stored in the event log. Exactly one payload
// pointer matching Kind is non-nil.
type Event struct {
	ID        uint64    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Cycle     uint64    `json:"cycle"`
	Block     uint64    `json:"block"`
	Kind      EventKind `json:"kind"`

	Observation *ObservationEvent `json:"observation,omitempty"`
	Anomaly     *AnomalyEvent     `json:"anomaly,omitempty"`
	Reasoning   *ReasoningEvent   `json:"reasoning,omitempty"`
	Decision    *DecisionEvent    `json:"decision,omitempty"`
	Action      *ActionEvent      `json:"action,omitempty"`
	Restore     *RestoreEvent     `json:"restore,omitempty"`
	Lifecycle   *LifecycleEvent   `json:"lifecycle,omitempty"`
}

// ObservationEvent carries the dashboard view of a snapshot. Prices are USD
// floats here; this payload is display-only and never feeds decision math.
type ObservationEvent struct {
	OraclePrice         float64 `json:"oracle_price"`
	AMMPrice            float64 `json:"amm_price"`
	DeviationPct        float64 `json:"price_deviation"`
	WETHReserve         float64 `json:"weth_reserve"`
	USDCReserve         float64 `json:"usdc_reserve"`
	SwapCount           int     `json:"swap_count"`
	OracleUpdates       int     `json:"oracle_updates"`
	LiquidationSeen     bool    `json:"liquidation_seen"`
	AMMPaused           bool    `json:"amm_paused"`
	VaultPaused         bool    `json:"vault_paused"`
	LiquidationsBlocked bool    `json:"liquidations_blocked"`
	Valid               bool    `json:"valid"`
}

// AnomalyEvent records a deterministic filter hit.
type AnomalyEvent struct {
	Signal SignalKind `json:"signal"`
	Detail string     `json:"detail"`
}

// ReasoningEvent records the reasoner's classification for a cycle.
type ReasoningEvent struct {
	Classification ClassificationKind   `json:"classification"`
	Confidence     float64              `json:"confidence"`
	Explanation    string               `json:"explanation"`
	Evidence       []string             `json:"evidence,omitempty"`
	Source         ClassificationSource `json:"source"`
	ParseFailure   bool                 `json:"parse_failure,omitempty"`
}

// DecisionEvent records the decider's output when it is not NONE.
type DecisionEvent struct {
	Action     ActionType `json:"action"`
	Rationale  string     `json:"rationale"`
	Confidence float64    `json:"confidence"`
}

// ActionEvent records the outcome of an executed intent.
type ActionEvent struct {
	Action     ActionType `json:"action"`
	Success    bool       `json:"success"`
	TxHash     string     `json:"tx_hash,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	DurationMs int64      `json:"duration_ms"`
}

// RestoreEvent records a price restoration attempt.
type RestoreEvent struct {
	Success     bool    `json:"success"`
	TxHash      string  `json:"tx_hash,omitempty"`
	PriceBefore float64 `json:"price_before"`
	PriceAfter  float64 `json:"price_after"`
	Repaused    bool    `json:"repaused"`
	Message     string  `json:"message,omitempty"`
}

// LifecycleState is an agent lifecycle transition.
type LifecycleState string

const (
	LifecycleStarted   LifecycleState = "STARTED"
	LifecycleStopped   LifecycleState = "STOPPED"
	LifecycleError     LifecycleState = "ERROR"
	LifecycleDegraded  LifecycleState = "DEGRADED"
	LifecycleRecovered LifecycleState = "RECOVERED"
)

// LifecycleEvent records agent start/stop/degradation transitions.
type LifecycleEvent struct {
	State   LifecycleState `json:"state"`
	Message string         `json:"message,omitempty"`
	RunID   string         `json:"run_id,omitempty"`
}
