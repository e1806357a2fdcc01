package reasoner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/sentinel/pkg/log"
	"github.com/cuemby/sentinel/pkg/types"
)

// Client is the language model behind the reasoner. Production uses the
// Gemini REST client; tests supply a deterministic fake.
type Client interface {
	// Generate sends one prompt and returns the raw text reply.
	Generate(ctx context.Context, prompt string) (string, error)
}

// Config tunes the reasoner's call budget and cache bounds.
type Config struct {
	CallTimeout      time.Duration
	AnalyzedCapacity int
	HistoryDepth     int // price history snapshots included in the prompt
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		CallTimeout:      10 * time.Second,
		AnalyzedCapacity: 1000,
		HistoryDepth:     3,
	}
}

// Reasoner owns the LLM client and the three dedup structures. All cache
// state is process-local and resets on restart.
type Reasoner struct {
	client Client
	cfg    Config
	logger zerolog.Logger

	mu              sync.Mutex
	lastLLMBlock    uint64
	hasLLMBlock     bool
	lastContextHash string
	analyzed        map[string]struct{}
	analyzedOrder   []string
	llmCalls        uint64
}

// New builds a reasoner around the given LLM client.
func New(client Client, cfg Config) *Reasoner {
	if cfg.AnalyzedCapacity <= 0 {
		cfg.AnalyzedCapacity = 1000
	}
	if cfg.HistoryDepth <= 0 {
		cfg.HistoryDepth = 3
	}
	return &Reasoner{
		client:   client,
		cfg:      cfg,
		logger:   log.WithComponent("reasoner"),
		analyzed: make(map[string]struct{}),
	}
}

// LLMCalls returns how many model calls have been issued.
func (r *Reasoner) LLMCalls() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.llmCalls
}

// Result carries the classification plus whether the reply failed to parse,
// for the ReasoningEvent.
type Result struct {
	Classification types.Classification
	ParseFailure   bool
}

func skip(reason string) Result {
	return Result{Classification: types.Classification{
		Kind:        types.ClassNatural,
		Confidence:  0,
		Explanation: reason,
		Source:      types.SourceDedupSkip,
	}}
}

// Reason classifies an anomalous snapshot. Dedup stages run in order: block,
// context digest, liquidation event key. Dedup state advances only when a
// model reply was actually obtained, so transport failures retry next cycle.
func (r *Reasoner) Reason(ctx context.Context, snap *types.Snapshot, signal *types.AnomalySignal, hist []*types.Snapshot) Result {
	r.mu.Lock()

	if r.hasLLMBlock && snap.Block == r.lastLLMBlock {
		r.mu.Unlock()
		return skip("same block already analyzed")
	}

	prompt, digest := r.buildPrompt(snap, signal, hist)
	if digest == r.lastContextHash {
		r.mu.Unlock()
		return skip("identical context already analyzed")
	}

	var liqKey string
	if signal.Kind == types.SignalUnfairLiquidation {
		liqKey = fmt.Sprintf("liq:%s:%d", signal.LiquidatedUser, signal.Block)
		if _, seen := r.analyzed[liqKey]; seen {
			r.mu.Unlock()
			return skip("liquidation already analyzed")
		}
	}

	r.llmCalls++
	r.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()

	reply, err := r.client.Generate(callCtx, prompt)
	if err != nil {
		// Transport failure: no dedup update, the next cycle may retry.
		r.logger.Warn().Err(err).Uint64("block", snap.Block).Msg("llm call failed")
		return Result{Classification: types.Classification{
			Kind:        types.ClassUnknownAnomaly,
			Confidence:  0.5,
			Explanation: "LLM unavailable",
			Source:      types.SourceLLM,
		}}
	}

	cls, parseErr := ParseReply(reply)

	r.mu.Lock()
	r.lastLLMBlock = snap.Block
	r.hasLLMBlock = true
	r.lastContextHash = digest
	if liqKey != "" && parseErr == nil {
		r.rememberLocked(liqKey)
	}
	r.mu.Unlock()

	if parseErr != nil {
		r.logger.Warn().Err(parseErr).Uint64("block", snap.Block).Msg("unparseable llm reply")
		return Result{
			Classification: types.Classification{
				Kind:        types.ClassUnknownAnomaly,
				Confidence:  0.5,
				Explanation: "parse failure",
				Source:      types.SourceLLM,
			},
			ParseFailure: true,
		}
	}

	r.logger.Info().
		Str("classification", string(cls.Kind)).
		Float64("confidence", cls.Confidence).
		Uint64("block", snap.Block).
		Msg("llm verdict")
	return Result{Classification: cls}
}

func (r *Reasoner) rememberLocked(key string) {
	if _, ok := r.analyzed[key]; ok {
		return
	}
	r.analyzed[key] = struct{}{}
	r.analyzedOrder = append(r.analyzedOrder, key)
	for len(r.analyzedOrder) > r.cfg.AnalyzedCapacity {
		oldest := r.analyzedOrder[0]
		r.analyzedOrder = r.analyzedOrder[1:]
		delete(r.analyzed, oldest)
	}
}

// promptContext is the deterministic structure serialized into the prompt.
// encoding/json emits struct fields in declaration order, so equal market
// states always produce equal digests. The block number is deliberately
// absent: the block dedup stage handles same-block repeats, and the digest
// stage must catch an unchanged market on later blocks. The flip side is
// that a verdict, however low its confidence, stands for as long as the
// market state stays byte-identical; only a change in reserves, prices,
// activity, or flags triggers re-analysis.
type promptContext struct {
	OraclePrice     int64    `json:"oracle_price"`
	OracleTWAP      int64    `json:"oracle_twap"`
	AMMSpotPrice    int64    `json:"amm_spot_price"`
	DeviationBps    int64    `json:"deviation_bps"`
	SwapCount       int      `json:"swap_count"`
	OracleUpdates   int      `json:"oracle_updates"`
	LiquidationSeen bool     `json:"liquidation_seen"`
	AMMPaused       bool     `json:"amm_paused"`
	VaultPaused     bool     `json:"vault_paused"`
	Signal          string   `json:"signal"`
	SignalDetail    string   `json:"signal_detail"`
	PriceHistory    []int64  `json:"price_history"`
	Decimals        int      `json:"price_decimals"`
}

func (r *Reasoner) buildPrompt(snap *types.Snapshot, signal *types.AnomalySignal, hist []*types.Snapshot) (prompt, digest string) {
	pc := promptContext{
		OraclePrice:     snap.OraclePrice,
		OracleTWAP:      snap.OracleTWAP,
		AMMSpotPrice:    snap.AMMSpotPrice,
		DeviationBps:    snap.DeviationBps,
		SwapCount:       snap.SwapCount,
		OracleUpdates:   snap.OracleUpdates,
		LiquidationSeen: snap.LiquidationSeen,
		AMMPaused:       snap.AMMPaused,
		VaultPaused:     snap.VaultPaused,
		Signal:          string(signal.Kind),
		SignalDetail:    signal.Detail,
		Decimals:        types.PriceDecimals,
	}
	start := len(hist) - r.cfg.HistoryDepth
	if start < 0 {
		start = 0
	}
	for _, s := range hist[start:] {
		pc.PriceHistory = append(pc.PriceHistory, s.AMMSpotPrice)
	}

	ctxJSON, _ := json.Marshal(pc)

	sum := sha256.Sum256(ctxJSON)
	digest = hex.EncodeToString(sum[:16])

	prompt = fmt.Sprintf(`You are a DeFi security analyst monitoring a WETH/USDC lending protocol.
A deterministic filter flagged the current market state as suspicious.

Market state (prices are fixed-point integers with %d decimals):
%s

Classify the situation. Respond with ONLY a JSON object, no prose:
{
  "classification": "NATURAL" | "FLASH_LOAN_ATTACK" | "ORACLE_MANIPULATION" | "SANDWICH" | "UNKNOWN_ANOMALY",
  "confidence": <number between 0 and 1>,
  "explanation": "<one or two sentences>",
  "evidence": ["<short observation>", ...]
}`, types.PriceDecimals, ctxJSON)

	return prompt, digest
}
