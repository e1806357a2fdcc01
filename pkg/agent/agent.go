package agent

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/sentinel/pkg/actor"
	"github.com/cuemby/sentinel/pkg/anomaly"
	"github.com/cuemby/sentinel/pkg/chain"
	"github.com/cuemby/sentinel/pkg/config"
	"github.com/cuemby/sentinel/pkg/decider"
	"github.com/cuemby/sentinel/pkg/events"
	"github.com/cuemby/sentinel/pkg/log"
	"github.com/cuemby/sentinel/pkg/metrics"
	"github.com/cuemby/sentinel/pkg/observer"
	"github.com/cuemby/sentinel/pkg/reasoner"
	"github.com/cuemby/sentinel/pkg/restorer"
	"github.com/cuemby/sentinel/pkg/store"
	"github.com/cuemby/sentinel/pkg/types"
)

// degradedThreshold is the number of consecutive failed observation ticks
// after which the agent slows its poll interval tenfold.
const degradedThreshold = 10

// Gateway is the full chain surface the agent and its sub-components drive.
// *chain.Adapter satisfies it; tests use an in-memory fake.
type Gateway interface {
	observer.ChainReader
	restorer.Pool

	PauseVault(ctx context.Context, reason string) (common.Hash, error)
	UnpauseVault(ctx context.Context) (common.Hash, error)
	BlockLiquidations(ctx context.Context) (common.Hash, error)
	UnblockLiquidations(ctx context.Context) (common.Hash, error)
	ForceUpdatePrice(ctx context.Context, price8 int64) (common.Hash, error)
	SignerBalance(ctx context.Context) (*big.Int, error)
}

// Agent owns the observe, filter, reason, decide, act loop and publishes
// every step into the event store and broker.
type Agent struct {
	cfg    *config.Config
	gw     Gateway
	store  *store.Store
	broker *events.Broker
	logger zerolog.Logger
	runID  string

	observer   *observer.Observer
	filter     *anomaly.Filter
	reasoner   *reasoner.Reasoner
	thresholds decider.Thresholds
	actor      *actor.Actor
	restorer   *restorer.Scheduler

	mu           sync.Mutex
	runCtx       context.Context
	threats      uint64
	actions      uint64
	failures     int
	degraded     bool
	restoreCycle uint64
	restoreBlock uint64
}

// New wires the pipeline. llm is the reasoner's model client; tests supply
// a deterministic fake.
func New(cfg *config.Config, gw Gateway, llm reasoner.Client, st *store.Store, broker *events.Broker) *Agent {
	a := &Agent{
		cfg:    cfg,
		gw:     gw,
		store:  st,
		broker: broker,
		logger: log.WithComponent("agent"),
		runID:  uuid.NewString(),
		runCtx: context.Background(),
	}

	a.observer = observer.New(gw)
	a.filter = anomaly.New(anomaly.Config{
		DeviationThresholdBps:   cfg.DeviationThresholdBps(),
		ExtremeMoveThresholdBps: cfg.ExtremeMoveThresholdBps(),
		LargeSwapWETH:           int64(cfg.LargeSwapWETH),
	})
	a.reasoner = reasoner.New(llm, reasoner.Config{
		CallTimeout:      cfg.LLMTimeout(),
		AnalyzedCapacity: cfg.AnalyzedEventsCapacity,
		HistoryDepth:     3,
	})
	a.thresholds = decider.Thresholds{
		Pause:            cfg.PauseConfidenceThreshold,
		BlockLiquidation: cfg.BlockLiquidationConfidenceThresh,
		PauseVault:       decider.DefaultThresholds().PauseVault,
	}
	a.actor = actor.New(gw, a.onActionResult)
	a.restorer = restorer.New(gw, restorer.Config{
		Delay:   cfg.RestoreDelay(),
		Repause: cfg.RepauseAfterRestore,
	}, a.onRestoreEvent)

	return a
}

// CheckSignerFunds verifies the signer can pay for protective transactions.
// A zero balance after retries is unrecoverable; callers exit with code 2.
func (a *Agent) CheckSignerFunds(ctx context.Context) error {
	var bal *big.Int
	err := chain.Retry(ctx, func() error {
		var e error
		bal, e = a.gw.SignerBalance(ctx)
		return e
	})
	if err != nil {
		return err
	}
	if bal == nil || bal.Sign() == 0 {
		return errors.New("signer account has no funds")
	}
	return nil
}

// Run drives the cycle loop until ctx is cancelled, then shuts the pipeline
// down in order: ticker, restore timer, actor drain.
func (a *Agent) Run(ctx context.Context) error {
	a.mu.Lock()
	a.runCtx = ctx
	a.mu.Unlock()

	a.record(types.Event{Kind: types.EventLifecycle, Lifecycle: &types.LifecycleEvent{
		State: types.LifecycleStarted,
		RunID: a.runID,
	}})
	metrics.RegisterComponent("agent", true, "")
	a.logger.Info().Str("run_id", a.runID).Dur("interval", a.cfg.PollInterval()).Msg("agent started")

	go a.actor.Run(ctx)

	base := a.cfg.PollInterval()
	ticker := time.NewTicker(base)
	defer ticker.Stop()

	degraded := false
	for {
		select {
		case <-ctx.Done():
			a.restorer.Cancel()
			<-a.actor.Done()
			a.record(types.Event{Kind: types.EventLifecycle, Lifecycle: &types.LifecycleEvent{
				State: types.LifecycleStopped,
				RunID: a.runID,
			}})
			a.logger.Info().Msg("agent stopped")
			return nil
		case <-ticker.C:
			a.Step(ctx)
			if d := a.isDegraded(); d != degraded {
				degraded = d
				if degraded {
					ticker.Reset(base * degradedThreshold)
				} else {
					ticker.Reset(base)
				}
			}
		}
	}
}

// Step runs one full cycle: observe, filter, reason, decide, enqueue.
func (a *Agent) Step(ctx context.Context) {
	snap, err := a.observer.Observe(ctx)
	if err != nil {
		a.observationFailed(err)
		return
	}
	a.observationSucceeded()

	metrics.CyclesTotal.Inc()
	metrics.OraclePrice.Set(types.PriceFloat(snap.OraclePrice))
	metrics.AMMSpotPrice.Set(types.PriceFloat(snap.AMMSpotPrice))
	metrics.PriceDeviation.Set(snap.DeviationPct())
	metrics.BoolGauge(metrics.AMMPaused, snap.AMMPaused)
	metrics.BoolGauge(metrics.VaultPaused, snap.VaultPaused)
	metrics.BoolGauge(metrics.LiquidationsBlocked, snap.LiquidationsBlocked)

	a.record(types.Event{
		Cycle:       snap.Cycle,
		Block:       snap.Block,
		Kind:        types.EventObservation,
		Observation: observationPayload(snap),
	})

	if !snap.Valid {
		// Malformed market state never reaches the filter or the decider.
		a.record(types.Event{
			Cycle: snap.Cycle,
			Block: snap.Block,
			Kind:  types.EventLifecycle,
			Lifecycle: &types.LifecycleEvent{
				State:   types.LifecycleError,
				Message: "invalid snapshot: " + snap.InvalidReason,
				RunID:   a.runID,
			},
		})
		a.logger.Warn().Str("reason", snap.InvalidReason).Uint64("cycle", snap.Cycle).Msg("cycle skipped")
		return
	}

	hist := a.observer.History()
	signal := a.filter.Check(snap, hist)
	if signal == nil {
		return
	}
	metrics.AnomaliesTotal.WithLabelValues(string(signal.Kind)).Inc()
	a.record(types.Event{
		Cycle:   snap.Cycle,
		Block:   snap.Block,
		Kind:    types.EventAnomaly,
		Anomaly: &types.AnomalyEvent{Signal: signal.Kind, Detail: signal.Detail},
	})

	callsBefore := a.reasoner.LLMCalls()
	callStart := time.Now()
	res := a.reasoner.Reason(ctx, snap, signal, hist)
	if a.reasoner.LLMCalls() > callsBefore {
		metrics.LLMCallsTotal.Inc()
		metrics.LLMCallDuration.Observe(time.Since(callStart).Seconds())
	}

	cls := res.Classification
	a.record(types.Event{
		Cycle: snap.Cycle,
		Block: snap.Block,
		Kind:  types.EventReasoning,
		Reasoning: &types.ReasoningEvent{
			Classification: cls.Kind,
			Confidence:     cls.Confidence,
			Explanation:    cls.Explanation,
			Evidence:       cls.Evidence,
			Source:         cls.Source,
			ParseFailure:   res.ParseFailure,
		},
	})
	if cls.IsThreat() && cls.Source == types.SourceLLM {
		metrics.ThreatsTotal.WithLabelValues(string(cls.Kind)).Inc()
		a.mu.Lock()
		a.threats++
		a.mu.Unlock()
	}

	intent := decider.Decide(a.thresholds, cls, snap.State())
	if intent.Action == types.ActionNone {
		a.logger.Debug().Str("rationale", intent.Rationale).Msg("no action")
		return
	}
	a.record(types.Event{
		Cycle: snap.Cycle,
		Block: snap.Block,
		Kind:  types.EventDecision,
		Decision: &types.DecisionEvent{
			Action:     intent.Action,
			Rationale:  intent.Rationale,
			Confidence: cls.Confidence,
		},
	})
	a.actor.Enqueue(intent, snap.State(), snap.Cycle, snap.Block)
}

func (a *Agent) observationFailed(err error) {
	metrics.ObservationFailures.Inc()
	a.logger.Error().Err(err).Msg("observation failed")

	a.mu.Lock()
	a.failures++
	hit := a.failures == degradedThreshold
	if hit {
		a.degraded = true
	}
	a.mu.Unlock()

	if hit {
		a.record(types.Event{Kind: types.EventLifecycle, Lifecycle: &types.LifecycleEvent{
			State:   types.LifecycleDegraded,
			Message: "repeated observation failures, slowing poll interval",
			RunID:   a.runID,
		}})
		metrics.UpdateComponent("agent", false, "degraded: chain unreachable")
		a.logger.Warn().Int("failures", degradedThreshold).Msg("agent degraded")
	}
}

func (a *Agent) observationSucceeded() {
	a.mu.Lock()
	wasDegraded := a.degraded
	a.failures = 0
	a.degraded = false
	a.mu.Unlock()

	if wasDegraded {
		a.record(types.Event{Kind: types.EventLifecycle, Lifecycle: &types.LifecycleEvent{
			State:   types.LifecycleRecovered,
			Message: "observation recovered, poll interval restored",
			RunID:   a.runID,
		}})
		metrics.UpdateComponent("agent", true, "")
		a.logger.Info().Msg("agent recovered")
	}
}

func (a *Agent) isDegraded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.degraded
}

// onActionResult runs on the actor worker goroutine for every executed
// intent, including redundant skips.
func (a *Agent) onActionResult(rec types.ActionRecord) {
	outcome := "failure"
	switch {
	case rec.Success && rec.TxHash != "":
		outcome = "success"
	case rec.Success:
		outcome = "skipped"
	}
	metrics.ActionsTotal.WithLabelValues(string(rec.Intent.Action), outcome).Inc()

	if rec.Success && rec.Intent.Action != types.ActionNone {
		a.mu.Lock()
		a.actions++
		a.mu.Unlock()
	}

	a.record(types.Event{
		Cycle: rec.Cycle,
		Block: rec.Block,
		Kind:  types.EventAction,
		Action: &types.ActionEvent{
			Action:     rec.Intent.Action,
			Success:    rec.Success,
			TxHash:     rec.TxHash,
			Reason:     rec.Reason,
			DurationMs: rec.Duration.Milliseconds(),
		},
	})

	// A freshly confirmed AMM pause schedules the automatic price restore.
	// Redundant skips do not re-arm; the original pause already did.
	if rec.Success && rec.Intent.Action == types.ActionPauseAMM && rec.TxHash != "" {
		a.mu.Lock()
		ctx := a.runCtx
		a.restoreCycle = rec.Cycle
		a.restoreBlock = rec.Block
		a.mu.Unlock()
		a.restorer.Arm(ctx)
	}
}

// onRestoreEvent stamps the restore with the cycle and block of the pause
// that armed it.
func (a *Agent) onRestoreEvent(ev types.RestoreEvent) {
	outcome := "failure"
	if ev.Success {
		outcome = "success"
	}
	metrics.RestoresTotal.WithLabelValues(outcome).Inc()
	a.mu.Lock()
	cycle, block := a.restoreCycle, a.restoreBlock
	a.mu.Unlock()
	a.record(types.Event{
		Cycle:   cycle,
		Block:   block,
		Kind:    types.EventRestore,
		Restore: &ev,
	})
}

// record appends to the store and broadcasts the stored copy, in that order,
// so subscribers always see store-assigned ids.
func (a *Agent) record(ev types.Event) types.Event {
	stored := a.store.Append(ev)
	metrics.EventsTotal.Inc()
	a.broker.Publish(stored)
	return stored
}

func observationPayload(snap *types.Snapshot) *types.ObservationEvent {
	payload := &types.ObservationEvent{
		OraclePrice:         types.PriceFloat(snap.OraclePrice),
		AMMPrice:            types.PriceFloat(snap.AMMSpotPrice),
		DeviationPct:        snap.DeviationPct(),
		SwapCount:           snap.SwapCount,
		OracleUpdates:       snap.OracleUpdates,
		LiquidationSeen:     snap.LiquidationSeen,
		AMMPaused:           snap.AMMPaused,
		VaultPaused:         snap.VaultPaused,
		LiquidationsBlocked: snap.LiquidationsBlocked,
		Valid:               snap.Valid,
	}
	if snap.WETHReserve != nil {
		payload.WETHReserve = bigFloat(snap.WETHReserve, types.WETHDecimals)
	}
	if snap.USDCReserve != nil {
		payload.USDCReserve = bigFloat(snap.USDCReserve, types.USDCDecimals)
	}
	return payload
}

// bigFloat converts a raw token amount to a display float.
func bigFloat(v *big.Int, decimals int64) float64 {
	f := new(big.Float).SetInt(v)
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(decimals), nil))
	out, _ := new(big.Float).Quo(f, scale).Float64()
	return out
}

// Latest implements the API read surface.
func (a *Agent) Latest() *types.Snapshot { return a.observer.Latest() }

// Since implements the API read surface.
func (a *Agent) Since(t time.Time) []*types.Snapshot { return a.observer.Since(t) }

// Counters returns the running threat and action totals.
func (a *Agent) Counters() (threats, actions uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.threats, a.actions
}
