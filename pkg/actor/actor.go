// Package actor executes protective intents against the chain. A single
// worker serializes all submissions; a depth-one pending slot coalesces
// bursts, keeping only the most restrictive waiting intent.
package actor

import (
	"context"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/cuemby/sentinel/pkg/chain"
	"github.com/cuemby/sentinel/pkg/log"
	"github.com/cuemby/sentinel/pkg/types"
)

// drainTimeout bounds how long shutdown waits for an in-flight transaction.
const drainTimeout = 30 * time.Second

// ReasonAlreadyInTargetState is the skip reason for redundant intents.
const ReasonAlreadyInTargetState = "already in target state"

// Writer is the transaction surface the actor drives.
type Writer interface {
	PauseAMM(ctx context.Context) (common.Hash, error)
	PauseVault(ctx context.Context, reason string) (common.Hash, error)
	BlockLiquidations(ctx context.Context) (common.Hash, error)
}

// request pairs an intent with the chain state observed when it was decided.
type request struct {
	intent types.Intent
	state  types.ChainState
	cycle  uint64
	block  uint64
}

// Actor owns the worker goroutine and the pending slot.
type Actor struct {
	writer   Writer
	onResult func(types.ActionRecord)
	logger   zerolog.Logger

	requests chan request
	done     chan struct{}
}

// New builds an actor. onResult receives every ActionRecord, including
// redundant skips, on the worker goroutine.
func New(writer Writer, onResult func(types.ActionRecord)) *Actor {
	return &Actor{
		writer:   writer,
		onResult: onResult,
		logger:   log.WithComponent("actor"),
		requests: make(chan request, 1),
		done:     make(chan struct{}),
	}
}

// Enqueue hands an intent to the worker. If another intent is already
// waiting, the more restrictive of the two keeps the slot.
func (a *Actor) Enqueue(intent types.Intent, state types.ChainState, cycle, block uint64) {
	req := request{intent: intent, state: state, cycle: cycle, block: block}
	for {
		select {
		case a.requests <- req:
			return
		default:
		}
		select {
		case pending := <-a.requests:
			if pending.intent.Action.Severity() > req.intent.Action.Severity() {
				req = pending
			}
		default:
		}
	}
}

// Run processes intents until ctx is cancelled, then drains the pending
// slot with a bounded deadline.
func (a *Actor) Run(ctx context.Context) {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			a.drain()
			return
		case req := <-a.requests:
			// Detached from the run context: an in-flight transaction gets
			// the full drain deadline to confirm even if shutdown starts
			// mid-submission.
			execCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
			record := a.Execute(execCtx, req.intent, req.state, req.cycle, req.block)
			cancel()
			if a.onResult != nil {
				a.onResult(record)
			}
		}
	}
}

// Done is closed once the worker has fully stopped.
func (a *Actor) Done() <-chan struct{} { return a.done }

func (a *Actor) drain() {
	select {
	case req := <-a.requests:
		ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		record := a.Execute(ctx, req.intent, req.state, req.cycle, req.block)
		if a.onResult != nil {
			a.onResult(record)
		}
	default:
	}
}

// Execute performs one intent synchronously and returns its record. It is
// exported for the admin paths; the worker is the only caller in the normal
// cycle.
func (a *Actor) Execute(ctx context.Context, intent types.Intent, state types.ChainState, cycle, block uint64) types.ActionRecord {
	start := time.Now()
	record := types.ActionRecord{Intent: intent, Cycle: cycle, Block: block}

	if intent.Action == types.ActionNone {
		record.Success = true
		record.Reason = "nothing to do"
		record.Duration = time.Since(start)
		return record
	}

	if inTargetState(intent.Action, state) {
		record.Success = true
		record.Reason = ReasonAlreadyInTargetState
		record.Duration = time.Since(start)
		a.logger.Info().Str("action", string(intent.Action)).Msg("skipping redundant intent")
		return record
	}

	var hash common.Hash
	err := chain.Retry(ctx, func() error {
		var submitErr error
		hash, submitErr = a.submit(ctx, intent)
		return submitErr
	})

	record.Duration = time.Since(start)
	switch {
	case err == nil:
		record.Success = true
		record.TxHash = hash.Hex()
		a.logger.Info().
			Str("action", string(intent.Action)).
			Str("tx", record.TxHash).
			Dur("took", record.Duration).
			Msg("protective action confirmed")
	case revertMatchesTarget(intent.Action, err):
		// The contract was already in the target state; someone else got
		// there first. Treat as success.
		record.Success = true
		record.Reason = chain.RevertReason(err)
		a.logger.Info().Str("action", string(intent.Action)).Str("revert", record.Reason).Msg("target state already reached on chain")
	default:
		record.Reason = err.Error()
		a.logger.Error().Err(err).Str("action", string(intent.Action)).Msg("protective action failed")
	}
	return record
}

func (a *Actor) submit(ctx context.Context, intent types.Intent) (common.Hash, error) {
	switch intent.Action {
	case types.ActionPauseAMM:
		return a.writer.PauseAMM(ctx)
	case types.ActionPauseVault:
		return a.writer.PauseVault(ctx, intent.Rationale)
	case types.ActionBlockLiquidations:
		return a.writer.BlockLiquidations(ctx)
	default:
		return common.Hash{}, &chain.PermanentError{Op: string(intent.Action), Err: errUnsupported}
	}
}

var errUnsupported = &unsupportedError{}

type unsupportedError struct{}

func (*unsupportedError) Error() string { return "unsupported action" }

func inTargetState(action types.ActionType, state types.ChainState) bool {
	switch action {
	case types.ActionPauseAMM:
		return state.AMMPaused
	case types.ActionPauseVault:
		return state.VaultPaused
	case types.ActionBlockLiquidations:
		return state.LiquidationsBlocked
	}
	return false
}

// revertMatchesTarget reports whether a permanent revert indicates the
// contract already reached the intended state.
func revertMatchesTarget(action types.ActionType, err error) bool {
	reason := strings.ToLower(chain.RevertReason(err))
	if reason == "" {
		return false
	}
	switch action {
	case types.ActionPauseAMM, types.ActionPauseVault:
		return strings.Contains(reason, "already paused") || reason == "paused"
	case types.ActionBlockLiquidations:
		return strings.Contains(reason, "already blocked")
	}
	return false
}
