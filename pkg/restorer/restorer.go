// Package restorer drives the AMM spot price back to the oracle price after
// a defensive pause. One timer is armed per confirmed pause; a newer attack
// re-arms it, and at most one restore task is ever active.
package restorer

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/cuemby/sentinel/pkg/chain"
	"github.com/cuemby/sentinel/pkg/log"
	"github.com/cuemby/sentinel/pkg/observer"
	"github.com/cuemby/sentinel/pkg/types"
)

// Pool is the chain surface the restore task needs.
type Pool interface {
	OraclePrice(ctx context.Context) (chain.OracleReading, error)
	AMMReserves(ctx context.Context) (chain.Reserves, error)
	AMMPaused(ctx context.Context) (bool, error)
	UnpauseAMM(ctx context.Context) (common.Hash, error)
	PauseAMM(ctx context.Context) (common.Hash, error)
	SwapWethForUsdc(ctx context.Context, wethIn *big.Int) (common.Hash, error)
	SwapUsdcForWeth(ctx context.Context, usdcIn *big.Int) (common.Hash, error)
}

// Config tunes the scheduler.
type Config struct {
	Delay   time.Duration // pause-to-restore delay, default 5s
	Repause bool          // re-pause the AMM after a successful restore
}

// Scheduler owns the single restore timer.
type Scheduler struct {
	pool    Pool
	cfg     Config
	onEvent func(types.RestoreEvent)
	logger  zerolog.Logger

	mu    sync.Mutex
	timer *time.Timer
}

// New builds a scheduler. onEvent receives the outcome of every restore
// attempt.
func New(pool Pool, cfg Config, onEvent func(types.RestoreEvent)) *Scheduler {
	return &Scheduler{
		pool:    pool,
		cfg:     cfg,
		onEvent: onEvent,
		logger:  log.WithComponent("restorer"),
	}
}

// Arm schedules a restore after the configured delay. An already-armed
// timer is cancelled first, so a newer attack pushes the restore out.
func (s *Scheduler) Arm(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.logger.Info().Dur("delay", s.cfg.Delay).Msg("restore armed")
	s.timer = time.AfterFunc(s.cfg.Delay, func() {
		ev := s.Restore(ctx)
		if s.onEvent != nil {
			s.onEvent(ev)
		}
	})
}

// Cancel stops any pending restore. Called on shutdown and when a restore
// ran manually.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Restore performs the restoration immediately: unpause the pool, counter-
// swap toward the oracle price, optionally re-pause. Also the admin
// reset path.
func (s *Scheduler) Restore(ctx context.Context) types.RestoreEvent {
	ev := types.RestoreEvent{}

	oracle, err := s.pool.OraclePrice(ctx)
	if err != nil {
		ev.Message = fmt.Sprintf("read oracle price: %v", err)
		return ev
	}
	before, err := s.pool.AMMReserves(ctx)
	if err != nil {
		ev.Message = fmt.Sprintf("read reserves: %v", err)
		return ev
	}
	ev.PriceBefore = types.PriceFloat(observer.SpotFromReserves(before.WETH, before.USDC))

	paused, err := s.pool.AMMPaused(ctx)
	if err != nil {
		ev.Message = fmt.Sprintf("read pause flag: %v", err)
		return ev
	}
	if paused {
		if _, err := s.pool.UnpauseAMM(ctx); err != nil && !chain.IsPermanent(err) {
			ev.Message = fmt.Sprintf("unpause: %v", err)
			return ev
		}
	}

	wethIn, usdcIn := CounterSwap(before.WETH, before.USDC, oracle.Price)
	var hash common.Hash
	switch {
	case wethIn != nil && wethIn.Sign() > 0:
		hash, err = s.pool.SwapWethForUsdc(ctx, wethIn)
	case usdcIn != nil && usdcIn.Sign() > 0:
		hash, err = s.pool.SwapUsdcForWeth(ctx, usdcIn)
	default:
		// Spot already at target.
		ev.Success = true
		ev.PriceAfter = ev.PriceBefore
		ev.Message = "pool already at oracle price"
		return ev
	}
	if err != nil {
		ev.Message = fmt.Sprintf("counter-swap: %v", err)
		return ev
	}
	ev.TxHash = hash.Hex()

	after, err := s.pool.AMMReserves(ctx)
	if err != nil {
		ev.Message = fmt.Sprintf("read reserves after swap: %v", err)
		return ev
	}
	ev.PriceAfter = types.PriceFloat(observer.SpotFromReserves(after.WETH, after.USDC))
	ev.Success = true

	if s.cfg.Repause {
		if _, err := s.pool.PauseAMM(ctx); err != nil {
			ev.Message = fmt.Sprintf("re-pause failed: %v", err)
		} else {
			ev.Repaused = true
		}
	}

	s.logger.Info().
		Float64("price_before", ev.PriceBefore).
		Float64("price_after", ev.PriceAfter).
		Bool("repaused", ev.Repaused).
		Msg("price restored")
	return ev
}

var priceUnitScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(20), nil)

// CounterSwap computes the trade that moves a constant-product pool from
// reserves (weth, usdc) to the target 8-decimal price. Exactly one of the
// returned amounts is non-nil: wethIn sells WETH into the pool (price down),
// usdcIn buys WETH out (price up). Integer arithmetic throughout.
//
// With invariant k = x*y and target p, the post-trade WETH reserve is
// x' = sqrt(k/p); the trade is the difference on the deficient side.
func CounterSwap(weth, usdc *big.Int, target8 int64) (wethIn, usdcIn *big.Int) {
	if weth == nil || usdc == nil || weth.Sign() <= 0 || usdc.Sign() <= 0 || target8 <= 0 {
		return nil, nil
	}

	k := new(big.Int).Mul(weth, usdc)

	// x'^2 = k * 10^20 / p8, in weth-wei squared.
	x2 := new(big.Int).Mul(k, priceUnitScale)
	x2.Quo(x2, big.NewInt(target8))
	targetWeth := new(big.Int).Sqrt(x2)

	diff := new(big.Int).Sub(targetWeth, weth)
	switch diff.Sign() {
	case 1:
		// Pool needs more WETH: sell WETH in, price falls toward target.
		return diff, nil
	case -1:
		// Pool needs less WETH: buy WETH with USDC, price rises.
		targetUsdc := new(big.Int).Quo(k, targetWeth)
		in := new(big.Int).Sub(targetUsdc, usdc)
		if in.Sign() <= 0 {
			return nil, nil
		}
		return nil, in
	}
	return nil, nil
}
