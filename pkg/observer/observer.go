package observer

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/sentinel/pkg/chain"
	"github.com/cuemby/sentinel/pkg/log"
	"github.com/cuemby/sentinel/pkg/types"
)

// historyCapacity bounds the rolling snapshot window backing the recovery
// rule and the price API.
const historyCapacity = 100

// spotScale converts USDC(6dp)/WETH(18dp) reserves into an 8-decimal price:
// spot8 = usdc * 10^(18-6+8) / weth.
var spotScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(20), nil)

// ChainReader is the adapter surface the observer consumes.
type ChainReader interface {
	CurrentBlock(ctx context.Context) (uint64, error)
	OraclePrice(ctx context.Context) (chain.OracleReading, error)
	OracleTWAP(ctx context.Context) (int64, int, error)
	AMMReserves(ctx context.Context) (chain.Reserves, error)
	AMMPaused(ctx context.Context) (bool, error)
	VaultPaused(ctx context.Context) (bool, error)
	LiquidationsBlocked(ctx context.Context) (bool, error)
	ScanActivity(ctx context.Context, from, to uint64) (chain.BlockActivity, error)
}

// Observer assembles one market snapshot per tick. It owns the rolling
// snapshot history; the agent owns the ticker.
type Observer struct {
	reader ChainReader
	logger zerolog.Logger

	mu        sync.Mutex
	cycle     uint64
	lastBlock uint64
	history   []*types.Snapshot
}

// New builds an observer over the given chain reader.
func New(reader ChainReader) *Observer {
	return &Observer{
		reader: reader,
		logger: log.WithComponent("observer"),
	}
}

// Observe performs one observation tick and returns the assembled snapshot.
// Any chain error aborts the tick; no partial snapshot is emitted or
// recorded, and the next tick retries from the same last block.
func (o *Observer) Observe(ctx context.Context) (*types.Snapshot, error) {
	block, err := o.reader.CurrentBlock(ctx)
	if err != nil {
		return nil, fmt.Errorf("read block number: %w", err)
	}

	oracle, err := o.reader.OraclePrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("read oracle price: %w", err)
	}
	twap, _, err := o.reader.OracleTWAP(ctx)
	if err != nil {
		// TWAP is supplementary; a failed read does not abort the tick.
		o.logger.Debug().Err(err).Msg("twap unavailable")
		twap = 0
	}

	reserves, err := o.reader.AMMReserves(ctx)
	if err != nil {
		return nil, fmt.Errorf("read reserves: %w", err)
	}

	ammPaused, err := o.reader.AMMPaused(ctx)
	if err != nil {
		return nil, fmt.Errorf("read amm paused: %w", err)
	}
	vaultPaused, err := o.reader.VaultPaused(ctx)
	if err != nil {
		return nil, fmt.Errorf("read vault paused: %w", err)
	}
	liqBlocked, err := o.reader.LiquidationsBlocked(ctx)
	if err != nil {
		return nil, fmt.Errorf("read liquidations blocked: %w", err)
	}

	o.mu.Lock()
	lastBlock := o.lastBlock
	o.mu.Unlock()

	// Same-block tick: emit the snapshot with zero activity counts.
	var activity chain.BlockActivity
	if block > lastBlock {
		from := lastBlock + 1
		if lastBlock == 0 {
			from = block
		}
		activity, err = o.reader.ScanActivity(ctx, from, block)
		if err != nil {
			return nil, fmt.Errorf("scan logs: %w", err)
		}
	}

	// Protection events fired by the contracts themselves, or by another
	// operator, show up here before the pause flags flip in our snapshot.
	for _, p := range activity.Protections {
		o.logger.Warn().
			Str("kind", p.Kind).
			Str("by", p.By.Hex()).
			Uint64("block", p.Block).
			Msg("protection event on chain")
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.cycle++
	snap := &types.Snapshot{
		Cycle:               o.cycle,
		Timestamp:           time.Now().UTC(),
		Block:               block,
		OraclePrice:         oracle.Price,
		OracleTWAP:          twap,
		WETHReserve:         reserves.WETH,
		USDCReserve:         reserves.USDC,
		SwapCount:           len(activity.Swaps),
		OracleUpdates:       len(activity.PriceUpdates),
		LargestSwapWETH:     largestSwapWETH(activity.Swaps, oracle.Price),
		AMMPaused:           ammPaused,
		VaultPaused:         vaultPaused,
		LiquidationsBlocked: liqBlocked,
		Valid:               true,
	}
	for _, liq := range activity.Liquidations {
		snap.LiquidationSeen = true
		snap.LiquidatedUser = liq.User.Hex()
	}

	validateSnapshot(snap, reserves)

	if snap.Valid {
		snap.DeviationBps = DeviationBps(snap.OraclePrice, snap.AMMSpotPrice)
	}

	o.lastBlock = block
	o.history = append(o.history, snap)
	if len(o.history) > historyCapacity {
		o.history = o.history[1:]
	}

	o.logger.Debug().
		Uint64("cycle", snap.Cycle).
		Uint64("block", snap.Block).
		Int64("oracle", snap.OraclePrice).
		Int64("amm", snap.AMMSpotPrice).
		Int64("deviation_bps", snap.DeviationBps).
		Int("swaps", snap.SwapCount).
		Bool("valid", snap.Valid).
		Msg("snapshot")

	return snap, nil
}

// validateSnapshot derives the spot price from reserves and cross-checks the
// pool's reported value. Empty reserves or a reported spot that disagrees
// with the reserves beyond rounding mark the snapshot invalid.
func validateSnapshot(snap *types.Snapshot, reserves chain.Reserves) {
	if reserves.WETH == nil || reserves.USDC == nil ||
		(reserves.WETH.Sign() == 0 && reserves.USDC.Sign() == 0) {
		snap.Valid = false
		snap.InvalidReason = "empty reserves"
		return
	}
	if reserves.WETH.Sign() == 0 {
		snap.Valid = false
		snap.InvalidReason = "zero weth reserve"
		return
	}

	derived := SpotFromReserves(reserves.WETH, reserves.USDC)
	snap.AMMSpotPrice = derived

	// Reported spot must agree with the reserves within rounding (10 bps).
	if reserves.Spot > 0 && derived > 0 {
		diff := reserves.Spot - derived
		if diff < 0 {
			diff = -diff
		}
		if diff*10000 > derived*10 {
			snap.Valid = false
			snap.InvalidReason = fmt.Sprintf("reported spot %d disagrees with reserves (derived %d)", reserves.Spot, derived)
		}
	}
}

// SpotFromReserves computes the 8-decimal spot price usdc/weth from raw
// reserve units.
func SpotFromReserves(weth, usdc *big.Int) int64 {
	if weth == nil || usdc == nil || weth.Sign() == 0 {
		return 0
	}
	spot := new(big.Int).Mul(usdc, spotScale)
	spot.Quo(spot, weth)
	if !spot.IsInt64() {
		return 0
	}
	return spot.Int64()
}

// DeviationBps returns the signed deviation (oracle - amm) / oracle in basis
// points, computed in integer arithmetic.
func DeviationBps(oracle, amm int64) int64 {
	if oracle == 0 {
		return 0
	}
	num := new(big.Int).SetInt64(oracle - amm)
	num.Mul(num, big.NewInt(10000))
	num.Quo(num, big.NewInt(oracle))
	return num.Int64()
}

// largestSwapWETH finds the biggest single swap input in WETH wei. USDC
// inputs are converted at the oracle price.
func largestSwapWETH(swaps []chain.SwapLog, oraclePrice int64) *big.Int {
	largest := new(big.Int)
	for _, s := range swaps {
		if s.AmountIn == nil {
			continue
		}
		in := s.AmountIn
		if !s.IsWethToUsdc {
			if oraclePrice <= 0 {
				continue
			}
			// usdc(6dp) -> weth wei at the oracle price.
			conv := new(big.Int).Mul(s.AmountIn, spotScale)
			conv.Quo(conv, big.NewInt(oraclePrice))
			in = conv
		}
		if in.Cmp(largest) > 0 {
			largest = in
		}
	}
	return largest
}

// History returns a copy of the rolling snapshot window, oldest first.
func (o *Observer) History() []*types.Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*types.Snapshot, len(o.history))
	copy(out, o.history)
	return out
}

// Recent returns up to n most recent snapshots, oldest first.
func (o *Observer) Recent(n int) []*types.Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	if n > len(o.history) {
		n = len(o.history)
	}
	out := make([]*types.Snapshot, n)
	copy(out, o.history[len(o.history)-n:])
	return out
}

// Since returns snapshots taken at or after t, oldest first.
func (o *Observer) Since(t time.Time) []*types.Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []*types.Snapshot
	for _, s := range o.history {
		if !s.Timestamp.Before(t) {
			out = append(out, s)
		}
	}
	return out
}

// Latest returns the most recent snapshot, or nil before the first tick.
func (o *Observer) Latest() *types.Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.history) == 0 {
		return nil
	}
	return o.history[len(o.history)-1]
}
