package anomaly

import (
	"fmt"
	"math/big"

	"github.com/cuemby/sentinel/pkg/types"
)

// maxSwapsPerBlock is the swap-count bound of the attack-pattern rule;
// strictly more swaps than this in one window is anomalous.
const maxSwapsPerBlock = 3

// Config holds the filter thresholds in integer units.
type Config struct {
	DeviationThresholdBps   int64 // rule 1 and 5, default 500
	ExtremeMoveThresholdBps int64 // rule 4 and 6, default 1000
	LargeSwapWETH           int64 // rule 3, whole WETH, default 10
}

// DefaultConfig returns the documented threshold defaults.
func DefaultConfig() Config {
	return Config{
		DeviationThresholdBps:   500,
		ExtremeMoveThresholdBps: 1000,
		LargeSwapWETH:           10,
	}
}

// Filter is the deterministic anomaly predicate. It is pure: no chain
// access, no clocks, integer arithmetic only.
type Filter struct {
	cfg Config

	largeSwapWei *big.Int
}

// New builds a filter with the given thresholds.
func New(cfg Config) *Filter {
	wei := new(big.Int).Mul(big.NewInt(cfg.LargeSwapWETH),
		new(big.Int).Exp(big.NewInt(10), big.NewInt(types.WETHDecimals), nil))
	return &Filter{cfg: cfg, largeSwapWei: wei}
}

// Check reports whether the snapshot warrants reasoning. All comparisons are
// strict: a value exactly at a threshold is not anomalous. Invalid snapshots
// never signal. hist is the rolling window oldest first and includes cur.
func (f *Filter) Check(cur *types.Snapshot, hist []*types.Snapshot) *types.AnomalySignal {
	if cur == nil || !cur.Valid {
		return nil
	}

	absDev := abs(cur.DeviationBps)

	// A liquidation landing while the price is off is the most specific
	// pattern; report it ahead of the generic deviation rule so the
	// per-liquidation dedup key applies.
	if cur.LiquidationSeen && absDev > f.cfg.DeviationThresholdBps {
		return &types.AnomalySignal{
			Kind:           types.SignalUnfairLiquidation,
			Detail:         fmt.Sprintf("liquidation of %s at %.2f%% oracle deviation", cur.LiquidatedUser, bpsPct(absDev)),
			LiquidatedUser: cur.LiquidatedUser,
			Block:          cur.Block,
		}
	}

	if absDev > f.cfg.DeviationThresholdBps {
		return &types.AnomalySignal{
			Kind:   types.SignalLargeDeviation,
			Detail: fmt.Sprintf("oracle/amm deviation %.2f%% exceeds %.2f%%", bpsPct(absDev), bpsPct(f.cfg.DeviationThresholdBps)),
			Block:  cur.Block,
		}
	}

	if cur.OracleUpdates > 1 {
		return &types.AnomalySignal{
			Kind:   types.SignalMultipleOracleUpdates,
			Detail: fmt.Sprintf("%d oracle updates in one window", cur.OracleUpdates),
			Block:  cur.Block,
		}
	}

	if cur.SwapCount > maxSwapsPerBlock {
		return &types.AnomalySignal{
			Kind:   types.SignalAttackSwapPattern,
			Detail: fmt.Sprintf("%d swaps in one window", cur.SwapCount),
			Block:  cur.Block,
		}
	}
	if cur.LargestSwapWETH != nil && cur.LargestSwapWETH.Cmp(f.largeSwapWei) > 0 {
		return &types.AnomalySignal{
			Kind:   types.SignalAttackSwapPattern,
			Detail: fmt.Sprintf("single swap above %d WETH", f.cfg.LargeSwapWETH),
			Block:  cur.Block,
		}
	}

	if sig := f.recoveryPattern(hist); sig != nil {
		return sig
	}

	if len(hist) >= 2 {
		prev := hist[len(hist)-2]
		if prev.Valid && prev.AMMSpotPrice > 0 {
			move := relBps(cur.AMMSpotPrice, prev.AMMSpotPrice)
			if move > f.cfg.ExtremeMoveThresholdBps {
				return &types.AnomalySignal{
					Kind:   types.SignalExtremeMove,
					Detail: fmt.Sprintf("spot moved %.2f%% in one tick", bpsPct(move)),
					Block:  cur.Block,
				}
			}
		}
	}

	return nil
}

// recoveryPattern detects a dip-and-recover shape over the last three
// snapshots: the oldest and newest prices nearly agree while the middle one
// spiked, the signature of an intra-window manipulation.
func (f *Filter) recoveryPattern(hist []*types.Snapshot) *types.AnomalySignal {
	if len(hist) < 3 {
		return nil
	}
	p0 := hist[len(hist)-3] // n-2
	p1 := hist[len(hist)-2] // n-1
	p2 := hist[len(hist)-1] // n
	if !p0.Valid || !p1.Valid || !p2.Valid || p0.AMMSpotPrice <= 0 {
		return nil
	}

	endDrift := relBps(p2.AMMSpotPrice, p0.AMMSpotPrice)
	midSpike := relBps(p1.AMMSpotPrice, p0.AMMSpotPrice)
	if endDrift < 100 && midSpike > f.cfg.ExtremeMoveThresholdBps {
		return &types.AnomalySignal{
			Kind:   types.SignalSameBlockRecovery,
			Detail: fmt.Sprintf("price spiked %.2f%% then recovered within 3 snapshots", bpsPct(midSpike)),
			Block:  p2.Block,
		}
	}
	return nil
}

// relBps returns |a-b| / b in basis points.
func relBps(a, b int64) int64 {
	if b == 0 {
		return 0
	}
	d := a - b
	if d < 0 {
		d = -d
	}
	num := new(big.Int).SetInt64(d)
	num.Mul(num, big.NewInt(10000))
	num.Quo(num, big.NewInt(b))
	return num.Int64()
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// bpsPct converts basis points to percent for detail strings only.
func bpsPct(bps int64) float64 {
	return float64(bps) / 100.0
}
