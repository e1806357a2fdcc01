package agent

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/cuemby/sentinel/pkg/api"
	"github.com/cuemby/sentinel/pkg/chain"
	"github.com/cuemby/sentinel/pkg/observer"
	"github.com/cuemby/sentinel/pkg/types"
)

// attackFractionPct is the share of the pool's WETH reserve the demo attack
// dumps in a single swap, large enough to crash the spot price well past
// every filter threshold.
const attackFractionPct = 15

// SimulateAttack performs the dashboard's demo manipulation: one oversized
// WETH sale into the pool. A revert mentioning the pause means the
// protections got there first.
func (a *Agent) SimulateAttack(ctx context.Context) api.AttackResult {
	before, err := a.gw.AMMReserves(ctx)
	if err != nil {
		return api.AttackResult{Message: fmt.Sprintf("read reserves: %v", err)}
	}
	priceBefore := types.PriceFloat(observer.SpotFromReserves(before.WETH, before.USDC))

	if before.WETH == nil || before.WETH.Sign() <= 0 {
		return api.AttackResult{Message: "pool has no liquidity to attack"}
	}
	wethIn := new(big.Int).Mul(before.WETH, big.NewInt(attackFractionPct))
	wethIn.Quo(wethIn, big.NewInt(100))

	hash, err := a.gw.SwapWethForUsdc(ctx, wethIn)
	if err != nil {
		if strings.Contains(strings.ToLower(chain.RevertReason(err)), "paused") {
			a.logger.Info().Msg("simulated attack blocked by paused pool")
			return api.AttackResult{
				Blocked:     true,
				Message:     "attack blocked: pool is paused",
				PriceBefore: priceBefore,
			}
		}
		return api.AttackResult{Message: fmt.Sprintf("attack swap failed: %v", err), PriceBefore: priceBefore}
	}

	after, err := a.gw.AMMReserves(ctx)
	if err != nil {
		return api.AttackResult{
			Success:     true,
			Message:     fmt.Sprintf("swap confirmed, reserves unreadable: %v", err),
			TxHash:      hash.Hex(),
			PriceBefore: priceBefore,
		}
	}
	priceAfter := types.PriceFloat(observer.SpotFromReserves(after.WETH, after.USDC))

	a.logger.Warn().
		Float64("price_before", priceBefore).
		Float64("price_after", priceAfter).
		Msg("simulated attack executed")
	return api.AttackResult{
		Success:     true,
		Message:     "manipulation swap executed",
		TxHash:      hash.Hex(),
		PriceBefore: priceBefore,
		PriceAfter:  priceAfter,
	}
}

// ResetAMM runs the restore routine immediately and then converges the
// oracle onto the restored spot price so the dashboard shows a clean market.
func (a *Agent) ResetAMM(ctx context.Context) api.ResetResult {
	a.restorer.Cancel()

	ev := a.restorer.Restore(ctx)
	a.onRestoreEvent(ev)
	if !ev.Success {
		return api.ResetResult{Message: ev.Message, TxHash: ev.TxHash}
	}

	result := api.ResetResult{
		Success:  true,
		Message:  "pool restored to oracle price",
		NewPrice: ev.PriceAfter,
		TxHash:   ev.TxHash,
	}

	reserves, err := a.gw.AMMReserves(ctx)
	if err != nil {
		result.Message = fmt.Sprintf("restored, reserves unreadable: %v", err)
		return result
	}
	spot := observer.SpotFromReserves(reserves.WETH, reserves.USDC)
	if spot > 0 {
		if _, err := a.gw.ForceUpdatePrice(ctx, spot); err != nil {
			result.Message = fmt.Sprintf("restored, oracle update failed: %v", err)
		}
	}
	return result
}

// UnpauseAll clears every protection. Reverts meaning "already clear" are
// tolerated so the routine is idempotent.
func (a *Agent) UnpauseAll(ctx context.Context) error {
	steps := []struct {
		name string
		call func(context.Context) error
	}{
		{"unpause amm", func(ctx context.Context) error {
			_, err := a.gw.UnpauseAMM(ctx)
			return err
		}},
		{"unpause vault", func(ctx context.Context) error {
			_, err := a.gw.UnpauseVault(ctx)
			return err
		}},
		{"unblock liquidations", func(ctx context.Context) error {
			_, err := a.gw.UnblockLiquidations(ctx)
			return err
		}},
	}
	for _, step := range steps {
		if err := step.call(ctx); err != nil {
			if chain.IsPermanent(err) {
				// Typically "not paused" or "not blocked".
				a.logger.Debug().Err(err).Str("step", step.name).Msg("already clear")
				continue
			}
			return fmt.Errorf("%s: %w", step.name, err)
		}
	}
	a.logger.Info().Msg("all protections cleared")
	return nil
}
