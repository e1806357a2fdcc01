// Package decider maps a classification and the observed protection state
// to at most one protective intent. Decide is a pure function: no chain
// access, no clock, no internal state.
package decider

import (
	"fmt"

	"github.com/cuemby/sentinel/pkg/types"
)

// Thresholds are the confidence boundaries of the policy table. All
// comparisons are >=.
type Thresholds struct {
	Pause            float64 // pause actions, default 0.75
	BlockLiquidation float64 // liquidation gate, default 0.50
	PauseVault       float64 // vault pause on unknown anomalies, default 0.90
}

// DefaultThresholds returns the documented policy defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{Pause: 0.75, BlockLiquidation: 0.50, PauseVault: 0.90}
}

// Decide applies the policy table. When several rows match, the most
// restrictive action wins. The rationale is always populated, including
// for NONE.
func Decide(th Thresholds, c types.Classification, state types.ChainState) types.Intent {
	if c.Kind == types.ClassNatural {
		return none("market state classified as natural", 0)
	}
	if c.Confidence < th.BlockLiquidation {
		return none(fmt.Sprintf("confidence %.2f below action floor %.2f", c.Confidence, th.BlockLiquidation), 0)
	}

	var candidates []types.Intent

	switch c.Kind {
	case types.ClassFlashLoanAttack:
		if c.Confidence >= th.Pause {
			if state.AMMPaused {
				candidates = append(candidates, none("amm already paused", th.Pause))
			} else if state.VaultPaused {
				candidates = append(candidates, none("vault already paused", th.Pause))
			} else {
				candidates = append(candidates, types.Intent{
					Action:        types.ActionPauseAMM,
					Rationale:     fmt.Sprintf("flash loan attack at %.2f confidence", c.Confidence),
					MinConfidence: th.Pause,
				})
			}
		} else if !state.AMMPaused {
			candidates = append(candidates, types.Intent{
				Action:        types.ActionBlockLiquidations,
				Rationale:     fmt.Sprintf("possible flash loan attack at %.2f confidence", c.Confidence),
				MinConfidence: th.BlockLiquidation,
			})
		}

	case types.ClassOracleManipulation:
		if state.LiquidationsBlocked {
			candidates = append(candidates, none("liquidations already blocked", th.BlockLiquidation))
		} else {
			candidates = append(candidates, types.Intent{
				Action:        types.ActionBlockLiquidations,
				Rationale:     fmt.Sprintf("oracle manipulation at %.2f confidence", c.Confidence),
				MinConfidence: th.BlockLiquidation,
			})
		}

	case types.ClassSandwich:
		if c.Confidence >= th.Pause && !state.AMMPaused {
			candidates = append(candidates, types.Intent{
				Action:        types.ActionPauseAMM,
				Rationale:     fmt.Sprintf("sandwich pattern at %.2f confidence", c.Confidence),
				MinConfidence: th.Pause,
			})
		}

	case types.ClassUnknownAnomaly:
		if c.Confidence >= th.PauseVault && !state.AMMPaused && !state.VaultPaused {
			candidates = append(candidates, types.Intent{
				Action:        types.ActionPauseVault,
				Rationale:     fmt.Sprintf("unclassified anomaly at %.2f confidence", c.Confidence),
				MinConfidence: th.PauseVault,
			})
		}
	}

	if len(candidates) == 0 {
		return none(fmt.Sprintf("%s at %.2f confidence matched no policy row", c.Kind, c.Confidence), 0)
	}

	best := candidates[0]
	for _, cand := range candidates[1:] {
		if cand.Action.Severity() > best.Action.Severity() {
			best = cand
		}
	}
	return best
}

func none(rationale string, minConf float64) types.Intent {
	return types.Intent{
		Action:        types.ActionNone,
		Rationale:     rationale,
		MinConfidence: minConf,
	}
}
