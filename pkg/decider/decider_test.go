package decider

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/sentinel/pkg/types"
)

func cls(kind types.ClassificationKind, conf float64) types.Classification {
	return types.Classification{Kind: kind, Confidence: conf, Source: types.SourceLLM}
}

func TestPolicyTable(t *testing.T) {
	th := DefaultThresholds()
	open := types.ChainState{}

	tests := []struct {
		name  string
		c     types.Classification
		state types.ChainState
		want  types.ActionType
	}{
		{"natural", cls(types.ClassNatural, 0.99), open, types.ActionNone},
		{"flash loan high confidence", cls(types.ClassFlashLoanAttack, 0.92), open, types.ActionPauseAMM},
		{"flash loan at exact pause boundary", cls(types.ClassFlashLoanAttack, 0.75), open, types.ActionPauseAMM},
		{"flash loan idempotent", cls(types.ClassFlashLoanAttack, 0.92), types.ChainState{AMMPaused: true}, types.ActionNone},
		{"flash loan mid confidence", cls(types.ClassFlashLoanAttack, 0.60), open, types.ActionBlockLiquidations},
		{"flash loan mid confidence amm paused", cls(types.ClassFlashLoanAttack, 0.60), types.ChainState{AMMPaused: true}, types.ActionNone},
		{"oracle manipulation", cls(types.ClassOracleManipulation, 0.55), open, types.ActionBlockLiquidations},
		{"oracle manipulation already blocked", cls(types.ClassOracleManipulation, 0.55), types.ChainState{LiquidationsBlocked: true}, types.ActionNone},
		{"sandwich", cls(types.ClassSandwich, 0.80), open, types.ActionPauseAMM},
		{"sandwich below pause threshold", cls(types.ClassSandwich, 0.60), open, types.ActionNone},
		{"unknown high confidence", cls(types.ClassUnknownAnomaly, 0.95), open, types.ActionPauseVault},
		{"unknown at llm failure confidence", cls(types.ClassUnknownAnomaly, 0.50), open, types.ActionNone},
		{"below action floor", cls(types.ClassFlashLoanAttack, 0.49), open, types.ActionNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent := Decide(th, tt.c, tt.state)
			assert.Equal(t, tt.want, intent.Action)
			assert.NotEmpty(t, intent.Rationale)
		})
	}
}

func TestDecideIsPure(t *testing.T) {
	th := DefaultThresholds()
	c := cls(types.ClassFlashLoanAttack, 0.83)
	state := types.ChainState{}

	first := Decide(th, c, state)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Decide(th, c, state))
	}
}

func TestDedupSkipNeverActs(t *testing.T) {
	th := DefaultThresholds()
	c := types.Classification{Kind: types.ClassNatural, Source: types.SourceDedupSkip}
	intent := Decide(th, c, types.ChainState{})
	assert.Equal(t, types.ActionNone, intent.Action)
}
