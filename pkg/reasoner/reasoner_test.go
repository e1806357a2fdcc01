package reasoner

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/sentinel/pkg/types"
)

// fakeLLM returns a scripted reply or error and counts calls.
type fakeLLM struct {
	reply string
	err   error
	calls int
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

const attackReply = `{"classification":"FLASH_LOAN_ATTACK","confidence":0.92,"explanation":"spot crashed 40% in one block","evidence":["40% deviation","large swap"]}`

func anomalousSnap(block uint64) *types.Snapshot {
	return &types.Snapshot{
		Cycle:        1,
		Block:        block,
		OraclePrice:  2000_00000000,
		AMMSpotPrice: 1200_00000000,
		DeviationBps: 4000,
		SwapCount:    1,
		Valid:        true,
	}
}

func deviationSignal(block uint64) *types.AnomalySignal {
	return &types.AnomalySignal{Kind: types.SignalLargeDeviation, Detail: "40%", Block: block}
}

func TestReasonClassifies(t *testing.T) {
	llm := &fakeLLM{reply: attackReply}
	r := New(llm, DefaultConfig())

	res := r.Reason(context.Background(), anomalousSnap(100), deviationSignal(100), nil)
	assert.Equal(t, types.ClassFlashLoanAttack, res.Classification.Kind)
	assert.Equal(t, 0.92, res.Classification.Confidence)
	assert.Equal(t, types.SourceLLM, res.Classification.Source)
	assert.False(t, res.ParseFailure)
	assert.Equal(t, uint64(1), r.LLMCalls())
}

func TestReasonSameBlockDedup(t *testing.T) {
	llm := &fakeLLM{reply: attackReply}
	r := New(llm, DefaultConfig())

	_ = r.Reason(context.Background(), anomalousSnap(100), deviationSignal(100), nil)
	res := r.Reason(context.Background(), anomalousSnap(100), deviationSignal(100), nil)

	assert.Equal(t, types.SourceDedupSkip, res.Classification.Source)
	assert.Equal(t, types.ClassNatural, res.Classification.Kind)
	assert.Zero(t, res.Classification.Confidence)
	assert.Equal(t, 1, llm.calls)
}

func TestReasonContextHashDedup(t *testing.T) {
	llm := &fakeLLM{reply: attackReply}
	r := New(llm, DefaultConfig())

	_ = r.Reason(context.Background(), anomalousSnap(100), deviationSignal(100), nil)

	// New block, identical market context: digest matches, call skipped.
	res := r.Reason(context.Background(), anomalousSnap(101), deviationSignal(101), nil)
	assert.Equal(t, types.SourceDedupSkip, res.Classification.Source)

	// A changed context on a new block calls again.
	snap := anomalousSnap(101)
	snap.DeviationBps = 4100
	res = r.Reason(context.Background(), snap, deviationSignal(101), nil)
	assert.Equal(t, types.SourceLLM, res.Classification.Source)
	assert.Equal(t, 2, llm.calls)
}

func TestReasonLiquidationKeyDedup(t *testing.T) {
	llm := &fakeLLM{reply: attackReply}
	r := New(llm, DefaultConfig())

	sig := &types.AnomalySignal{
		Kind:           types.SignalUnfairLiquidation,
		LiquidatedUser: "0xvictim",
		Block:          100,
	}
	snap := anomalousSnap(100)
	snap.LiquidationSeen = true

	res := r.Reason(context.Background(), snap, sig, nil)
	require.Equal(t, types.SourceLLM, res.Classification.Source)

	// Same liquidation resurfacing later: different block and context, but
	// the event key is remembered.
	snap2 := anomalousSnap(105)
	snap2.LiquidationSeen = true
	snap2.DeviationBps = 3999
	res = r.Reason(context.Background(), snap2, sig, nil)
	assert.Equal(t, types.SourceDedupSkip, res.Classification.Source)
	assert.Equal(t, 1, llm.calls)
}

func TestReasonTransportFailure(t *testing.T) {
	llm := &fakeLLM{err: errors.New("connection refused")}
	r := New(llm, DefaultConfig())

	res := r.Reason(context.Background(), anomalousSnap(100), deviationSignal(100), nil)
	assert.Equal(t, types.ClassUnknownAnomaly, res.Classification.Kind)
	assert.Equal(t, 0.5, res.Classification.Confidence)
	assert.Equal(t, "LLM unavailable", res.Classification.Explanation)
	assert.Equal(t, types.SourceLLM, res.Classification.Source)

	// Dedup state was not advanced: the same block retries.
	llm.err = nil
	llm.reply = attackReply
	res = r.Reason(context.Background(), anomalousSnap(100), deviationSignal(100), nil)
	assert.Equal(t, types.ClassFlashLoanAttack, res.Classification.Kind)
	assert.Equal(t, 2, llm.calls)
}

func TestReasonParseFailureUpdatesDedup(t *testing.T) {
	llm := &fakeLLM{reply: "I think this is probably fine."}
	r := New(llm, DefaultConfig())

	res := r.Reason(context.Background(), anomalousSnap(100), deviationSignal(100), nil)
	assert.Equal(t, types.ClassUnknownAnomaly, res.Classification.Kind)
	assert.Equal(t, "parse failure", res.Classification.Explanation)
	assert.True(t, res.ParseFailure)

	// Garbage replies must not cause a retry storm on the same block.
	res = r.Reason(context.Background(), anomalousSnap(100), deviationSignal(100), nil)
	assert.Equal(t, types.SourceDedupSkip, res.Classification.Source)
	assert.Equal(t, 1, llm.calls)
}

func TestAnalyzedEventsEviction(t *testing.T) {
	llm := &fakeLLM{reply: attackReply}
	cfg := DefaultConfig()
	cfg.AnalyzedCapacity = 3
	r := New(llm, cfg)

	for i := 0; i < 5; i++ {
		sig := &types.AnomalySignal{
			Kind:           types.SignalUnfairLiquidation,
			LiquidatedUser: fmt.Sprintf("0xuser%d", i),
			Block:          uint64(100 + i),
		}
		snap := anomalousSnap(uint64(100 + i))
		snap.DeviationBps = 4000 + int64(i) // keep contexts distinct
		snap.LiquidationSeen = true
		_ = r.Reason(context.Background(), snap, sig, nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Len(t, r.analyzedOrder, 3)
	assert.NotContains(t, r.analyzed, "liq:0xuser0:100")
	assert.NotContains(t, r.analyzed, "liq:0xuser1:101")
	assert.Contains(t, r.analyzed, "liq:0xuser4:104")
}

func TestParseReply(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
		kind    types.ClassificationKind
		conf    float64
	}{
		{"plain json", attackReply, false, types.ClassFlashLoanAttack, 0.92},
		{"fenced json", "```json\n" + attackReply + "\n```", false, types.ClassFlashLoanAttack, 0.92},
		{"bare fence", "```\n" + attackReply + "\n```", false, types.ClassFlashLoanAttack, 0.92},
		{"unknown enum", `{"classification":"RUG_PULL","confidence":0.8,"explanation":"x"}`, false, types.ClassUnknownAnomaly, 0.8},
		{"confidence above one", `{"classification":"SANDWICH","confidence":1.7,"explanation":"x"}`, false, types.ClassSandwich, 1.0},
		{"negative confidence", `{"classification":"NATURAL","confidence":-0.2,"explanation":"x"}`, false, types.ClassNatural, 0},
		{"prose", "this looks like an attack to me", true, "", 0},
		{"missing classification", `{"confidence":0.9}`, true, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cls, err := ParseReply(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, cls.Kind)
			assert.Equal(t, tt.conf, cls.Confidence)
		})
	}
}

func TestParseReplyCapsEvidence(t *testing.T) {
	raw := `{"classification":"SANDWICH","confidence":0.8,"explanation":"x","evidence":["a","b","c","d","e","f","g"]}`
	cls, err := ParseReply(raw)
	require.NoError(t, err)
	assert.Len(t, cls.Evidence, 5)
}

func TestEfficiencyQuietWindow(t *testing.T) {
	// The reasoner is only invoked on a signal; the agent never calls it on
	// quiet cycles. This guards the call counter accounting itself.
	llm := &fakeLLM{reply: attackReply}
	r := New(llm, DefaultConfig())
	assert.Zero(t, r.LLMCalls())
}
