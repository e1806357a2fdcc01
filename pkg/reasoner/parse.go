package reasoner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cuemby/sentinel/pkg/types"
)

const maxEvidence = 5

type llmReply struct {
	Classification string   `json:"classification"`
	Confidence     float64  `json:"confidence"`
	Explanation    string   `json:"explanation"`
	Evidence       []string `json:"evidence"`
}

// ParseReply turns a raw model reply into a Classification. Markdown code
// fences are stripped first since models wrap JSON despite instructions.
// Unknown classification values degrade to UNKNOWN_ANOMALY rather than
// failing; only malformed JSON is an error.
func ParseReply(raw string) (types.Classification, error) {
	body := stripFences(raw)

	var reply llmReply
	if err := json.Unmarshal([]byte(body), &reply); err != nil {
		return types.Classification{}, fmt.Errorf("decode llm reply: %w", err)
	}
	if reply.Classification == "" {
		return types.Classification{}, fmt.Errorf("llm reply missing classification")
	}

	kind := types.ClassificationKind(strings.ToUpper(strings.TrimSpace(reply.Classification)))
	if !types.ValidClassification(kind) {
		kind = types.ClassUnknownAnomaly
	}

	conf := reply.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}

	evidence := reply.Evidence
	if len(evidence) > maxEvidence {
		evidence = evidence[:maxEvidence]
	}

	return types.Classification{
		Kind:        kind,
		Confidence:  conf,
		Explanation: reply.Explanation,
		Evidence:    evidence,
		Source:      types.SourceLLM,
	}, nil
}

// stripFences removes a surrounding markdown code fence, with or without a
// language tag.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 && !strings.HasPrefix(s, "{") {
		// Drop the language tag line ("json").
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
