// ABOUTME: Pulls the user-facing answer, query rows and chart flag out of a transcript
// ABOUTME: Falls back to the plain response text when no specialist payload is present

package conversation

import (
	"encoding/json"
	"strings"

	"github.com/2389/assistant-gateway/internal/agent"
	"github.com/2389/assistant-gateway/internal/thread"
)

// Extraction is what a finished invocation contributes to the ChatItem.
type Extraction struct {
	Answer       string
	QueryResults json.RawMessage
	ShowGraph    bool

	// FromPayload is true when a specialist payload supplied the fields.
	FromPayload bool
}

// Extract inspects the second-to-last transcript entry for a specialist tool
// result. If one parses, its answer, rows and chart flag are used; the
// payload's answer wins unless it is empty. Otherwise the answer is response
// and there are no rows.
func Extract(transcript []thread.Message, response string) Extraction {
	fallback := Extraction{Answer: response, QueryResults: json.RawMessage("[]")}
	if len(transcript) < 2 {
		return fallback
	}

	results := transcript[len(transcript)-2].ToolResults()
	for i := len(results) - 1; i >= 0; i-- {
		if results[i].Status == thread.ToolStatusError {
			continue
		}
		for j := len(results[i].Content) - 1; j >= 0; j-- {
			p, ok := parsePayload(results[i].Content[j].Text)
			if !ok {
				continue
			}

			ex := Extraction{
				Answer:       p.Response,
				QueryResults: p.QueryResults,
				ShowGraph:    p.ShowGraph,
				FromPayload:  true,
			}
			if strings.TrimSpace(ex.Answer) == "" {
				ex.Answer = response
			}
			if len(ex.QueryResults) == 0 || string(ex.QueryResults) == "null" {
				ex.QueryResults = json.RawMessage("[]")
			}
			return ex
		}
	}
	return fallback
}

// parsePayload accepts a JSON object with at least a response field.
func parsePayload(text string) (agent.Payload, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "{") {
		return agent.Payload{}, false
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &probe); err != nil {
		return agent.Payload{}, false
	}
	if _, ok := probe["response"]; !ok {
		return agent.Payload{}, false
	}

	var p agent.Payload
	if err := json.Unmarshal([]byte(text), &p); err != nil {
		return agent.Payload{}, false
	}
	return p, true
}
