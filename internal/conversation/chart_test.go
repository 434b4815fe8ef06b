// ABOUTME: Tests for chart generation and graph_code backfill
// ABOUTME: Uses a scripted chart model and the mock store

package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/assistant-gateway/internal/llm"
	"github.com/2389/assistant-gateway/internal/store"
	"github.com/2389/assistant-gateway/internal/thread"
)

const fencedChart = "Here you go:\n```json\n{\"chart_type\":\"bar\",\"caption\":\"Sales by region\",\"rationale\":\"categorical\",\"chart_configuration\":{\"options\":{},\"series\":[{\"data\":[1,2]}]}}\n```"

func seedThread(t *testing.T, st *store.MockStore, humans ...string) *thread.Thread {
	t.Helper()
	th := thread.New(humans[0], "alice")
	for _, h := range humans {
		th.AppendUITurn(h, "answer to "+h, json.RawMessage(`[{"a":1},{"a":2}]`), true, thread.Usage{})
	}
	require.NoError(t, st.SaveThread(context.Background(), th, true))
	return th
}

func chartModel() *llm.Fake {
	return &llm.Fake{Handler: func(_ context.Context, _ *llm.Request) (*llm.Response, error) {
		return llm.TextResponse(fencedChart), nil
	}}
}

func TestGenerateChart_BackfillsByTurnID(t *testing.T) {
	st := store.NewMockStore()
	th := seedThread(t, st, "sales by region", "sales by region")
	target := th.UIMessages[0].TurnID

	fake := chartModel()
	svc := newTestService(t, st, fake, Options{ChartModels: []string{"chart-model"}})

	chart, err := svc.GenerateChart(context.Background(), &ChartRequest{
		UserID:       "alice",
		ThreadID:     th.ID,
		TurnID:       target,
		Text:         "sales by region",
		QueryResults: json.RawMessage(`[{"a":1},{"a":2}]`),
	})
	require.NoError(t, err)
	assert.Equal(t, "bar", chart.ChartType)
	assert.Equal(t, "Sales by region", chart.Caption)
	assert.True(t, chart.Backfilled)
	assert.Equal(t, []string{"chart-model"}, fake.CalledModels())

	got, err := st.GetThread(context.Background(), th.ID, "alice")
	require.NoError(t, err)
	assert.JSONEq(t, chart.Raw, got.UIMessages[0].GraphCode)
	assert.Empty(t, got.UIMessages[1].GraphCode, "only the named turn is backfilled")
}

func TestGenerateChart_FallsBackToLatestHumanMatch(t *testing.T) {
	st := store.NewMockStore()
	th := seedThread(t, st, "revenue", "other", "revenue")

	svc := newTestService(t, st, chartModel(), Options{ChartModels: []string{"chart-model"}})

	chart, err := svc.GenerateChart(context.Background(), &ChartRequest{
		UserID:   "alice",
		ThreadID: th.ID,
		Text:     "revenue",
	})
	require.NoError(t, err)
	require.True(t, chart.Backfilled)

	got, err := st.GetThread(context.Background(), th.ID, "alice")
	require.NoError(t, err)
	assert.Empty(t, got.UIMessages[0].GraphCode)
	assert.NotEmpty(t, got.UIMessages[2].GraphCode)
}

func TestGenerateChart_NoMatchStillReturnsChart(t *testing.T) {
	st := store.NewMockStore()
	th := seedThread(t, st, "revenue")

	svc := newTestService(t, st, chartModel(), Options{ChartModels: []string{"chart-model"}})

	chart, err := svc.GenerateChart(context.Background(), &ChartRequest{
		UserID:   "alice",
		ThreadID: th.ID,
		Text:     "something else",
	})
	require.NoError(t, err)
	assert.False(t, chart.Backfilled)
}

func TestGenerateChart_InvalidJSON(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"prose only", "I cannot chart this"},
		{"broken object", "{\"chart_type\": \"bar\""},
		{"not an object body", "{ nope }"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &llm.Fake{Handler: func(_ context.Context, _ *llm.Request) (*llm.Response, error) {
				return llm.TextResponse(tt.text), nil
			}}
			svc := newTestService(t, store.NewMockStore(), fake, Options{ChartModels: []string{"chart-model"}})

			_, err := svc.GenerateChart(context.Background(), &ChartRequest{UserID: "alice", Text: "q"})
			assert.ErrorIs(t, err, ErrInvalidChart)
		})
	}
}

func TestGenerateChart_EmptyText(t *testing.T) {
	svc := newTestService(t, store.NewMockStore(), chartModel(), Options{})
	_, err := svc.GenerateChart(context.Background(), &ChartRequest{UserID: "alice", Text: "  "})
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestGenerateChart_ModelFailure(t *testing.T) {
	fake := &llm.Fake{Handler: func(_ context.Context, _ *llm.Request) (*llm.Response, error) {
		return nil, errors.New("boom")
	}}
	svc := newTestService(t, store.NewMockStore(), fake, Options{ChartModels: []string{"chart-model"}})

	_, err := svc.GenerateChart(context.Background(), &ChartRequest{UserID: "alice", Text: "q"})
	assert.Error(t, err)
}

func TestBackfillChart_RejectsWhileTurnInFlight(t *testing.T) {
	st := store.NewMockStore()
	th := seedThread(t, st, "revenue")
	svc := newTestService(t, st, chartModel(), Options{})

	require.False(t, svc.guard.CheckAndMark(guardKey("alice", th.ID)))
	defer svc.guard.Release(guardKey("alice", th.ID))

	err := svc.BackfillChart(context.Background(), "alice", th.ID, "", "revenue", `{"chart_type":"bar"}`)
	assert.ErrorIs(t, err, ErrTurnInFlight)
}

func TestBackfillChart_OtherUsersThread(t *testing.T) {
	st := store.NewMockStore()
	th := seedThread(t, st, "revenue")
	svc := newTestService(t, st, chartModel(), Options{})

	err := svc.BackfillChart(context.Background(), "mallory", th.ID, "", "revenue", `{}`)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestBackfillChart_PublishesUpdate(t *testing.T) {
	st := store.NewMockStore()
	th := seedThread(t, st, "revenue")
	events := NewEventBroadcaster(nil)
	defer events.Close()
	svc := newTestService(t, st, chartModel(), Options{Events: events})

	ch, _ := events.Subscribe(t.Context(), "alice")
	require.NoError(t, svc.BackfillChart(context.Background(), "alice", th.ID, "", "revenue", `{}`))

	ev := <-ch
	assert.Equal(t, ThreadUpdated, ev.Type)
	assert.Equal(t, th.ID, ev.ThreadID)
	assert.Equal(t, 1, ev.MessageCount)
}
