// ABOUTME: Tests for the turn coordinator using the mock store and scripted models
// ABOUTME: Covers persistence, terminal-event uniqueness, failover errors, and the in-flight guard

package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/2389/assistant-gateway/internal/agent"
	"github.com/2389/assistant-gateway/internal/llm"
	"github.com/2389/assistant-gateway/internal/progress"
	"github.com/2389/assistant-gateway/internal/store"
	"github.com/2389/assistant-gateway/internal/thread"
)

func newTestService(t *testing.T, st Store, fake *llm.Fake, opts Options) *Service {
	t.Helper()
	if len(opts.Models) == 0 {
		opts.Models = []string{"m1", "m2"}
	}
	d := agent.NewDispatcher(fake, agent.Options{}, slog.Default())
	svc := New(st, d, opts, slog.Default())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return svc
}

// drain collects every event up to and including the terminal one and
// checks nothing follows it.
func drain(t *testing.T, ch *progress.Channel) []progress.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var events []progress.Event
	for {
		e, err := ch.Receive(ctx, time.Second)
		if errors.Is(err, progress.ErrTimeout) {
			continue
		}
		if errors.Is(err, progress.ErrDone) {
			return events
		}
		require.NoError(t, err)
		events = append(events, e)
	}
}

func terminal(t *testing.T, events []progress.Event) progress.Event {
	t.Helper()
	require.NotEmpty(t, events)
	count := 0
	for _, e := range events {
		if e.IsTerminal() {
			count++
		}
	}
	require.Equal(t, 1, count, "exactly one terminal event")
	last := events[len(events)-1]
	require.True(t, last.IsTerminal(), "terminal event is last")
	return last
}

func TestStartTurn_NewThread(t *testing.T) {
	st := store.NewMockStore()
	fake := &llm.Fake{Handler: func(_ context.Context, req *llm.Request) (*llm.Response, error) {
		req.OnText("thinking about it")
		return llm.TextResponse("Hello! How can I help?"), nil
	}}
	events := NewEventBroadcaster(nil)
	defer events.Close()
	sub, _ := events.Subscribe(t.Context(), "alice")

	svc := newTestService(t, st, fake, Options{Events: events})

	turn, err := svc.StartTurn(context.Background(), &TurnRequest{UserID: "alice", Human: "  hi there "})
	require.NoError(t, err)
	require.NotEmpty(t, turn.ThreadID)

	got := drain(t, turn.Events)
	final := terminal(t, got)
	assert.Equal(t, progress.KindFinal, final.Kind)
	assert.Equal(t, turn.ThreadID, final.ThreadID)
	require.Len(t, final.UIMessages, 1)
	assert.Equal(t, "hi there", final.UIMessages[0].Human)
	assert.Equal(t, "Hello! How can I help?", final.UIMessages[0].AI)
	assert.Equal(t, progress.Thinking("thinking about it"), got[0])

	th, err := st.GetThread(context.Background(), turn.ThreadID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "hi there", th.Title)
	assert.Len(t, th.AgentMessages, 2)
	require.Len(t, th.UIMessages, 1)
	assert.Equal(t, int64(10), th.UIMessages[0].Usage.Input)
	assert.Equal(t, int64(15), th.UIMessages[0].Usage.TotalTokens)
	assert.JSONEq(t, `[]`, string(th.UIMessages[0].QueryResults))

	usage, err := st.GetThreadUsage(context.Background(), turn.ThreadID, "alice")
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.Equal(t, "m1", usage[0].ModelID)
	assert.Equal(t, th.UIMessages[0].TurnID, usage[0].TurnID)

	select {
	case ev := <-sub:
		assert.Equal(t, ThreadCreated, ev.Type)
		assert.Equal(t, turn.ThreadID, ev.ThreadID)
	case <-time.After(time.Second):
		t.Fatal("no thread event")
	}
}

func TestStartTurn_ExistingThreadUsesHistoryAndDefaultsTitle(t *testing.T) {
	st := store.NewMockStore()
	th := thread.New("New Chat 1", "alice")
	th.ReplaceAgentMessages([]thread.Message{thread.UserText("earlier question")})
	require.NoError(t, st.SaveThread(context.Background(), th, true))

	fake := &llm.Fake{}
	svc := newTestService(t, st, fake, Options{})

	turn, err := svc.StartTurn(context.Background(), &TurnRequest{ThreadID: th.ID, UserID: "alice", Human: "what are my tasks?"})
	require.NoError(t, err)
	assert.Equal(t, progress.KindFinal, terminal(t, drain(t, turn.Events)).Kind)

	calls := fake.Calls()
	require.Len(t, calls, 1)
	require.Len(t, calls[0].Messages, 2, "prior transcript plus the new message")
	assert.Equal(t, "earlier question", calls[0].Messages[0].Text())

	saved, err := st.GetThread(context.Background(), th.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "what are my tasks?", saved.Title)
	assert.Len(t, saved.AgentMessages, 3)

	// a second turn keeps the title
	turn, err = svc.StartTurn(context.Background(), &TurnRequest{ThreadID: th.ID, UserID: "alice", Human: "and tomorrow?"})
	require.NoError(t, err)
	drain(t, turn.Events)
	saved, err = st.GetThread(context.Background(), th.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "what are my tasks?", saved.Title)
	assert.Len(t, saved.UIMessages, 2)
}

func TestStartTurn_RequestedModelTriedFirst(t *testing.T) {
	fake := &llm.Fake{}
	svc := newTestService(t, store.NewMockStore(), fake, Options{Models: []string{"m1", "m2"}})

	turn, err := svc.StartTurn(context.Background(), &TurnRequest{UserID: "alice", Human: "hi", ModelID: "m2"})
	require.NoError(t, err)
	drain(t, turn.Events)
	assert.Equal(t, []string{"m2"}, fake.CalledModels())
	assert.Equal(t, []string{"m2", "m1"}, svc.candidates("m2"))
	assert.Equal(t, []string{"m1", "m2"}, svc.candidates(""))
}

func TestStartTurn_ErrorsEndWithErrorEvent(t *testing.T) {
	exhausted := &llm.Fake{Handler: func(_ context.Context, req *llm.Request) (*llm.Response, error) {
		return nil, fmt.Errorf("fake: %w", llm.ErrThrottled)
	}}
	broken := &llm.Fake{Handler: func(context.Context, *llm.Request) (*llm.Response, error) {
		return nil, errors.New("access denied")
	}}

	tests := []struct {
		name     string
		fake     *llm.Fake
		threadID string
		wantMsg  string
		wantCall []string
	}{
		{name: "unknown thread", fake: &llm.Fake{}, threadID: "missing", wantMsg: "Thread not found"},
		{name: "all models throttled", fake: exhausted, wantMsg: "All models are busy right now. Please try again shortly.", wantCall: []string{"m1", "m2"}},
		{name: "permanent failure", fake: broken, wantMsg: "An error occurred while processing your request", wantCall: []string{"m1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := store.NewMockStore()
			svc := newTestService(t, st, tt.fake, Options{})

			turn, err := svc.StartTurn(context.Background(), &TurnRequest{ThreadID: tt.threadID, UserID: "alice", Human: "hello"})
			require.NoError(t, err)

			last := terminal(t, drain(t, turn.Events))
			assert.Equal(t, progress.KindError, last.Kind)
			assert.Equal(t, tt.wantMsg, last.Content)
			if tt.wantCall == nil {
				assert.Empty(t, tt.fake.CalledModels())
			} else {
				assert.Equal(t, tt.wantCall, tt.fake.CalledModels())
			}
			assert.Zero(t, st.SaveCount(), "nothing persisted on failure")
		})
	}
}

func TestStartTurn_SaveFailureLeavesThreadUntouched(t *testing.T) {
	st := store.NewMockStore()
	th := thread.New("first", "alice")
	require.NoError(t, st.SaveThread(context.Background(), th, true))
	before, err := st.GetThread(context.Background(), th.ID, "alice")
	require.NoError(t, err)

	st.SaveErr = errors.New("disk full")
	svc := newTestService(t, st, &llm.Fake{}, Options{})

	turn, err := svc.StartTurn(context.Background(), &TurnRequest{ThreadID: th.ID, UserID: "alice", Human: "second"})
	require.NoError(t, err)
	last := terminal(t, drain(t, turn.Events))
	assert.Equal(t, progress.KindError, last.Kind)

	after, err := st.GetThread(context.Background(), th.ID, "alice")
	require.NoError(t, err)
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("thread changed after failed save (-before +after):\n%s", diff)
	}
	usage, _ := st.GetThreadUsage(context.Background(), th.ID, "alice")
	assert.Empty(t, usage)
}

func TestStartTurn_InFlightGuard(t *testing.T) {
	st := store.NewMockStore()
	th := thread.New("t", "alice")
	require.NoError(t, st.SaveThread(context.Background(), th, true))

	release := make(chan struct{})
	fake := &llm.Fake{Handler: func(ctx context.Context, req *llm.Request) (*llm.Response, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return llm.TextResponse("done"), nil
	}}
	svc := newTestService(t, st, fake, Options{})

	first, err := svc.StartTurn(context.Background(), &TurnRequest{ThreadID: th.ID, UserID: "alice", Human: "one"})
	require.NoError(t, err)
	assert.True(t, svc.InFlight("alice", th.ID))

	_, err = svc.StartTurn(context.Background(), &TurnRequest{ThreadID: th.ID, UserID: "alice", Human: "two"})
	assert.ErrorIs(t, err, ErrTurnInFlight)

	close(release)
	assert.Equal(t, progress.KindFinal, terminal(t, drain(t, first.Events)).Kind)
	assert.False(t, svc.InFlight("alice", th.ID))

	next, err := svc.StartTurn(context.Background(), &TurnRequest{ThreadID: th.ID, UserID: "alice", Human: "two"})
	require.NoError(t, err)
	assert.Equal(t, progress.KindFinal, terminal(t, drain(t, next.Events)).Kind)
}

func TestStartTurn_InFlightGuardIsPerOwner(t *testing.T) {
	st := store.NewMockStore()
	th := thread.New("t", "alice")
	require.NoError(t, st.SaveThread(context.Background(), th, true))

	release := make(chan struct{})
	fake := &llm.Fake{Handler: func(ctx context.Context, req *llm.Request) (*llm.Response, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return llm.TextResponse("done"), nil
	}}
	svc := newTestService(t, st, fake, Options{})

	first, err := svc.StartTurn(context.Background(), &TurnRequest{ThreadID: th.ID, UserID: "alice", Human: "one"})
	require.NoError(t, err)

	// another user's turn on alice's id is not told the thread is busy
	intruder, err := svc.StartTurn(context.Background(), &TurnRequest{ThreadID: th.ID, UserID: "bob", Human: "hi"})
	require.NoError(t, err)
	assert.Equal(t, progress.KindError, terminal(t, drain(t, intruder.Events)).Kind)
	assert.False(t, svc.InFlight("bob", th.ID))
	assert.True(t, svc.InFlight("alice", th.ID))

	close(release)
	assert.Equal(t, progress.KindFinal, terminal(t, drain(t, first.Events)).Kind)

	// a claim held on bob's behalf does not block alice
	require.False(t, svc.guard.CheckAndMark(guardKey("bob", th.ID)))
	defer svc.guard.Release(guardKey("bob", th.ID))

	next, err := svc.StartTurn(context.Background(), &TurnRequest{ThreadID: th.ID, UserID: "alice", Human: "two"})
	require.NoError(t, err)
	assert.Equal(t, progress.KindFinal, terminal(t, drain(t, next.Events)).Kind)
	assert.ErrorIs(t, svc.BackfillChart(context.Background(), "bob", th.ID, "", "two", `{}`), store.ErrNotFound)
}

func TestStartTurn_SurvivesClientDisconnect(t *testing.T) {
	st := store.NewMockStore()
	started := make(chan struct{})
	fake := &llm.Fake{Handler: func(ctx context.Context, req *llm.Request) (*llm.Response, error) {
		close(started)
		time.Sleep(50 * time.Millisecond)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return llm.TextResponse("still here"), nil
	}}
	svc := newTestService(t, st, fake, Options{})

	reqCtx, cancel := context.WithCancel(context.Background())
	turn, err := svc.StartTurn(reqCtx, &TurnRequest{UserID: "alice", Human: "hi"})
	require.NoError(t, err)
	<-started
	cancel()

	assert.Equal(t, progress.KindFinal, terminal(t, drain(t, turn.Events)).Kind)
	_, err = st.GetThread(context.Background(), turn.ThreadID, "alice")
	assert.NoError(t, err)
}

func TestShutdown_CancelsRunningTurns(t *testing.T) {
	defer goleak.VerifyNone(t)

	st := store.NewMockStore()
	started := make(chan struct{})
	fake := &llm.Fake{Handler: func(ctx context.Context, req *llm.Request) (*llm.Response, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	d := agent.NewDispatcher(fake, agent.Options{}, slog.Default())
	svc := New(st, d, Options{Models: []string{"m1"}}, slog.Default())

	turn, err := svc.StartTurn(context.Background(), &TurnRequest{UserID: "alice", Human: "long job"})
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Shutdown(ctx))

	last := terminal(t, drain(t, turn.Events))
	assert.Equal(t, progress.KindError, last.Kind)
	assert.Equal(t, "The request was cancelled", last.Content)

	_, err = svc.StartTurn(context.Background(), &TurnRequest{UserID: "alice", Human: "again"})
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestStartTurn_Timeout(t *testing.T) {
	fake := &llm.Fake{Handler: func(ctx context.Context, req *llm.Request) (*llm.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	svc := newTestService(t, store.NewMockStore(), fake, Options{Timeout: 50 * time.Millisecond})

	turn, err := svc.StartTurn(context.Background(), &TurnRequest{UserID: "alice", Human: "slow"})
	require.NoError(t, err)
	last := terminal(t, drain(t, turn.Events))
	assert.Equal(t, "The request timed out", last.Content)
}

func TestStartTurn_Validation(t *testing.T) {
	svc := newTestService(t, store.NewMockStore(), &llm.Fake{}, Options{})

	_, err := svc.StartTurn(context.Background(), &TurnRequest{UserID: "alice", Human: "   "})
	assert.ErrorIs(t, err, ErrEmptyInput)
	_, err = svc.StartTurn(context.Background(), &TurnRequest{Human: "hi"})
	assert.ErrorIs(t, err, ErrMissingUser)
}

func TestStartTurn_SpecialistPayloadReachesChatItem(t *testing.T) {
	st := store.NewMockStore()
	fake := &llm.Fake{Handler: func(_ context.Context, req *llm.Request) (*llm.Response, error) {
		last := req.Messages[len(req.Messages)-1]
		if req.Model == "sales-model" {
			if len(last.ToolResults()) == 0 {
				return llm.ToolCallResponse("s1", "run_query", map[string]string{"sql": "select 1"}), nil
			}
			return llm.TextResponse("East leads."), nil
		}
		if len(last.ToolResults()) == 0 {
			return llm.ToolCallResponse("o1", "sales_analytics_assistant", map[string]string{"query": "sales by region"}), nil
		}
		return llm.TextResponse("Summary: East leads."), nil
	}}

	rows := json.RawMessage(`[{"region":"east","total":10},{"region":"west","total":7}]`)
	d := agent.NewDispatcher(fake, agent.Options{}, slog.Default())
	sales := &agent.Specialist{
		Name:   "sales_analytics_assistant",
		Models: []string{"sales-model"},
		Tools: []agent.Tool{{Name: "run_query", Handler: func(context.Context, json.RawMessage) (agent.Output, error) {
			return agent.Output{Text: string(rows), Rows: rows, RowCount: 2}, nil
		}}},
	}
	svc := New(st, d, Options{Models: []string{"m1"}, Tools: []agent.Tool{sales.AsTool(d)}}, slog.Default())
	defer func() { _ = svc.Shutdown(context.Background()) }()

	turn, err := svc.StartTurn(context.Background(), &TurnRequest{UserID: "alice", Human: "sales by region?"})
	require.NoError(t, err)
	got := drain(t, turn.Events)
	final := terminal(t, got)

	require.Len(t, final.UIMessages, 1)
	item := final.UIMessages[0]
	assert.Equal(t, "East leads.", item.AI, "payload answer wins over the orchestrator's summary")
	assert.True(t, item.ShowGraph)
	assert.JSONEq(t, string(rows), string(item.QueryResults))

	var tools []string
	for _, e := range got {
		if e.Kind == progress.KindToolUse {
			tools = append(tools, e.Tool)
		}
	}
	assert.Equal(t, []string{"sales_analytics_assistant", "run_query"}, tools)
}
