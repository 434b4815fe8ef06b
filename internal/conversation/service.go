// ABOUTME: Turn coordinator: runs one user turn in the background and streams its progress
// ABOUTME: Loads the thread, invokes the orchestrator, extracts the answer, persists, then closes the stream

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/2389/assistant-gateway/internal/agent"
	"github.com/2389/assistant-gateway/internal/dedupe"
	"github.com/2389/assistant-gateway/internal/progress"
	"github.com/2389/assistant-gateway/internal/store"
	"github.com/2389/assistant-gateway/internal/thread"
)

var (
	// ErrTurnInFlight indicates another turn is already running on the thread.
	ErrTurnInFlight = errors.New("a turn is already in progress for this thread")

	// ErrEmptyInput indicates a turn without user text.
	ErrEmptyInput = errors.New("human input is required")

	// ErrMissingUser indicates a turn without a caller identity.
	ErrMissingUser = errors.New("user id is required")

	// ErrShuttingDown indicates the service no longer accepts turns.
	ErrShuttingDown = errors.New("service is shutting down")
)

const (
	defaultTurnTimeout = 5 * time.Minute
	defaultInFlightTTL = 10 * time.Minute
	storeTimeout       = 10 * time.Second
)

// Store is what the coordinator needs from persistence.
type Store interface {
	GetThread(ctx context.Context, threadID, userID string) (*thread.Thread, error)
	SaveThread(ctx context.Context, t *thread.Thread, isNew bool) error
	SaveUsage(ctx context.Context, usage *store.TurnUsage) error
}

// Invoker runs an agent invocation. *agent.Dispatcher implements it.
type Invoker interface {
	Invoke(ctx context.Context, req *agent.InvokeRequest) (*agent.Result, error)
}

// Recorder observes turn outcomes. *metrics.Metrics implements it.
type Recorder interface {
	TurnStarted()
	TurnFinished(state State, d time.Duration)
	TokensUsed(model string, input, output int64)
}

type nopRecorder struct{}

func (nopRecorder) TurnStarted()                      {}
func (nopRecorder) TurnFinished(State, time.Duration) {}
func (nopRecorder) TokensUsed(string, int64, int64)   {}

// Options configures a Service.
type Options struct {
	// SystemPrompt is the orchestrator prompt.
	SystemPrompt string

	// Models are the ranked default candidates. A turn's requested model is
	// tried first.
	Models []string

	// Tools are offered to the orchestrator, typically specialists.
	Tools []agent.Tool

	// ChartModels generate chart definitions; Models are used when empty.
	ChartModels []string

	Timeout     time.Duration
	InFlightTTL time.Duration

	Events   *EventBroadcaster
	Recorder Recorder
}

// Service coordinates turns.
type Service struct {
	store   Store
	invoker Invoker
	opts    Options
	guard   *dedupe.Cache
	events  *EventBroadcaster
	rec     Recorder
	logger  *slog.Logger
	now     func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Service. Call Shutdown to cancel running turns and stop the
// in-flight guard's sweeper.
func New(st Store, inv Invoker, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTurnTimeout
	}
	if opts.InFlightTTL <= 0 {
		opts.InFlightTTL = defaultInFlightTTL
	}
	if len(opts.ChartModels) == 0 {
		opts.ChartModels = opts.Models
	}
	rec := opts.Recorder
	if rec == nil {
		rec = nopRecorder{}
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	return &Service{
		store:   st,
		invoker: inv,
		opts:    opts,
		guard:   dedupe.New(opts.InFlightTTL, 0),
		events:  opts.Events,
		rec:     rec,
		logger:  logger.With("component", "conversation"),
		now:     time.Now,
		baseCtx: baseCtx,
		cancel:  cancel,
	}
}

// TurnRequest is one user message.
type TurnRequest struct {
	// ThreadID is empty to start a new thread.
	ThreadID string
	UserID   string
	Human    string

	// ModelID, if set, is tried before the configured models.
	ModelID string
}

// Turn is a running turn. Events ends with exactly one final or error event.
type Turn struct {
	ThreadID string
	Events   *progress.Channel
}

// StartTurn validates req, spawns the turn and returns its progress channel.
// The turn is detached from ctx cancellation; it stops on its own timeout or
// on Shutdown.
func (s *Service) StartTurn(ctx context.Context, req *TurnRequest) (*Turn, error) {
	human := strings.TrimSpace(req.Human)
	if human == "" {
		return nil, ErrEmptyInput
	}
	if req.UserID == "" {
		return nil, ErrMissingUser
	}
	if s.baseCtx.Err() != nil {
		return nil, ErrShuttingDown
	}

	threadID := req.ThreadID
	var fresh *thread.Thread
	if threadID == "" {
		fresh = thread.New(human, req.UserID)
		threadID = fresh.ID
	}

	if s.guard.CheckAndMark(guardKey(req.UserID, threadID)) {
		return nil, ErrTurnInFlight
	}

	turnCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.Timeout)
	stop := context.AfterFunc(s.baseCtx, cancel)

	t := &turn{
		svc:      s,
		ctx:      turnCtx,
		threadID: threadID,
		userID:   req.UserID,
		human:    human,
		models:   s.candidates(req.ModelID),
		fresh:    fresh,
		ch:       progress.New(),
		started:  s.now(),
		logger:   s.logger.With("thread_id", threadID, "user_id", req.UserID),
	}

	s.wg.Add(1)
	s.rec.TurnStarted()
	go func() {
		defer s.wg.Done()
		defer cancel()
		defer stop()
		t.run()
	}()

	return &Turn{ThreadID: threadID, Events: t.ch}, nil
}

// InFlight reports whether userID has a turn running on threadID.
func (s *Service) InFlight(userID, threadID string) bool {
	return s.guard.Contains(guardKey(userID, threadID))
}

// guardKey scopes the in-flight guard to the thread's owner so that another
// user's request on the same id neither blocks nor reveals the thread.
func guardKey(userID, threadID string) string {
	return userID + "\x00" + threadID
}

// Shutdown cancels running turns and waits for them to publish their
// terminal events, or for ctx to expire.
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancel()
	defer s.guard.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) candidates(requested string) []string {
	models := make([]string, 0, len(s.opts.Models)+1)
	if requested = strings.TrimSpace(requested); requested != "" {
		models = append(models, requested)
	}
	for _, m := range s.opts.Models {
		if m != requested {
			models = append(models, m)
		}
	}
	return models
}

func (s *Service) publish(userID string, ev ThreadEvent) {
	if s.events != nil {
		s.events.Publish(userID, ev)
	}
}

// turn carries one turn's state through its steps.
type turn struct {
	svc      *Service
	ctx      context.Context
	threadID string
	userID   string
	human    string
	models   []string
	fresh    *thread.Thread
	ch       *progress.Channel
	started  time.Time
	state    State
	logger   *slog.Logger
}

func (t *turn) advance(to State) {
	if !t.state.next(to) {
		t.logger.Warn("unexpected turn transition", "from", t.state, "to", to)
	}
	t.logger.Debug("turn state", "from", t.state, "to", to)
	t.state = to
}

func (t *turn) run() {
	s := t.svc

	th, isNew, err := t.load()
	if err != nil {
		t.fail(err)
		return
	}
	t.advance(StateThreadLoaded)

	t.advance(StateAgentRunning)
	res, err := s.invoker.Invoke(agent.WithUserID(t.ctx, t.userID), &agent.InvokeRequest{
		SystemPrompt: s.opts.SystemPrompt,
		Input:        t.human,
		Models:       t.models,
		Tools:        s.opts.Tools,
		History:      th.AgentMessages,
		Observer:     channelObserver{ch: t.ch},
	})
	if err != nil {
		t.fail(err)
		return
	}

	ex := Extract(res.Transcript, res.Response)
	t.advance(StateResultExtracted)

	latency := s.now().Sub(t.started)
	usage := thread.Usage{
		Input:       res.Usage.InputTokens,
		Output:      res.Usage.OutputTokens,
		TotalTokens: res.Usage.InputTokens + res.Usage.OutputTokens,
		Latency:     latency.Seconds(),
	}

	// Mutate a copy so a failed save leaves the loaded thread untouched.
	next := th.Clone()
	next.DefaultTitle(t.human)
	next.ReplaceAgentMessages(res.Transcript)
	item := next.AppendUITurn(t.human, ex.Answer, ex.QueryResults, ex.ShowGraph, usage)

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(t.ctx), storeTimeout)
	err = s.store.SaveThread(saveCtx, next, isNew)
	cancel()
	if err != nil {
		t.fail(fmt.Errorf("saving thread: %w", err))
		return
	}
	t.advance(StatePersisted)

	s.rec.TokensUsed(res.ModelID, usage.Input, usage.Output)
	t.saveUsage(res.ModelID, item.TurnID, usage, latency)

	evType := ThreadUpdated
	if isNew {
		evType = ThreadCreated
	}
	s.publish(t.userID, ThreadEvent{
		Type:         evType,
		ThreadID:     next.ID,
		Title:        next.Title,
		MessageCount: next.MessageCount(),
	})

	t.logger.Info("turn completed",
		"turn_id", item.TurnID,
		"model", res.ModelID,
		"steps", res.Steps,
		"input_tokens", usage.Input,
		"output_tokens", usage.Output,
		"from_payload", ex.FromPayload,
		"latency", latency,
	)
	t.finish(progress.Final(next.ID, next.UIMessages), StateStreamClosed)
}

// load returns the thread for this turn and whether it is new.
func (t *turn) load() (*thread.Thread, bool, error) {
	if t.fresh != nil {
		return t.fresh, true, nil
	}
	th, err := t.svc.store.GetThread(t.ctx, t.threadID, t.userID)
	if err != nil {
		return nil, false, fmt.Errorf("loading thread: %w", err)
	}
	return th, false, nil
}

func (t *turn) saveUsage(model, turnID string, usage thread.Usage, latency time.Duration) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(t.ctx), storeTimeout)
	defer cancel()

	err := t.svc.store.SaveUsage(ctx, &store.TurnUsage{
		ThreadID:     t.threadID,
		TurnID:       turnID,
		UserID:       t.userID,
		ModelID:      model,
		InputTokens:  usage.Input,
		OutputTokens: usage.Output,
		LatencyMS:    latency.Milliseconds(),
	})
	if err != nil {
		t.logger.Error("failed to save usage", "error", err, "turn_id", turnID)
	}
}

// fail is the single reporting path for turn errors: log, then an error
// event as the terminal sentinel.
func (t *turn) fail(err error) {
	t.logger.Error("turn failed", "state", t.state, "error", err)
	t.advance(StateError)
	t.finish(progress.Error(t.threadID, clientMessage(err)), StateError)
}

func (t *turn) finish(e progress.Event, outcome State) {
	if outcome == StateStreamClosed {
		t.advance(StateStreamClosed)
	}
	// Release before the terminal event so a client reacting to it can
	// start the next turn immediately.
	t.svc.guard.Release(guardKey(t.userID, t.threadID))
	if err := t.ch.Finish(e); err != nil {
		t.logger.Warn("terminal event not delivered", "error", err)
	}
	t.svc.rec.TurnFinished(outcome, t.svc.now().Sub(t.started))
}

// clientMessage maps internal failures to text safe to show the user.
func clientMessage(err error) string {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return "Thread not found"
	case errors.Is(err, agent.ErrModelsExhausted):
		return "All models are busy right now. Please try again shortly."
	case errors.Is(err, context.DeadlineExceeded):
		return "The request timed out"
	case errors.Is(err, context.Canceled):
		return "The request was cancelled"
	default:
		return "An error occurred while processing your request"
	}
}

// channelObserver forwards agent progress to the turn's channel.
type channelObserver struct {
	ch *progress.Channel
}

func (o channelObserver) Thinking(text string) {
	_ = o.ch.Publish(progress.Thinking(text))
}

func (o channelObserver) ToolUse(name string) {
	_ = o.ch.Publish(progress.ToolUse(name))
}
