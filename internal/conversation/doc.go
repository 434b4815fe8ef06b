// Package conversation coordinates user turns end to end.
//
// # Overview
//
// The conversation package sits between the HTTP handlers and the agent
// dispatcher. A handler starts a turn and drains its progress channel as
// SSE; the turn itself runs on its own goroutine and talks to the handler
// only through that channel and the store.
//
// # Service
//
//	svc := conversation.New(store, dispatcher, conversation.Options{...}, logger)
//	turn, err := svc.StartTurn(ctx, &conversation.TurnRequest{ThreadID: id, UserID: user, Human: text})
//
// A turn moves through these states:
//
//	RECEIVED -> THREAD_LOADED -> AGENT_RUNNING -> RESULT_EXTRACTED -> PERSISTED -> STREAM_CLOSED
//
// and to ERROR from any step. Every ERROR publishes an error event as the
// terminal event; a successful turn publishes the final event carrying the
// thread's ui_msgs. Either way exactly one terminal event is published.
//
// # Thread Handling
//
//   - An empty thread id starts a new thread titled by the user's message.
//   - An existing thread is loaded by (thread_id, user_id); a miss is an error event.
//   - The title is set from the message while the thread has no completed turns.
//   - The transcript is replaced and one ChatItem appended, then saved.
//
// A failed save leaves nothing persisted; the turn reports an error.
//
// # Concurrency
//
// Turns are detached from the request context so a client disconnect does
// not stop them. They are bounded by a timeout and cancelled by Shutdown.
// An in-flight guard keyed by owner and thread id rejects a second turn on the same
// thread with ErrTurnInFlight while the first is running.
//
// # Event Broadcasting
//
// EventBroadcaster fans thread lifecycle events (created, updated, deleted)
// out to every open client of the same user:
//
//	ch, subID := broadcaster.Subscribe(ctx, userID)
//
// Slow subscribers drop events rather than block publishers.
//
// # Charts
//
// GenerateChart asks the chart model for an ApexCharts definition of a
// turn's query results and backfills it as that turn's graph_code, matched
// by turn id or, failing that, by the most recent matching human text.
package conversation
