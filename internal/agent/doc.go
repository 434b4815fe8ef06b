// Package agent invokes LLM-backed agents on behalf of the turn coordinator.
//
// # Overview
//
// Every model call in the gateway goes through a Dispatcher. It owns the
// tool loop and the model failover policy, so specialists are plain data:
// a prompt, a ranked list of candidate models and a set of tools.
//
// # Dispatcher
//
//	d := agent.NewDispatcher(router, agent.Options{MaxSteps: 8}, logger)
//	res, err := d.Invoke(ctx, &agent.InvokeRequest{
//	    SystemPrompt: prompt,
//	    Input:        "sales by region last quarter",
//	    Models:       []string{"anthropic/claude-sonnet-4-5", "openai/gpt-4o"},
//	    Tools:        registry.Tools(d, models),
//	    History:      th.AgentMessages,
//	})
//
// Invoke tries each candidate model in order:
//
//  1. The model is called with the history plus the new user message.
//  2. While it asks for tools, each tool runs and its result is appended.
//  3. When it stops asking, its text is the response.
//
// A model error wrapping llm.ErrThrottled moves to the next candidate with
// a fresh transcript. Any other error aborts the invocation. When every
// candidate is throttled Invoke returns ErrModelsExhausted.
//
// Tool failures never abort the loop. Unknown tools, handler errors and
// handler panics are returned to the model as error tool results.
//
// # Specialists
//
// Specialist.AsTool exposes a sub-agent as a tool taking {"query": "..."}.
// The tool result is a Payload:
//
//	{"response": "...", "messages": [...], "query_results": [...], "show_graph": true, "status": "success"}
//
// The turn coordinator reads the final answer and chart data from it.
//
// # Progress
//
// An Observer receives streamed text and tool names. Nested specialists
// inherit the observer of the outer invocation through the context, as does
// the caller's user id (WithUserID).
package agent
