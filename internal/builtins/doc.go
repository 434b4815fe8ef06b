// Package builtins provides the built-in specialists and their tools.
//
// # Specialists
//
// Personal assistant (personal_assistant):
//
//   - task_add: Create a task
//   - task_list: List tasks (filter by status/priority)
//   - task_update: Update a task's status, priority, notes, or due date
//   - task_delete: Delete a task
//
// Sales analytics (sales_analytics_assistant):
//
//   - list_tables: List tables in the analytics database
//   - describe_table: List a table's columns
//   - run_query: Run a single read-only SELECT
//
// # Tool Implementation
//
// Each tool is an agent.Handler:
//
//	func(ctx context.Context, input json.RawMessage) (agent.Output, error)
//
// The caller's user id comes from agent.UserIDFromContext. Task data is
// scoped to it; the analytics database is shared and read-only.
//
// # Query Results
//
// run_query returns its rows in Output.Rows. The specialist payload carries
// the last rows as query_results and sets show_graph when there is more
// than one row, which lets the UI offer a chart.
package builtins
