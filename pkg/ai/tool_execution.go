package ai

// ToolExecution defines where a tool's result goes.
//
//   - ToolExecutionServer: executed by the caller's loop immediately and the
//     result is sent back to the model, which then continues.
//   - ToolExecutionClient: the call carries the final answer; its arguments
//     are handed to the caller that started the conversation, and the model
//     only hears back once the caller has judged them.
type ToolExecution string

const (
	ToolExecutionServer ToolExecution = "server"
	ToolExecutionClient ToolExecution = "client"
)

// NormalizedToolExecution returns a normalized execution mode where empty or
// unknown values default to server execution.
func (t Tool) NormalizedToolExecution() ToolExecution {
	if t.Execution == ToolExecutionClient {
		return ToolExecutionClient
	}

	return ToolExecutionServer
}

// FindTool returns the tool named name.
func FindTool(tools []Tool, name string) (Tool, bool) {
	for _, t := range tools {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}
