package domain

// ResultStatus is the control status of a node execution.
type ResultStatus string

const (
	StatusOK    ResultStatus = "ok"
	StatusError ResultStatus = "error"
)

// ErrCodeNodeAlreadyExecuted is reported when a node is asked to run twice.
const ErrCodeNodeAlreadyExecuted = "NODE_IS_ALREADY_EXECUTED"

// ResultPayload is the data produced by a successful node execution.
type ResultPayload struct {
	NodeID  string         `json:"nodeId"`
	Outputs map[string]any `json:"outputs"`
}

// ExecutionResult is returned by Node.Execute.
// Logic failures are returned as errors instead; an error status only signals
// a control problem such as re-execution.
type ExecutionResult struct {
	Status    ResultStatus   `json:"status"`
	ErrorCode string         `json:"errorCode,omitempty"`
	Payload   *ResultPayload `json:"payload,omitempty"`

	// Next, when set, restricts traversal to the edge leading to that node id.
	Next string `json:"next,omitempty"`

	// TerminateRun ends the run after this node.
	TerminateRun bool `json:"terminateRun,omitempty"`
}

// Outputs returns the payload outputs, or nil.
func (r ExecutionResult) Outputs() map[string]any {
	if r.Payload == nil {
		return nil
	}
	return r.Payload.Outputs
}
