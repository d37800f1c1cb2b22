package domain

import (
	"fmt"
	"strings"
)

// IssueLevel grades a validation issue.
type IssueLevel string

const (
	LevelError   IssueLevel = "error"
	LevelWarning IssueLevel = "warning"
	LevelInfo    IssueLevel = "info"
)

// Stable validation issue codes.
const (
	CodeEmptyGraph       = "EMPTY_GRAPH"
	CodeDuplicateNodeID  = "DUPLICATE_NODE_ID"
	CodeDuplicateEdgeID  = "DUPLICATE_EDGE_ID"
	CodeEntryNotFound    = "ENTRY_NOT_FOUND"
	CodeDanglingEdge     = "DANGLING_EDGE"
	CodeUnknownNodeType  = "UNKNOWN_NODE_TYPE"
	CodeCycleDetected    = "CYCLE_DETECTED"
	CodeRequiredInput    = "REQUIRED_INPUT_UNSATISFIED"
	CodeUnreachableNode  = "UNREACHABLE_NODE"
	CodeIDTooShort       = "ID_TOO_SHORT"
	CodeInvalidCondition = "INVALID_CONDITION"
	CodeInvalidConfig    = "INVALID_NODE_CONFIG"
	CodeInvalidPortType  = "INVALID_PORT_TYPE"
)

// Issue is one structural finding about a graph.
type Issue struct {
	Level   IssueLevel `json:"level"`
	Code    string     `json:"code"`
	Message string     `json:"message"`
	NodeID  string     `json:"nodeId,omitempty"`
}

// ValidationReport is the non-throwing result of validating a graph.
type ValidationReport struct {
	OK     bool    `json:"ok"`
	Issues []Issue `json:"issues"`
}

// Add appends an issue and keeps OK consistent.
func (r *ValidationReport) Add(level IssueLevel, code, nodeID, format string, args ...any) {
	r.Issues = append(r.Issues, Issue{
		Level:   level,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		NodeID:  nodeID,
	})
	if level == LevelError {
		r.OK = false
	}
}

// Errors returns the error-level issues.
func (r ValidationReport) Errors() []Issue {
	var out []Issue
	for _, is := range r.Issues {
		if is.Level == LevelError {
			out = append(out, is)
		}
	}
	return out
}

// Has reports whether an issue with code is present.
func (r ValidationReport) Has(code string) bool {
	for _, is := range r.Issues {
		if is.Code == code {
			return true
		}
	}
	return false
}

// ValidationError rejects a graph before a run starts.
type ValidationError struct {
	Report ValidationReport
}

func (e *ValidationError) Error() string {
	errs := e.Report.Errors()
	msgs := make([]string, 0, len(errs))
	for _, is := range errs {
		msgs = append(msgs, fmt.Sprintf("%s: %s", is.Code, is.Message))
	}
	return fmt.Sprintf("graph is invalid (%d errors): %s", len(errs), strings.Join(msgs, "; "))
}
