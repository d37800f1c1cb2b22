package domain

import "fmt"

// OpCode names one instruction of the closed graph-execution instruction set.
type OpCode string

const (
	OpPushConst    OpCode = "PUSH_CONST"
	OpLoadInputs   OpCode = "LOAD_INPUTS"
	OpStoreOutputs OpCode = "STORE_OUTPUTS"
	OpGetVar       OpCode = "GET_VAR"
	OpSetVar       OpCode = "SET_VAR"
	OpEval         OpCode = "EVAL"
	OpCallNode     OpCode = "CALL_NODE"
	OpCallActivity OpCode = "CALL_ACTIVITY"
	OpArrive       OpCode = "ARRIVE"
	OpJoin         OpCode = "JOIN"
	OpJmp          OpCode = "JMP"
	OpJmpIf        OpCode = "JMP_IF"
	OpCheckpoint   OpCode = "CHECKPOINT"
	OpYield        OpCode = "YIELD"
	OpRaise        OpCode = "RAISE"
	OpEnd          OpCode = "END"
)

// PortRef addresses one declared port from inside an instruction.
type PortRef struct {
	Key      string `json:"key"`
	Required bool   `json:"required,omitempty"`
}

// Instr is a single instruction. Only the fields relevant to Op are set.
type Instr struct {
	Op OpCode `json:"op"`

	NodeID   string `json:"node_id,omitempty"`
	NodeType string `json:"node_type,omitempty"`

	// Slot is the locals slot read or written by the instruction.
	// For CALL_* it receives the node's explicit branch override.
	Slot int `json:"slot,omitempty"`

	// NextSlot is read by EVAL to honor a branch override of NodeID.
	NextSlot int `json:"next_slot,omitempty"`

	// Target is the jump destination of JMP and JMP_IF.
	Target int `json:"target,omitempty"`

	// Negate makes JMP_IF jump when the popped value is false.
	Negate bool `json:"negate,omitempty"`

	// JoinID and Count describe a join point; EdgeID identifies an arrival.
	JoinID string `json:"join_id,omitempty"`
	Count  int    `json:"count,omitempty"`
	EdgeID string `json:"edge_id,omitempty"`

	// To and Cond describe the edge evaluated by EVAL.
	To   string `json:"to,omitempty"`
	Cond string `json:"cond,omitempty"`

	Ports   []PortRef `json:"ports,omitempty"`
	Sources []int     `json:"sources,omitempty"`

	Const any `json:"const,omitempty"`

	// Code and Message are carried by RAISE.
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`

	// Cost is the pre-execution estimate of the called node.
	Cost int64 `json:"cost,omitempty"`
}

func (i Instr) String() string {
	switch i.Op {
	case OpCallNode, OpCallActivity, OpLoadInputs, OpStoreOutputs:
		return fmt.Sprintf("%s %s", i.Op, i.NodeID)
	case OpJmp, OpJmpIf:
		return fmt.Sprintf("%s ->%d", i.Op, i.Target)
	case OpJoin:
		return fmt.Sprintf("%s %s/%d", i.Op, i.JoinID, i.Count)
	case OpArrive:
		return fmt.Sprintf("%s %s <-%s", i.Op, i.JoinID, i.EdgeID)
	case OpEval:
		return fmt.Sprintf("%s %s->%s", i.Op, i.NodeID, i.To)
	case OpGetVar, OpSetVar:
		return fmt.Sprintf("%s #%d", i.Op, i.Slot)
	default:
		return string(i.Op)
	}
}

// CostEstimate aggregates node cost estimates of a program, in cost units.
type CostEstimate struct {
	PerNode map[string]int64 `json:"per_node"`
	Total   int64            `json:"total"`
}

// Program is the compiled, immutable form of a Graph.
// It is stored once per workflow version; runs reference it by ID.
type Program struct {
	ID         string       `json:"program_id"`
	WorkflowID string       `json:"workflow_id"`
	Chunk      []Instr      `json:"chunk"`
	Locals     int          `json:"locals"`
	Graph      Graph        `json:"graph"`
	Estimate   CostEstimate `json:"estimate"`
}
