// Package compiler lowers a validated Graph into a linear Program.
//
// Nodes reachable from the entry are laid out in topological order, ties
// broken by declaration order. Each node N owns three locals: its activation
// flag, its branch override and its outputs. A node runs only when active;
// its outgoing edges are always evaluated so that inactive branches still
// arrive (as inactive) at downstream join points.
package compiler

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aretw0/weave/internal/validator"
	"github.com/aretw0/weave/pkg/domain"
	"github.com/aretw0/weave/pkg/node"
	"github.com/aretw0/weave/pkg/runstate"
	"github.com/google/uuid"
)

// Registry is the subset of the node registry used during compilation.
type Registry interface {
	Has(nodeType string) bool
	IsActivity(def domain.NodeDef) bool
	New(def domain.NodeDef, state *runstate.State) (node.Node, error)
}

// Artifact is the result of a compilation.
// Program is nil when Validation reports an error-level issue.
type Artifact struct {
	Program    *domain.Program         `json:"program,omitempty"`
	Validation domain.ValidationReport `json:"validation"`
	Estimate   domain.CostEstimate     `json:"estimate"`
}

type config struct {
	validatorOpts []validator.Option
}

// Option configures Compile.
type Option func(*config)

// WithConditionChecker forwards c to the validator.
func WithConditionChecker(c validator.ConditionChecker) Option {
	return func(cfg *config) {
		cfg.validatorOpts = append(cfg.validatorOpts, validator.WithConditionChecker(c))
	}
}

const slotsPerNode = 3

type layout struct {
	index map[string]int
}

func (l layout) act(id string) int  { return l.index[id] * slotsPerNode }
func (l layout) next(id string) int { return l.index[id]*slotsPerNode + 1 }
func (l layout) out(id string) int  { return l.index[id]*slotsPerNode + 2 }

// incoming returns the edges entering id from compiled nodes. Edges leaving
// unreachable nodes never fire and are not counted.
func (l layout) incoming(g domain.Graph, id string) []domain.EdgeDef {
	var out []domain.EdgeDef
	for _, e := range g.Incoming(id) {
		if _, ok := l.index[e.From]; ok {
			out = append(out, e)
		}
	}
	return out
}

// Compile validates g and lowers it into a Program.
func Compile(g domain.Graph, reg Registry, opts ...Option) Artifact {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}

	art := Artifact{Validation: validator.Validate(g, reg, cfg.validatorOpts...)}
	if !art.Validation.OK {
		return art
	}

	order := topoOrder(g)
	estimate, ok := estimate(g, order, reg, &art.Validation)
	art.Estimate = estimate
	if !ok {
		return art
	}

	lay := layout{index: make(map[string]int, len(order))}
	for i, id := range order {
		lay.index[id] = i
	}

	b := &builder{}
	b.emit(domain.Instr{Op: domain.OpPushConst, Const: true})
	b.emit(domain.Instr{Op: domain.OpSetVar, Slot: lay.act(g.Entry)})

	for _, id := range order {
		def, _ := g.Node(id)
		incoming := lay.incoming(g, id)

		if len(incoming) >= 2 {
			b.emit(domain.Instr{Op: domain.OpJoin, JoinID: id, Count: len(incoming)})
			b.emit(domain.Instr{Op: domain.OpSetVar, Slot: lay.act(id)})
		}

		b.emit(domain.Instr{Op: domain.OpGetVar, Slot: lay.act(id)})
		skip := b.emit(domain.Instr{Op: domain.OpJmpIf, Negate: true})

		b.emit(domain.Instr{
			Op:      domain.OpLoadInputs,
			NodeID:  id,
			Ports:   portRefs(def.Inputs),
			Sources: sourceSlots(incoming, lay),
		})

		call := domain.Instr{
			Op:       domain.OpCallNode,
			NodeID:   id,
			NodeType: def.Type,
			Slot:     lay.next(id),
			Cost:     estimate.PerNode[id],
		}
		activity := reg.IsActivity(def)
		if activity {
			call.Op = domain.OpCallActivity
		}
		b.emit(call)
		if activity {
			b.emit(domain.Instr{Op: domain.OpCheckpoint, NodeID: id})
		}

		b.emit(domain.Instr{
			Op:     domain.OpStoreOutputs,
			NodeID: id,
			Ports:  portRefs(def.Outputs),
			Slot:   lay.out(id),
		})

		b.patch(skip, b.pc())
		for _, e := range g.Outgoing(id) {
			b.emit(domain.Instr{
				Op:       domain.OpEval,
				NodeID:   id,
				To:       e.To,
				EdgeID:   e.ID,
				Cond:     e.Condition,
				Slot:     lay.act(id),
				NextSlot: lay.next(id),
			})
			if fanIn := len(lay.incoming(g, e.To)); fanIn == 1 {
				b.emit(domain.Instr{Op: domain.OpSetVar, Slot: lay.act(e.To)})
			} else {
				b.emit(domain.Instr{Op: domain.OpArrive, JoinID: e.To, EdgeID: e.ID, Count: fanIn})
			}
		}
	}
	b.emit(domain.Instr{Op: domain.OpEnd})

	art.Program = &domain.Program{
		ID:         programID(g),
		WorkflowID: g.WorkflowID(),
		Chunk:      b.chunk,
		Locals:     len(order) * slotsPerNode,
		Graph:      g,
		Estimate:   estimate,
	}
	return art
}

type builder struct {
	chunk []domain.Instr
}

func (b *builder) emit(in domain.Instr) int {
	b.chunk = append(b.chunk, in)
	return len(b.chunk) - 1
}

func (b *builder) pc() int { return len(b.chunk) }

func (b *builder) patch(at, target int) { b.chunk[at].Target = target }

// topoOrder returns the nodes reachable from the entry in topological order.
// Among ready nodes the earliest declared wins. The graph must be acyclic.
func topoOrder(g domain.Graph) []string {
	reached := map[string]bool{g.Entry: true}
	queue := []string{g.Entry}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range g.Outgoing(cur) {
			if !reached[e.To] {
				reached[e.To] = true
				queue = append(queue, e.To)
			}
		}
	}

	indeg := make(map[string]int)
	for _, e := range g.Edges {
		if reached[e.From] && reached[e.To] {
			indeg[e.To]++
		}
	}

	order := make([]string, 0, len(reached))
	done := make(map[string]bool, len(reached))
	for len(order) < len(reached) {
		picked := ""
		for _, n := range g.Nodes {
			if reached[n.ID] && !done[n.ID] && indeg[n.ID] == 0 {
				picked = n.ID
				break
			}
		}
		if picked == "" {
			break
		}
		done[picked] = true
		order = append(order, picked)
		for _, e := range g.Outgoing(picked) {
			indeg[e.To]--
		}
	}
	return order
}

func estimate(g domain.Graph, order []string, reg Registry, report *domain.ValidationReport) (domain.CostEstimate, bool) {
	est := domain.CostEstimate{PerNode: make(map[string]int64, len(order))}
	state := runstate.New("", g.GlobalState)
	ok := true
	for _, id := range order {
		def, _ := g.Node(id)
		n, err := reg.New(def, state)
		if err != nil {
			report.Add(domain.LevelError, domain.CodeInvalidConfig, id, "node %q cannot be built: %v", id, err)
			ok = false
			continue
		}
		cost := n.EstimatedCostBeforeExecution()
		est.PerNode[id] = cost
		est.Total += cost
	}
	return est, ok
}

func portRefs(ports []domain.Port) []domain.PortRef {
	if len(ports) == 0 {
		return nil
	}
	out := make([]domain.PortRef, 0, len(ports))
	for _, p := range ports {
		out = append(out, domain.PortRef{Key: p.Key(), Required: p.Required})
	}
	return out
}

func sourceSlots(incoming []domain.EdgeDef, lay layout) []int {
	var out []int
	seen := make(map[string]bool)
	for _, e := range incoming {
		if seen[e.From] {
			continue
		}
		seen[e.From] = true
		out = append(out, lay.out(e.From))
	}
	return out
}

// programID derives a stable id from the graph content, so recompiling the
// same graph version yields the same program id.
func programID(g domain.Graph) string {
	data, err := json.Marshal(g)
	if err != nil {
		return uuid.NewString()
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, data).String()
}

// Disassemble renders a program listing, one instruction per line.
func Disassemble(p *domain.Program) string {
	var sb strings.Builder
	for i, in := range p.Chunk {
		fmt.Fprintf(&sb, "%04d  %s\n", i, in)
	}
	return sb.String()
}
