// Package validator checks the structural soundness of a workflow graph.
package validator

import (
	"fmt"
	"strings"

	"github.com/aretw0/weave/pkg/domain"
	"github.com/aretw0/weave/pkg/schema"
)

// MinIDLength is the recommended minimum length of node and edge ids.
const MinIDLength = 16

// ExternalInputsKey is the node config key listing input ports that are fed
// from outside the graph.
const ExternalInputsKey = "external"

// TypeRegistry is the subset of the node registry the validator needs.
type TypeRegistry interface {
	Has(nodeType string) bool
}

// ConditionChecker rejects edge condition expressions that cannot be evaluated.
type ConditionChecker func(expr string) error

type config struct {
	checkCondition ConditionChecker
}

// Option configures Validate.
type Option func(*config)

// WithConditionChecker enables INVALID_CONDITION detection.
func WithConditionChecker(c ConditionChecker) Option {
	return func(cfg *config) { cfg.checkCondition = c }
}

// Validate inspects g and reports every structural issue it finds.
// It never fails: problems are returned as issues of the report.
func Validate(g domain.Graph, reg TypeRegistry, opts ...Option) domain.ValidationReport {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}

	report := domain.ValidationReport{OK: true, Issues: []domain.Issue{}}
	if len(g.Nodes) == 0 {
		report.Add(domain.LevelError, domain.CodeEmptyGraph, "", "graph %q declares no nodes", g.Name)
		return report
	}

	nodes := make(map[string]domain.NodeDef, len(g.Nodes))
	for _, n := range g.Nodes {
		if _, dup := nodes[n.ID]; dup {
			report.Add(domain.LevelError, domain.CodeDuplicateNodeID, n.ID, "node id %q is declared more than once", n.ID)
			continue
		}
		nodes[n.ID] = n
		if len(n.ID) < MinIDLength {
			report.Add(domain.LevelWarning, domain.CodeIDTooShort, n.ID, "node id %q is shorter than %d characters", n.ID, MinIDLength)
		}
		if reg == nil || !reg.Has(n.Type) {
			report.Add(domain.LevelError, domain.CodeUnknownNodeType, n.ID, "node type %q is not registered", n.Type)
		}
		for _, ports := range [][]domain.Port{n.Inputs, n.Outputs} {
			for _, err := range schema.ValidationErrors(schema.ParsePorts(ports)) {
				report.Add(domain.LevelError, domain.CodeInvalidPortType, n.ID, "node %q: %v", n.ID, err)
			}
		}
	}

	if _, ok := nodes[g.Entry]; !ok {
		report.Add(domain.LevelError, domain.CodeEntryNotFound, "", "entry node %q is not declared", g.Entry)
	}

	edgeIDs := make(map[string]bool, len(g.Edges))
	upstream := make(map[string][]string)
	adj := make(map[string][]string)
	for _, e := range g.Edges {
		if edgeIDs[e.ID] {
			report.Add(domain.LevelError, domain.CodeDuplicateEdgeID, e.From, "edge id %q is declared more than once", e.ID)
		}
		edgeIDs[e.ID] = true
		if len(e.ID) < MinIDLength {
			report.Add(domain.LevelWarning, domain.CodeIDTooShort, e.From, "edge id %q is shorter than %d characters", e.ID, MinIDLength)
		}

		_, fromOK := nodes[e.From]
		_, toOK := nodes[e.To]
		if !fromOK || !toOK {
			missing := e.From
			if fromOK {
				missing = e.To
			}
			report.Add(domain.LevelError, domain.CodeDanglingEdge, e.From, "edge %q references undeclared node %q", e.ID, missing)
			continue
		}
		adj[e.From] = append(adj[e.From], e.To)
		upstream[e.To] = append(upstream[e.To], e.From)

		if e.Condition != "" && cfg.checkCondition != nil {
			if err := cfg.checkCondition(e.Condition); err != nil {
				report.Add(domain.LevelError, domain.CodeInvalidCondition, e.From, "edge %q condition %q: %v", e.ID, e.Condition, err)
			}
		}
	}

	for _, n := range g.Nodes {
		external := externalInputs(n)
		for _, p := range n.Inputs {
			if !p.Required || external[p.Key()] {
				continue
			}
			if len(upstream[n.ID]) == 0 {
				report.Add(domain.LevelError, domain.CodeRequiredInput, n.ID, "required input %q of node %q has no upstream edge", p.Key(), n.ID)
				continue
			}
			if !providedBy(p.Key(), upstream[n.ID], nodes) {
				report.Add(domain.LevelError, domain.CodeRequiredInput, n.ID, "required input %q of node %q is not an output of any upstream node", p.Key(), n.ID)
			}
		}
	}

	if cycle := findCycle(g.Nodes, adj); cycle != nil {
		report.Add(domain.LevelError, domain.CodeCycleDetected, cycle[0], "cycle detected: %s", strings.Join(cycle, " -> "))
	}

	if _, ok := nodes[g.Entry]; ok {
		reached := reachable(g.Entry, adj)
		for _, n := range g.Nodes {
			if !reached[n.ID] {
				report.Add(domain.LevelWarning, domain.CodeUnreachableNode, n.ID, "node %q is not reachable from entry %q", n.ID, g.Entry)
			}
		}
	}

	return report
}

func externalInputs(n domain.NodeDef) map[string]bool {
	out := make(map[string]bool)
	switch v := n.Config[ExternalInputsKey].(type) {
	case []any:
		for _, k := range v {
			out[fmt.Sprint(k)] = true
		}
	case []string:
		for _, k := range v {
			out[k] = true
		}
	}
	return out
}

const (
	white = iota
	grey
	black
)

// findCycle returns the first cycle found by a depth-first search, as a path
// that starts and ends on the same node, or nil when the graph is acyclic.
func findCycle(nodes []domain.NodeDef, adj map[string][]string) []string {
	color := make(map[string]int, len(nodes))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		color[id] = grey
		stack = append(stack, id)
		for _, next := range adj[id] {
			switch color[next] {
			case grey:
				for i, s := range stack {
					if s == next {
						cycle := append([]string{}, stack[i:]...)
						return append(cycle, next)
					}
				}
			case white:
				if c := visit(next); c != nil {
					return c
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return nil
	}

	for _, n := range nodes {
		if color[n.ID] == white {
			if c := visit(n.ID); c != nil {
				return c
			}
		}
	}
	return nil
}

func reachable(entry string, adj map[string][]string) map[string]bool {
	visited := map[string]bool{entry: true}
	queue := []string{entry}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, next := range adj[current] {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return visited
}

// providedBy reports whether one of the upstream nodes may produce key. A node
// without declared outputs may produce anything.
func providedBy(key string, from []string, nodes map[string]domain.NodeDef) bool {
	for _, id := range from {
		outs := nodes[id].Outputs
		if len(outs) == 0 {
			return true
		}
		for _, o := range outs {
			if o.Key() == key {
				return true
			}
		}
	}
	return false
}
