package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/weave/pkg/domain"
)

// Describe writes a Markdown summary of g and its validation report.
func Describe(g domain.Graph, report domain.ValidationReport) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", g.WorkflowID())
	fmt.Fprintf(&sb, "Entry: `%s`, %d nodes, %d edges.\n\n", g.Entry, len(g.Nodes), len(g.Edges))

	sb.WriteString("## Nodes\n\n")
	sb.WriteString("| ID | Type | Inputs | Outputs | Activity |\n")
	sb.WriteString("|----|------|--------|---------|----------|\n")
	for _, n := range g.Nodes {
		activity := ""
		if n.ConfigBool("activity") {
			activity = "yes"
		}
		fmt.Fprintf(&sb, "| `%s` | %s | %s | %s | %s |\n", n.ID, n.Type, ports(n.Inputs), ports(n.Outputs), activity)
	}

	if len(g.Edges) > 0 {
		sb.WriteString("\n## Edges\n\n")
		for _, e := range g.Edges {
			fmt.Fprintf(&sb, "- `%s` → `%s`", e.From, e.To)
			if e.Condition != "" {
				fmt.Fprintf(&sb, " when `%s`", e.Condition)
			}
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\n## Validation\n\n")
	if len(report.Issues) == 0 {
		sb.WriteString("No issues.\n")
	}
	for _, is := range report.Issues {
		node := ""
		if is.NodeID != "" {
			node = fmt.Sprintf(" (`%s`)", is.NodeID)
		}
		fmt.Fprintf(&sb, "- **%s** %s%s: %s\n", is.Level, is.Code, node, is.Message)
	}
	return sb.String()
}

func ports(ps []domain.Port) string {
	if len(ps) == 0 {
		return "-"
	}
	parts := make([]string, len(ps))
	for i, p := range ps {
		s := p.Key()
		if p.Type != "" {
			s += ":" + p.Type
		}
		if p.Required {
			s += "!"
		}
		parts[i] = s
	}
	return strings.Join(parts, ", ")
}
