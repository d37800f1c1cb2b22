// Package graph renders workflow graphs as Mermaid flowcharts.
package graph

import (
	"fmt"
	"slices"
	"strings"

	"github.com/aretw0/weave/pkg/domain"
)

// Overlay contains run progress to paint on top of the graph.
type Overlay struct {
	Executed []string
	Skipped  []string
	Current  string
}

// GenerateMermaid produces a Mermaid flowchart of g.
// It applies semantic styling:
// - Entry: ((Circle))
// - Activity: [[Subroutine]]
// - Script: {{Hexagon}}
// - Join (several incoming edges): {Rhombus}
// - Default: [Rectangle]
// Overlay styles are appended when overlay is not nil.
func GenerateMermaid(g domain.Graph, overlay *Overlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	for _, node := range g.Nodes {
		safeID := sanitizeMermaidID(node.ID)
		opener, closer := shape(g, node)

		label := node.ID
		if node.Name != "" {
			label = node.Name + " <br/> " + node.ID
		}
		fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", safeID, opener, escape(label), closer)
	}

	for _, e := range g.Edges {
		arrow := "-->"
		if e.Condition != "" {
			arrow = fmt.Sprintf("-- \"%s\" -->", escape(e.Condition))
		}
		fmt.Fprintf(&sb, "    %s %s %s\n", sanitizeMermaidID(e.From), arrow, sanitizeMermaidID(e.To))
	}

	if overlay != nil {
		writeOverlay(&sb, overlay)
	}
	return sb.String()
}

func shape(g domain.Graph, node domain.NodeDef) (string, string) {
	switch {
	case node.ID == g.Entry:
		return "((", "))"
	case node.ConfigBool("activity"):
		return "[[", "]]"
	case node.Type == "script":
		return "{{", "}}"
	case len(g.Incoming(node.ID)) > 1:
		return "{", "}"
	}
	return "[", "]"
}

func writeOverlay(sb *strings.Builder, overlay *Overlay) {
	sb.WriteString("\n    %% Overlay Styles\n")
	// Black text keeps labels readable on both light and dark themes.
	sb.WriteString("    classDef executed fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
	sb.WriteString("    classDef skipped fill:#eeeeee,stroke:#9e9e9e,stroke-dasharray:4,color:#616161;\n")
	sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

	paint := func(ids []string, class string) {
		seen := make(map[string]bool, len(ids))
		for _, id := range ids {
			safeID := sanitizeMermaidID(id)
			if safeID == "" || seen[safeID] {
				continue
			}
			seen[safeID] = true
			fmt.Fprintf(sb, "    class %s %s;\n", safeID, class)
		}
	}
	paint(overlay.Executed, "executed")
	paint(overlay.Skipped, "skipped")
	if overlay.Current != "" {
		paint([]string{overlay.Current}, "current")
	}
}

// OverlayFromFrame marks the nodes a durable run has executed so far.
func OverlayFromFrame(f *domain.Frame) *Overlay {
	if f == nil {
		return nil
	}
	o := &Overlay{}
	for id, done := range f.Executed {
		if done {
			o.Executed = append(o.Executed, id)
		}
	}
	slices.Sort(o.Executed)
	return o
}

func escape(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}

func sanitizeMermaidID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", "/", "_", "\\", "_", " ", "_")
	return r.Replace(id)
}
