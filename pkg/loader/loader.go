// Package loader reads graph definitions from YAML or JSON documents.
package loader

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aretw0/weave/pkg/domain"
	"gopkg.in/yaml.v3"
)

// Format is a graph document encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// ErrUnsupportedFormat is returned for file extensions other than .yaml, .yml and .json.
var ErrUnsupportedFormat = errors.New("unsupported graph format")

// FormatOf picks the format from the file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// Load reads the graph file at path.
func Load(path string) (domain.Graph, error) {
	format, err := FormatOf(path)
	if err != nil {
		return domain.Graph{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Graph{}, fmt.Errorf("failed to read graph file: %w", err)
	}
	g, err := Parse(data, format)
	if err != nil {
		return domain.Graph{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return g, nil
}

// Parse decodes one graph document. Unknown fields are rejected so that typos
// surface before validation.
func Parse(data []byte, format Format) (domain.Graph, error) {
	var g domain.Graph
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&g); err != nil {
			return domain.Graph{}, fmt.Errorf("failed to decode JSON graph: %w", err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&g); err != nil && !errors.Is(err, io.EOF) {
			return domain.Graph{}, fmt.Errorf("failed to decode YAML graph: %w", err)
		}
		normalize(&g)
	default:
		return domain.Graph{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	return g, nil
}

// normalize turns the map[interface{}]interface{} values nested yaml
// documents can produce into map[string]any, as JSON decoding would.
func normalize(g *domain.Graph) {
	g.GlobalState = stringMap(g.GlobalState)
	for i := range g.Nodes {
		g.Nodes[i].Config = stringMap(g.Nodes[i].Config)
		g.Nodes[i].Data = clean(g.Nodes[i].Data)
	}
}

func stringMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = clean(v)
	}
	return out
}

func clean(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return stringMap(t)
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, v := range t {
			out[fmt.Sprint(k)] = clean(v)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, v := range t {
			out[i] = clean(v)
		}
		return out
	default:
		return v
	}
}

// Encode writes g in the given format.
func Encode(w io.Writer, g domain.Graph, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(g)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(g); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}
