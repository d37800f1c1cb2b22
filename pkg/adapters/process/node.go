package process

import (
	"context"
	"fmt"

	"github.com/aretw0/weave/pkg/domain"
	"github.com/aretw0/weave/pkg/node"
	"github.com/aretw0/weave/pkg/registry"
	"github.com/aretw0/weave/pkg/runstate"
	"github.com/mitchellh/mapstructure"
)

// TypeProcess is the registry tag of process nodes.
const TypeProcess = "process"

// DefaultCost is charged when a process node does not declare one.
const DefaultCost int64 = 10

type nodeConfig struct {
	Tool      string   `mapstructure:"tool"`
	Command   []string `mapstructure:"command"`
	Cost      *int64   `mapstructure:"cost"`
	Next      string   `mapstructure:"next"`
	Terminate bool     `mapstructure:"terminate"`
}

// Register adds the process node type to reg. Process nodes are activities:
// a command that completed is never run again for the same attempt.
func Register(reg *registry.Registry, r *Runner) {
	reg.Register(registry.Descriptor{
		Type:        TypeProcess,
		Description: "run an allow-listed local command",
		Factory:     r.factory,
		Activity:    true,
	})
}

func (r *Runner) factory(def domain.NodeDef, _ *runstate.State) (node.Node, error) {
	var cfg nodeConfig
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{Result: &cfg, WeaklyTypedInput: true})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(def.Config); err != nil {
		return nil, fmt.Errorf("invalid config for %s node %s: %w", def.Type, def.ID, err)
	}
	tool, err := r.resolve(cfg.Tool, cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", def.ID, err)
	}

	cost := DefaultCost
	if cfg.Cost != nil {
		cost = *cfg.Cost
	}
	return node.New(def, cost, func(ctx context.Context, in node.Inputs) (node.Output, error) {
		out, err := r.Execute(ctx, tool, in)
		if err != nil {
			return node.Output{}, err
		}
		return node.Output{Values: out, Next: cfg.Next, TerminateRun: cfg.Terminate}, nil
	}), nil
}
