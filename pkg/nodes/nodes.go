// Package nodes provides the builtin node types.
//
//	const        emits config.values
//	passthrough  emits its inputs unchanged
//	set_state    merges config.values (or its inputs) into the run state
//	script       runs the Go source in NodeDef.Code with yaegi
//	fail         always fails; config.retryable marks the error transient
//
// Every type accepts the common config keys cost, next and terminate.
package nodes

import (
	"context"
	"errors"
	"fmt"

	"github.com/aretw0/weave/pkg/domain"
	"github.com/aretw0/weave/pkg/node"
	"github.com/aretw0/weave/pkg/registry"
	"github.com/aretw0/weave/pkg/runstate"
	"github.com/aretw0/weave/pkg/script"
	"github.com/mitchellh/mapstructure"
)

// Builtin type tags.
const (
	TypeConst       = "const"
	TypePassthrough = "passthrough"
	TypeSetState    = "set_state"
	TypeScript      = "script"
	TypeFail        = "fail"
)

// DefaultCost is charged when a node does not declare one.
const DefaultCost int64 = 1

type common struct {
	Cost      *int64 `mapstructure:"cost"`
	Next      string `mapstructure:"next"`
	Terminate bool   `mapstructure:"terminate"`
}

func (c common) cost() int64 {
	if c.Cost == nil {
		return DefaultCost
	}
	return *c.Cost
}

func (c common) output(values map[string]any) node.Output {
	return node.Output{Values: values, Next: c.Next, TerminateRun: c.Terminate}
}

type constConfig struct {
	Common common         `mapstructure:",squash"`
	Values map[string]any `mapstructure:"values"`
}

type setStateConfig struct {
	Common common         `mapstructure:",squash"`
	Values map[string]any `mapstructure:"values"`
	Deep   bool           `mapstructure:"deep"`
}

type failConfig struct {
	Common    common `mapstructure:",squash"`
	Message   string `mapstructure:"message"`
	Retryable bool   `mapstructure:"retryable"`
}

type scriptConfig struct {
	Common common `mapstructure:",squash"`
}

func decode(def domain.NodeDef, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(def.Config); err != nil {
		return fmt.Errorf("invalid config for %s node %s: %w", def.Type, def.ID, err)
	}
	return nil
}

// Register adds every builtin type to reg. Script nodes compile with ev.
func Register(reg *registry.Registry, ev *script.Evaluator) {
	reg.Register(registry.Descriptor{Type: TypeConst, Description: "emit static values", Factory: newConst})
	reg.Register(registry.Descriptor{Type: TypePassthrough, Description: "forward inputs", Factory: newPassthrough})
	reg.Register(registry.Descriptor{Type: TypeSetState, Description: "merge values into the run state", Factory: newSetState})
	reg.Register(registry.Descriptor{Type: TypeScript, Description: "run Go source with yaegi", Factory: scriptFactory(ev)})
	reg.Register(registry.Descriptor{Type: TypeFail, Description: "always fail", Factory: newFail})
}

// NewRegistry returns a registry preloaded with the builtin types.
func NewRegistry(ev *script.Evaluator) *registry.Registry {
	reg := registry.NewRegistry()
	Register(reg, ev)
	return reg
}

func newConst(def domain.NodeDef, _ *runstate.State) (node.Node, error) {
	var cfg constConfig
	if err := decode(def, &cfg); err != nil {
		return nil, err
	}
	return node.New(def, cfg.Common.cost(), func(ctx context.Context, _ node.Inputs) (node.Output, error) {
		values := make(map[string]any, len(cfg.Values))
		for k, v := range cfg.Values {
			values[k] = v
		}
		return cfg.Common.output(values), nil
	}), nil
}

func newPassthrough(def domain.NodeDef, _ *runstate.State) (node.Node, error) {
	var cfg common
	if err := decode(def, &cfg); err != nil {
		return nil, err
	}
	return node.New(def, cfg.cost(), func(ctx context.Context, in node.Inputs) (node.Output, error) {
		return cfg.output(map[string]any(in)), nil
	}), nil
}

func newSetState(def domain.NodeDef, st *runstate.State) (node.Node, error) {
	var cfg setStateConfig
	if err := decode(def, &cfg); err != nil {
		return nil, err
	}
	return node.New(def, cfg.Common.cost(), func(ctx context.Context, in node.Inputs) (node.Output, error) {
		patch := cfg.Values
		if patch == nil {
			patch = map[string]any(in)
		}
		var opts []runstate.MergeOption
		if cfg.Deep {
			opts = append(opts, runstate.Deep())
		}
		st.UpdatePartial(patch, opts...)
		return cfg.Common.output(patch), nil
	}), nil
}

func scriptFactory(ev *script.Evaluator) registry.Factory {
	return func(def domain.NodeDef, st *runstate.State) (node.Node, error) {
		var cfg scriptConfig
		if err := decode(def, &cfg); err != nil {
			return nil, err
		}
		run, err := ev.Compile(def.Code)
		if err != nil {
			return nil, err
		}
		return node.New(def, cfg.Common.cost(), func(ctx context.Context, in node.Inputs) (node.Output, error) {
			state := st.Get()
			out, err := run(map[string]any(in), state)
			if err != nil {
				return node.Output{}, err
			}
			st.UpdatePartial(state, runstate.Deep())
			return cfg.Common.output(out), nil
		}), nil
	}
}

func newFail(def domain.NodeDef, _ *runstate.State) (node.Node, error) {
	var cfg failConfig
	if err := decode(def, &cfg); err != nil {
		return nil, err
	}
	msg := cfg.Message
	if msg == "" {
		msg = "node " + def.ID + " failed"
	}
	return node.New(def, cfg.Common.cost(), func(ctx context.Context, _ node.Inputs) (node.Output, error) {
		err := errors.New(msg)
		if cfg.Retryable {
			return node.Output{}, domain.Retryable(err)
		}
		return node.Output{}, err
	}), nil
}
