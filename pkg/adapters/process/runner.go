// Package process runs allow-listed local commands as workflow nodes.
package process

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"

	"github.com/aretw0/weave/internal/logging"
	"github.com/aretw0/weave/pkg/domain"
)

// ArgPrefix prefixes the environment variables carrying node inputs.
const ArgPrefix = "WEAVE_ARG_"

// ExitTempFail is the sysexits code for a temporary failure. A command
// exiting with it is retried.
const ExitTempFail = 75

// ErrToolNotRegistered is returned for commands outside the allow-list.
var ErrToolNotRegistered = errors.New("process tool not registered")

var argKey = regexp.MustCompile(`[^A-Z0-9_]`)

// Runner executes local processes.
// It follows a strict registry pattern (allow-listing): only registered tools
// run, unless inline execution is enabled.
type Runner struct {
	registry    map[string]ToolConfig
	allowInline bool
	baseDir     string
	logger      *slog.Logger
}

// RunnerOption configures the runner.
type RunnerOption func(*Runner)

// WithTools populates the allow-list from a loaded config.
func WithTools(tools map[string]ToolConfig) RunnerOption {
	return func(r *Runner) {
		for name, tool := range tools {
			tool.Name = name
			r.registry[name] = tool
		}
	}
}

// WithInlineExecution lets nodes name a command directly in their config.
func WithInlineExecution(allow bool) RunnerOption {
	return func(r *Runner) {
		r.allowInline = allow
	}
}

// WithBaseDir sets the working directory for executed processes.
func WithBaseDir(dir string) RunnerOption {
	return func(r *Runner) {
		r.baseDir = dir
	}
}

// WithLogger sets the runner logger.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = l
	}
}

// NewRunner creates a new process runner.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		registry: make(map[string]ToolConfig),
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a trusted command to the allow-list.
func (r *Runner) Register(name string, command string, args ...string) {
	r.registry[name] = ToolConfig{Name: name, Command: command, Args: args}
}

// Tools returns the registered tool names.
func (r *Runner) Tools() []string {
	names := make([]string, 0, len(r.registry))
	for name := range r.registry {
		names = append(names, name)
	}
	return names
}

// resolve returns the tool to run: the registered one for name, or the inline
// command when allowed.
func (r *Runner) resolve(name string, inline []string) (ToolConfig, error) {
	if tool, ok := r.registry[name]; ok && name != "" {
		return tool, nil
	}
	if len(inline) > 0 && r.allowInline {
		return ToolConfig{Name: inline[0], Command: inline[0], Args: inline[1:]}, nil
	}
	if len(inline) > 0 {
		return ToolConfig{}, fmt.Errorf("%w: inline command %q (inline execution disabled)", ErrToolNotRegistered, inline[0])
	}
	return ToolConfig{}, fmt.Errorf("%w: %s", ErrToolNotRegistered, name)
}

// Execute runs tool with args passed as WEAVE_ARG_<KEY> environment
// variables, never as command flags. A JSON object on stdout becomes the
// output map; any other output is returned under "stdout".
//
// Failures caused by the context or by exit code ExitTempFail are retryable.
func (r *Runner) Execute(ctx context.Context, tool ToolConfig, args map[string]any) (map[string]any, error) {
	cmd := exec.CommandContext(ctx, tool.Command, tool.Args...)
	cmd.Dir = r.baseDir

	env := cmd.Environ()
	for k, v := range tool.Environment {
		env = append(env, k+"="+v)
	}
	for k, v := range args {
		env = append(env, ArgPrefix+argKey.ReplaceAllString(strings.ToUpper(k), "_")+"="+envValue(v))
	}
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug("running process", "tool", tool.Name, "command", tool.Command)
	if err := cmd.Run(); err != nil {
		err = fmt.Errorf("process %s failed: %w. Stderr: %s", tool.Name, err, strings.TrimSpace(stderr.String()))
		var exitErr *exec.ExitError
		if ctx.Err() != nil || (errors.As(err, &exitErr) && exitErr.ExitCode() == ExitTempFail) {
			return nil, domain.Retryable(err)
		}
		return nil, err
	}

	trimmed := strings.TrimSpace(stdout.String())
	if strings.HasPrefix(trimmed, "{") {
		var out map[string]any
		if err := json.Unmarshal([]byte(trimmed), &out); err == nil {
			return out, nil
		}
	}
	return map[string]any{"stdout": trimmed}, nil
}

// envValue formats primitives with %v and everything else as JSON.
func envValue(v any) string {
	switch v.(type) {
	case nil:
		return ""
	case string, int, int64, float64, bool:
		return fmt.Sprintf("%v", v)
	}
	if data, err := json.Marshal(v); err == nil {
		return string(data)
	}
	return fmt.Sprintf("%v", v)
}
