// Package mcp exposes the weave engine as a Model Context Protocol server, so
// that assistants can validate and publish graphs and drive runs.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/aretw0/weave/internal/compiler"
	"github.com/aretw0/weave/internal/logging"
	"github.com/aretw0/weave/pkg/domain"
	"github.com/aretw0/weave/pkg/loader"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// CheckpointURI is the resource template of run checkpoints.
const CheckpointURI = "weave://runs/{run_id}/checkpoint"

// Engine defines the interface required by the MCP server to interact with Weave.
type Engine interface {
	Validate(g domain.Graph) domain.ValidationReport
	Compile(g domain.Graph) compiler.Artifact
	Publish(ctx context.Context, g domain.Graph) (*domain.Program, error)
	Start(ctx context.Context, programID string, input map[string]any) (string, error)
	Resume(ctx context.Context, runID string) error
	Checkpoint(ctx context.Context, runID string) (domain.Checkpoint, error)
}

// GraphArgs carries a graph document, JSON or YAML.
type GraphArgs struct {
	Graph string `json:"graph"`
}

// StartArgs are the arguments of start_run.
type StartArgs struct {
	ProgramID string `json:"program_id"`
	Input     string `json:"input,omitempty"`
}

// RunArgs identify a run.
type RunArgs struct {
	RunID string `json:"run_id"`
}

// ProgramResponse describes a published program.
type ProgramResponse struct {
	ProgramID  string `json:"program_id" jsonschema_description:"Content-addressed id of the program"`
	WorkflowID string `json:"workflow_id" jsonschema_description:"Graph name and version"`
	Estimate   int64  `json:"estimate" jsonschema_description:"Estimated cost of one run"`
}

// CompileResponse is the result of compile_graph.
type CompileResponse struct {
	Validation  domain.ValidationReport `json:"validation"`
	Disassembly string                  `json:"disassembly,omitempty" jsonschema_description:"Instruction listing of the program"`
}

// RunResponse identifies a started or resumed run.
type RunResponse struct {
	RunID string `json:"run_id"`
}

// CheckpointResponse summarizes the latest checkpoint of a run.
type CheckpointResponse struct {
	RunID     string         `json:"run_id"`
	ProgramID string         `json:"program_id"`
	Seq       int64          `json:"seq"`
	Finished  bool           `json:"finished"`
	AtMs      int64          `json:"at_ms"`
	Executed  []string       `json:"executed" jsonschema_description:"Nodes whose call completed"`
	State     map[string]any `json:"state,omitempty"`
}

// Server wraps the Weave Engine and exposes it as an MCP Server.
type Server struct {
	engine    Engine
	mcpServer *server.MCPServer
	tools     []string
	logger    *slog.Logger
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a new MCP Server instance.
func NewServer(engine Engine, version string, opts ...Option) *Server {
	s := &Server{
		engine: engine,
		logger: logging.NewNop(),
		mcpServer: server.NewMCPServer("weave-mcp", strings.TrimSpace(version),
			server.WithToolCapabilities(false),
			server.WithResourceCapabilities(false, false),
		),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// Tools returns the names of the registered tools.
func (s *Server) Tools() []string {
	return slices.Clone(s.tools)
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// SSEHandler returns the HTTP handler of the SSE transport. baseURL is the
// address clients use to reach it.
func (s *Server) SSEHandler(baseURL string) http.Handler {
	sse := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))
	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sse.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sse.MessageHandler()))
	return mux
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) addTool(tool mcp.Tool, h server.ToolHandlerFunc) {
	s.mcpServer.AddTool(tool, h)
	s.tools = append(s.tools, tool.Name)
}

func (s *Server) registerTools() {
	graphParam := mcp.WithString("graph", mcp.Required(), mcp.Description("Graph document, JSON or YAML"))

	s.addTool(mcp.NewTool("validate_graph",
		mcp.WithDescription("Check a workflow graph for structural errors."),
		graphParam,
		mcp.WithOutputSchema[domain.ValidationReport](),
	), mcp.NewStructuredToolHandler(s.handleValidate))

	s.addTool(mcp.NewTool("compile_graph",
		mcp.WithDescription("Compile a workflow graph and list its instructions."),
		graphParam,
		mcp.WithOutputSchema[CompileResponse](),
	), mcp.NewStructuredToolHandler(s.handleCompile))

	s.addTool(mcp.NewTool("publish_graph",
		mcp.WithDescription("Compile and store a workflow graph so that runs can be started from it."),
		graphParam,
		mcp.WithOutputSchema[ProgramResponse](),
	), mcp.NewStructuredToolHandler(s.handlePublish))

	s.addTool(mcp.NewTool("start_run",
		mcp.WithDescription("Start a run of a published program."),
		mcp.WithString("program_id", mcp.Required(), mcp.Description("Program id returned by publish_graph")),
		mcp.WithString("input", mcp.Description("JSON object merged over the graph's global state")),
		mcp.WithOutputSchema[RunResponse](),
	), mcp.NewStructuredToolHandler(s.handleStart))

	s.addTool(mcp.NewTool("resume_run",
		mcp.WithDescription("Republish the latest checkpoint of an unfinished run."),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("Run id")),
		mcp.WithOutputSchema[RunResponse](),
	), mcp.NewStructuredToolHandler(s.handleResume))

	s.addTool(mcp.NewTool("get_checkpoint",
		mcp.WithDescription("Show where a run stands: executed nodes, state and whether it finished."),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("Run id")),
		mcp.WithOutputSchema[CheckpointResponse](),
	), mcp.NewStructuredToolHandler(s.handleCheckpoint))
}

func parseGraph(doc string) (domain.Graph, error) {
	doc = strings.TrimSpace(doc)
	if doc == "" {
		return domain.Graph{}, errors.New("graph is required")
	}
	format := loader.FormatYAML
	if strings.HasPrefix(doc, "{") {
		format = loader.FormatJSON
	}
	return loader.Parse([]byte(doc), format)
}

func (s *Server) handleValidate(ctx context.Context, _ mcp.CallToolRequest, args GraphArgs) (domain.ValidationReport, error) {
	g, err := parseGraph(args.Graph)
	if err != nil {
		return domain.ValidationReport{}, err
	}
	return s.engine.Validate(g), nil
}

func (s *Server) handleCompile(ctx context.Context, _ mcp.CallToolRequest, args GraphArgs) (CompileResponse, error) {
	g, err := parseGraph(args.Graph)
	if err != nil {
		return CompileResponse{}, err
	}
	art := s.engine.Compile(g)
	resp := CompileResponse{Validation: art.Validation}
	if art.Program != nil {
		resp.Disassembly = compiler.Disassemble(art.Program)
	}
	return resp, nil
}

func (s *Server) handlePublish(ctx context.Context, _ mcp.CallToolRequest, args GraphArgs) (ProgramResponse, error) {
	g, err := parseGraph(args.Graph)
	if err != nil {
		return ProgramResponse{}, err
	}
	prog, err := s.engine.Publish(ctx, g)
	if err != nil {
		return ProgramResponse{}, err
	}
	s.logger.InfoContext(ctx, "program published over mcp", "program_id", prog.ID)
	return ProgramResponse{ProgramID: prog.ID, WorkflowID: prog.WorkflowID, Estimate: prog.Estimate.Total}, nil
}

func (s *Server) handleStart(ctx context.Context, _ mcp.CallToolRequest, args StartArgs) (RunResponse, error) {
	var input map[string]any
	if strings.TrimSpace(args.Input) != "" {
		if err := json.Unmarshal([]byte(args.Input), &input); err != nil {
			return RunResponse{}, fmt.Errorf("input must be a JSON object: %w", err)
		}
	}
	runID, err := s.engine.Start(ctx, args.ProgramID, input)
	if err != nil {
		return RunResponse{}, err
	}
	return RunResponse{RunID: runID}, nil
}

func (s *Server) handleResume(ctx context.Context, _ mcp.CallToolRequest, args RunArgs) (RunResponse, error) {
	if err := s.engine.Resume(ctx, args.RunID); err != nil {
		return RunResponse{}, err
	}
	return RunResponse{RunID: args.RunID}, nil
}

func (s *Server) handleCheckpoint(ctx context.Context, _ mcp.CallToolRequest, args RunArgs) (CheckpointResponse, error) {
	cp, err := s.engine.Checkpoint(ctx, args.RunID)
	if err != nil {
		return CheckpointResponse{}, err
	}
	return checkpointView(cp), nil
}

func checkpointView(cp domain.Checkpoint) CheckpointResponse {
	resp := CheckpointResponse{RunID: cp.RunID, AtMs: cp.AtMs, Executed: []string{}}
	if f := cp.Frame; f != nil {
		resp.ProgramID, resp.Seq, resp.Finished = f.ProgramID, f.Seq, f.Finished
		for id, done := range f.Executed {
			if done {
				resp.Executed = append(resp.Executed, id)
			}
		}
		slices.Sort(resp.Executed)
		if f.Env != nil {
			resp.State = f.Env.State
		}
	}
	return resp
}

func (s *Server) registerResources() {
	s.mcpServer.AddResourceTemplate(mcp.NewResourceTemplate(CheckpointURI, "Run checkpoint",
		mcp.WithTemplateDescription("Latest checkpoint of a run"),
		mcp.WithTemplateMIMEType("application/json"),
	), s.readCheckpoint)
}

func (s *Server) readCheckpoint(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := request.Params.URI
	runID, ok := strings.CutPrefix(uri, "weave://runs/")
	if ok {
		runID, ok = strings.CutSuffix(runID, "/checkpoint")
	}
	if !ok || runID == "" {
		return nil, fmt.Errorf("unknown resource %q", uri)
	}

	cp, err := s.engine.Checkpoint(ctx, runID)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(checkpointView(cp))
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: uri, MIMEType: "application/json", Text: string(data)},
	}, nil
}
