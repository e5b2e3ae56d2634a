// Package mcp exposes the interpreter as Model Context Protocol tools so an
// agent host can request interpretations and record operator decisions.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nneupane1/telemetry-agent/internal/interpret"
	"github.com/nneupane1/telemetry-agent/internal/interpretation"
	"github.com/nneupane1/telemetry-agent/internal/logging"
	"github.com/nneupane1/telemetry-agent/internal/mart"
	"github.com/nneupane1/telemetry-agent/internal/store"
	"github.com/nneupane1/telemetry-agent/internal/telemetry"
)

// Interpreter is the engine surface the tools call. *interpret.Engine
// implements it.
type Interpreter interface {
	InterpretVIN(ctx context.Context, vin string, opts interpret.Options) (*interpretation.Interpretation, error)
	InterpretCohort(ctx context.Context, cohortID string, opts interpret.Options) (*interpretation.Interpretation, error)
	ListCohorts(ctx context.Context) ([]mart.Cohort, error)
	RecordApproval(ctx context.Context, req interpret.ApprovalRequest) (interpretation.ApprovalRecord, error)
	ListApprovals(ctx context.Context, f store.Filter) ([]interpretation.ApprovalRecord, error)
	Capabilities() interpret.Capabilities
}

// Server wraps the MCP SDK server and routes tool calls to an Interpreter.
type Server struct {
	MCPServer *sdkmcp.Server

	engine   Interpreter
	defaults interpret.Options
	log      *slog.Logger
}

// NewServer registers the interpreter tools. defaults fill the options a
// tool call leaves unset.
func NewServer(engine Interpreter, defaults interpret.Options, version string) *Server {
	if version == "" {
		version = "dev"
	}
	s := &Server{
		engine:   engine,
		defaults: defaults,
		log:      logging.New("mcp"),
	}
	s.MCPServer = sdkmcp.NewServer(
		&sdkmcp.Implementation{Name: "telemetry-agent", Version: version},
		nil,
	)
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "interpret_vin",
		Description: "Interpret the predictive-maintenance telemetry of one vehicle. Returns risk level, summary, recommendations and evidence.",
	}, s.handleInterpretVIN)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "interpret_cohort",
		Description: "Interpret a fleet cohort. Returns risk level, cohort metrics, anomalies and recommendations.",
	}, s.handleInterpretCohort)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "list_cohorts",
		Description: "List the cohorts available in the telemetry mart.",
	}, s.handleListCohorts)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "record_approval",
		Description: "Record an operator decision (APPROVED, REJECTED, NEEDS_REVIEW) on an interpretation. Decisions are audit-only and never change interpretations.",
	}, s.handleRecordApproval)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "list_approvals",
		Description: "List recorded operator decisions, oldest first, optionally for one subject.",
	}, s.handleListApprovals)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_capabilities",
		Description: "Report which optional capabilities (graph pipeline, generative narrative) passed their startup probes.",
	}, s.handleGetCapabilities)
}

// --- Tool input/output types ---

// requestOptions are the optional per-call overrides shared by the
// interpret tools.
type requestOptions struct {
	StrictValidation   *bool
	AllowFallback      *bool
	NarrativeTimeoutMS int
	Mode               string
}

// Fields the handlers check themselves carry omitempty so they stay out of
// the schema's required list and a missing value gets the handler's error.
type interpretVINInput struct {
	VIN                string `json:"vin,omitempty" jsonschema:"17-character vehicle identification number"`
	StrictValidation   *bool  `json:"strict_validation,omitempty" jsonschema:"abort on the first invalid row instead of skipping it"`
	AllowFallback      *bool  `json:"allow_fallback,omitempty" jsonschema:"permit the sequential pipeline when the graph pipeline is unavailable (default true)"`
	NarrativeTimeoutMS int    `json:"narrative_timeout_ms,omitempty" jsonschema:"upper bound for the generative narrative in milliseconds"`
	Mode               string `json:"mode,omitempty" jsonschema:"force a pipeline runner: graph or sequential"`
}

type interpretCohortInput struct {
	CohortID           string `json:"cohort_id,omitempty" jsonschema:"cohort identifier, e.g. EU_DIESEL"`
	StrictValidation   *bool  `json:"strict_validation,omitempty" jsonschema:"abort on the first invalid row instead of skipping it"`
	AllowFallback      *bool  `json:"allow_fallback,omitempty" jsonschema:"permit the sequential pipeline when the graph pipeline is unavailable (default true)"`
	NarrativeTimeoutMS int    `json:"narrative_timeout_ms,omitempty" jsonschema:"upper bound for the generative narrative in milliseconds"`
	Mode               string `json:"mode,omitempty" jsonschema:"force a pipeline runner: graph or sequential"`
}

type listCohortsInput struct{}

type listCohortsOutput struct {
	Cohorts []mart.Cohort `json:"cohorts"`
	Total   int           `json:"total"`
}

type recordApprovalInput struct {
	SubjectType string `json:"subject_type" jsonschema:"VIN or COHORT"`
	SubjectID   string `json:"subject_id" jsonschema:"VIN or cohort id the decision applies to"`
	Decision    string `json:"decision" jsonschema:"APPROVED, REJECTED or NEEDS_REVIEW"`
	Comment     string `json:"comment,omitempty" jsonschema:"free-text justification"`
	Actor       string `json:"actor,omitempty" jsonschema:"operator recording the decision"`
}

type listApprovalsInput struct {
	SubjectType string `json:"subject_type,omitempty" jsonschema:"restrict to VIN or COHORT"`
	SubjectID   string `json:"subject_id,omitempty" jsonschema:"restrict to one subject"`
	Limit       int    `json:"limit,omitempty" jsonschema:"maximum number of records"`
}

type getCapabilitiesInput struct{}

// --- Tool handlers ---

// Handlers that return an Interpretation or ApprovalRecord use an untyped
// output so the SDK does not derive an output schema from time.Time fields.

func (s *Server) handleInterpretVIN(ctx context.Context, _ *sdkmcp.CallToolRequest, input interpretVINInput) (*sdkmcp.CallToolResult, any, error) {
	if strings.TrimSpace(input.VIN) == "" {
		return nil, nil, errors.New("vin is required")
	}
	opts, err := s.options(requestOptions{input.StrictValidation, input.AllowFallback, input.NarrativeTimeoutMS, input.Mode})
	if err != nil {
		return nil, nil, err
	}
	res, err := s.engine.InterpretVIN(ctx, input.VIN, opts)
	if err != nil {
		s.log.Warn("interpret_vin failed", "error", err.Error())
		return nil, nil, fmt.Errorf("interpret_vin: %w", err)
	}
	return nil, res, nil
}

func (s *Server) handleInterpretCohort(ctx context.Context, _ *sdkmcp.CallToolRequest, input interpretCohortInput) (*sdkmcp.CallToolResult, any, error) {
	if strings.TrimSpace(input.CohortID) == "" {
		return nil, nil, errors.New("cohort_id is required")
	}
	opts, err := s.options(requestOptions{input.StrictValidation, input.AllowFallback, input.NarrativeTimeoutMS, input.Mode})
	if err != nil {
		return nil, nil, err
	}
	res, err := s.engine.InterpretCohort(ctx, input.CohortID, opts)
	if err != nil {
		s.log.Warn("interpret_cohort failed", "error", err.Error())
		return nil, nil, fmt.Errorf("interpret_cohort: %w", err)
	}
	return nil, res, nil
}

func (s *Server) handleListCohorts(ctx context.Context, _ *sdkmcp.CallToolRequest, _ listCohortsInput) (*sdkmcp.CallToolResult, listCohortsOutput, error) {
	cohorts, err := s.engine.ListCohorts(ctx)
	if err != nil {
		return nil, listCohortsOutput{}, err
	}
	if cohorts == nil {
		cohorts = []mart.Cohort{}
	}
	return nil, listCohortsOutput{Cohorts: cohorts, Total: len(cohorts)}, nil
}

func (s *Server) handleRecordApproval(ctx context.Context, _ *sdkmcp.CallToolRequest, input recordApprovalInput) (*sdkmcp.CallToolResult, any, error) {
	if strings.TrimSpace(input.Actor) == "" {
		return nil, nil, errors.New("actor is required")
	}
	rec, err := s.engine.RecordApproval(ctx, interpret.ApprovalRequest{
		SubjectType: telemetry.SubjectType(strings.ToUpper(strings.TrimSpace(input.SubjectType))),
		SubjectID:   input.SubjectID,
		Decision:    interpretation.Decision(input.Decision),
		Comment:     input.Comment,
		Actor:       input.Actor,
	})
	if err != nil {
		return nil, nil, err
	}
	return nil, rec, nil
}

func (s *Server) handleListApprovals(ctx context.Context, _ *sdkmcp.CallToolRequest, input listApprovalsInput) (*sdkmcp.CallToolResult, any, error) {
	f := store.Filter{
		SubjectType: telemetry.SubjectType(strings.ToUpper(strings.TrimSpace(input.SubjectType))),
		SubjectID:   strings.TrimSpace(input.SubjectID),
		Limit:       input.Limit,
	}
	if f.SubjectType == telemetry.SubjectVIN {
		f.SubjectID = telemetry.NormalizeVIN(f.SubjectID)
	}
	records, err := s.engine.ListApprovals(ctx, f)
	if err != nil {
		return nil, nil, err
	}
	if records == nil {
		records = []interpretation.ApprovalRecord{}
	}
	return nil, map[string]any{"approvals": records, "total": len(records)}, nil
}

func (s *Server) handleGetCapabilities(_ context.Context, _ *sdkmcp.CallToolRequest, _ getCapabilitiesInput) (*sdkmcp.CallToolResult, interpret.Capabilities, error) {
	return nil, s.engine.Capabilities(), nil
}

func (s *Server) options(in requestOptions) (interpret.Options, error) {
	opts := s.defaults
	if in.StrictValidation != nil {
		opts.StrictValidation = *in.StrictValidation
	}
	if in.AllowFallback != nil {
		opts.AllowFallback = *in.AllowFallback
	}
	if in.NarrativeTimeoutMS < 0 {
		return opts, fmt.Errorf("narrative_timeout_ms must not be negative, got %d", in.NarrativeTimeoutMS)
	}
	if in.NarrativeTimeoutMS > 0 {
		opts.NarrativeTimeoutMS = in.NarrativeTimeoutMS
	}
	switch mode := interpretation.ExecutionMode(strings.ToLower(strings.TrimSpace(in.Mode))); mode {
	case "":
	case interpretation.ModeGraph, interpretation.ModeSequential:
		opts.Mode = mode
	default:
		return opts, fmt.Errorf("unknown mode %q (want graph or sequential)", in.Mode)
	}
	return opts, nil
}
