package mcp_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nneupane1/telemetry-agent/internal/config"
	"github.com/nneupane1/telemetry-agent/internal/interpret"
	"github.com/nneupane1/telemetry-agent/internal/mart"
	mcpserver "github.com/nneupane1/telemetry-agent/internal/mcp"
	"github.com/nneupane1/telemetry-agent/internal/reference"
	"github.com/nneupane1/telemetry-agent/internal/store"
)

func TestMain(m *testing.M) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	})))
	os.Exit(m.Run())
}

const vin = "WVWZZZ1JZXW000001"

var now = time.Date(2026, 2, 20, 12, 0, 0, 0, time.UTC)

const marts = `{
  "vins": [
    {"vin": "WVWZZZ1JZXW000001", "mh": [
      {"row_id": "r1", "signal_code": "HI-1001", "confidence": 0.91, "observed_at": "2026-02-19T08:00:00Z"},
      {"row_id": "r2", "signal_code": "HI-2002", "confidence": 0.40, "observed_at": "2026-02-19T09:00:00Z"},
      {"row_id": "r3", "signal_code": "HI-2002", "confidence": 1.40, "observed_at": "2026-02-19T09:00:00Z"}
    ]}
  ],
  "cohorts": [
    {"cohort_id": "EU_DIESEL", "description": "Euro 6 diesel vans", "vin_count": 2,
     "mh": [{"row_id": "c1", "signal_code": "HI-1001", "confidence": 0.93, "observed_at": "2026-02-18T08:00:00Z"}]},
    {"cohort_id": "BEV_2024", "vin_count": 5}
  ]
}`

func newTestServer(t *testing.T) *mcpserver.Server {
	t.Helper()
	src, err := mart.NewSampleSourceFromBytes([]byte(marts), mart.WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatal(err)
	}
	refs := reference.NewResolver(reference.Merge(
		reference.Layer{Name: "catalog", Patches: map[string]reference.Patch{
			"HI-1001": {Label: "Battery voltage drop", Family: "BATTERY"},
			"HI-2002": {Label: "Coolant temperature drift", Family: "COOLING"},
		}},
	))
	cfg := config.Default()
	engine, err := interpret.New(context.Background(), interpret.Deps{
		Config:     cfg,
		Source:     src,
		References: refs,
		Ledger:     store.NewMemStore(),
		Clock:      func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("interpret.New: %v", err)
	}
	return mcpserver.NewServer(engine, interpret.DefaultOptions(cfg), "test")
}

func connectInMemory(t *testing.T, ctx context.Context, srv *mcpserver.Server) *sdkmcp.ClientSession {
	t.Helper()
	t1, t2 := sdkmcp.NewInMemoryTransports()
	serverSession, err := srv.MCPServer.Connect(ctx, t1, nil)
	if err != nil {
		t.Fatalf("server.Connect: %v", err)
	}
	t.Cleanup(func() { serverSession.Close() })

	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, t2, nil)
	if err != nil {
		t.Fatalf("client.Connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func call(t *testing.T, ctx context.Context, session *sdkmcp.ClientSession, name string, args map[string]any) *sdkmcp.CallToolResult {
	t.Helper()
	res, err := session.CallTool(ctx, &sdkmcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	return res
}

func text(res *sdkmcp.CallToolResult) string {
	for _, c := range res.Content {
		if tc, ok := c.(*sdkmcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func callTool(t *testing.T, ctx context.Context, session *sdkmcp.ClientSession, name string, args map[string]any) map[string]any {
	t.Helper()
	res := call(t, ctx, session, name, args)
	if res.IsError {
		t.Fatalf("CallTool(%s) returned error: %s", name, text(res))
	}
	result := make(map[string]any)
	if err := json.Unmarshal([]byte(text(res)), &result); err != nil {
		t.Fatalf("unmarshal tool result: %v (text: %s)", err, text(res))
	}
	return result
}

func TestServer_ToolDiscovery(t *testing.T) {
	ctx := context.Background()
	session := connectInMemory(t, ctx, newTestServer(t))

	tools, err := session.ListTools(ctx, nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	want := []string{"get_capabilities", "interpret_cohort", "interpret_vin", "list_approvals", "list_cohorts", "record_approval"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("tools (-want +got):\n%s", diff)
	}
}

func TestServer_InterpretVIN(t *testing.T) {
	ctx := context.Background()
	session := connectInMemory(t, ctx, newTestServer(t))

	got := callTool(t, ctx, session, "interpret_vin", map[string]any{"vin": strings.ToLower(vin)})
	if got["subject_id"] != vin {
		t.Errorf("subject_id = %v, want normalized %s", got["subject_id"], vin)
	}
	if got["risk_level"] != "HIGH" {
		t.Errorf("risk_level = %v, want HIGH", got["risk_level"])
	}
	if got["execution_mode"] != "graph" {
		t.Errorf("execution_mode = %v, want graph", got["execution_mode"])
	}
	rejections, _ := got["rejections"].([]any)
	if len(rejections) != 1 {
		t.Errorf("rejections = %v, want the out-of-range row", got["rejections"])
	}

	seq := callTool(t, ctx, session, "interpret_vin", map[string]any{"vin": vin, "mode": "sequential"})
	if seq["execution_mode"] != "sequential" {
		t.Errorf("forced mode = %v, want sequential", seq["execution_mode"])
	}
	if seq["summary"] != got["summary"] {
		t.Errorf("summary differs between runners:\n%v\n%v", seq["summary"], got["summary"])
	}
}

func TestServer_InterpretErrors(t *testing.T) {
	ctx := context.Background()
	session := connectInMemory(t, ctx, newTestServer(t))

	cases := []struct {
		name string
		tool string
		args map[string]any
		want string
	}{
		{"missing vin", "interpret_vin", map[string]any{}, "vin is required"},
		{"short vin", "interpret_vin", map[string]any{"vin": "ABC"}, "invalid"},
		{"strict", "interpret_vin", map[string]any{"vin": vin, "strict_validation": true}, "r3"},
		{"bad mode", "interpret_vin", map[string]any{"vin": vin, "mode": "turbo"}, "unknown mode"},
		{"negative timeout", "interpret_vin", map[string]any{"vin": vin, "narrative_timeout_ms": -1}, "negative"},
		{"missing cohort", "interpret_cohort", map[string]any{}, "cohort_id is required"},
		{"blank vin", "interpret_vin", map[string]any{"vin": "  "}, "vin is required"},
		{"missing actor", "record_approval", map[string]any{"subject_type": "VIN", "subject_id": vin, "decision": "APPROVED"}, "actor is required"},
		{"blank actor", "record_approval", map[string]any{"subject_type": "VIN", "subject_id": vin, "decision": "APPROVED", "actor": " "}, "actor is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := call(t, ctx, session, tc.tool, tc.args)
			if !res.IsError {
				t.Fatalf("expected IsError=true, got %s", text(res))
			}
			if !strings.Contains(text(res), tc.want) {
				t.Errorf("error %q does not mention %q", text(res), tc.want)
			}
		})
	}
}

func TestServer_Cohorts(t *testing.T) {
	ctx := context.Background()
	session := connectInMemory(t, ctx, newTestServer(t))

	list := callTool(t, ctx, session, "list_cohorts", map[string]any{})
	if list["total"] != float64(2) {
		t.Errorf("total = %v, want 2", list["total"])
	}

	got := callTool(t, ctx, session, "interpret_cohort", map[string]any{"cohort_id": "EU_DIESEL"})
	cohort, _ := got["cohort"].(map[string]any)
	if cohort["description"] != "Euro 6 diesel vans" {
		t.Errorf("cohort = %v", got["cohort"])
	}
}

func TestServer_Approvals(t *testing.T) {
	ctx := context.Background()
	session := connectInMemory(t, ctx, newTestServer(t))

	rec := callTool(t, ctx, session, "record_approval", map[string]any{
		"subject_type": "vin",
		"subject_id":   vin,
		"decision":     "approved",
		"comment":      " checked ",
		"actor":        "ops",
	})
	if rec["decision"] != "APPROVED" || rec["comment"] != "checked" || rec["subject_type"] != "VIN" {
		t.Errorf("record = %v", rec)
	}

	res := call(t, ctx, session, "record_approval", map[string]any{
		"subject_type": "VIN", "subject_id": vin, "decision": "MAYBE", "actor": "ops",
	})
	if !res.IsError {
		t.Errorf("unknown decision accepted: %s", text(res))
	}
	res = call(t, ctx, session, "record_approval", map[string]any{
		"subject_type": "VIN", "subject_id": vin, "decision": "APPROVED",
	})
	if !res.IsError || !strings.Contains(text(res), "actor is required") {
		t.Errorf("missing actor: %s", text(res))
	}

	list := callTool(t, ctx, session, "list_approvals", map[string]any{"subject_type": "VIN", "subject_id": strings.ToLower(vin)})
	if list["total"] != float64(1) {
		t.Errorf("approvals = %v, want 1", list)
	}
	other := callTool(t, ctx, session, "list_approvals", map[string]any{"subject_type": "COHORT"})
	if other["total"] != float64(0) {
		t.Errorf("cohort approvals = %v, want 0", other)
	}
}

func TestServer_Capabilities(t *testing.T) {
	ctx := context.Background()
	session := connectInMemory(t, ctx, newTestServer(t))

	got := callTool(t, ctx, session, "get_capabilities", map[string]any{})
	if got["graph"] != true {
		t.Errorf("graph = %v, want true", got["graph"])
	}
	if got["generative"] != false {
		t.Errorf("generative = %v, want false", got["generative"])
	}
}
