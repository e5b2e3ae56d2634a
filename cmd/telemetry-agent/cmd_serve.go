package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/nneupane1/telemetry-agent/internal/interpret"
	"github.com/nneupane1/telemetry-agent/internal/logging"
	mcpserver "github.com/nneupane1/telemetry-agent/internal/mcp"
)

var serveFlags struct {
	metricsAddr string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server over stdio",
	Long: `Starts an MCP server over stdin/stdout exposing interpret_vin,
interpret_cohort, list_cohorts, record_approval, list_approvals and
get_capabilities.

The server monitors its parent process and exits when the agent host goes
away. With --metrics-addr the Prometheus collectors are served on /metrics.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.metricsAddr, "metrics-addr", "", "Listen address for /metrics (empty disables)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	return withApp(ctx, func(a *app) error {
		logger := logging.New("mcp")
		if serveFlags.metricsAddr != "" {
			srv := &http.Server{
				Addr:              serveFlags.metricsAddr,
				Handler:           metricsMux(a),
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("metrics listener stopped", "error", err.Error())
				}
			}()
			defer func() {
				shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
				defer done()
				_ = srv.Shutdown(shutdownCtx)
			}()
		}

		srv := mcpserver.NewServer(a.engine, interpret.DefaultOptions(cfg), version)
		mcpserver.WatchParent(ctx, cancel)

		logger.Info("starting MCP server over stdio (parent watchdog active)", "metrics_addr", serveFlags.metricsAddr)
		return srv.MCPServer.Run(ctx, &sdkmcp.StdioTransport{})
	})
}

func metricsMux(a *app) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	return mux
}
