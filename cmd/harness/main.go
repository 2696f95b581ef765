// Command harness runs scripted multi-step sessions against a tool-provider
// endpoint and prints the resulting session transcripts as JSON.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AltairaLabs/evalharness/internal/config"
	"github.com/AltairaLabs/evalharness/internal/guardrails"
	"github.com/AltairaLabs/evalharness/internal/mcpclient"
	"github.com/AltairaLabs/evalharness/internal/session"
	"github.com/AltairaLabs/evalharness/internal/tokens"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var debug bool
	var configPath string

	root := &cobra.Command{
		Use:   "harness",
		Short: "Multi-step session harness for tool-provider endpoints",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if debug {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
				Level: level,
			}))
			slog.SetDefault(logger)
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")

	root.AddCommand(newRunCmd(&configPath))
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("evalharness %s\n", version)
		},
	})
	return root
}

func newRunCmd(configPath *string) *cobra.Command {
	var scriptPath string
	var sessionID string
	var parallel int
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a scripted session against the configured endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessions(cmd.Context(), *configPath, scriptPath, sessionID, parallel, metricsAddr)
		},
	}
	cmd.Flags().StringVar(&scriptPath, "script", "", "Path to a JSON step script (required)")
	cmd.Flags().StringVar(&sessionID, "session-id", "", "Session ID (generated when empty)")
	cmd.Flags().IntVar(&parallel, "parallel", 1, "Number of independent sessions to run concurrently")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Expose Prometheus metrics on this address")
	_ = cmd.MarkFlagRequired("script")
	return cmd
}

func runSessions(ctx context.Context, configPath, scriptPath, sessionID string, parallel int, metricsAddr string) error {
	logger := slog.Default()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Endpoint == "" {
		return fmt.Errorf("no endpoint configured (set endpoint in config or HARNESS_ENDPOINT)")
	}
	if parallel < 1 {
		parallel = 1
	}

	steps, err := loadScript(scriptPath)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	metrics := session.NewMetrics(reg)
	if metricsAddr != "" {
		go serveMetrics(metricsAddr, reg, logger)
	}

	// One dedup store shared by all sessions; signals computed in one session
	// are reusable in the others because they share one configuration.
	dedup := guardrails.NewSignalStore(guardrails.DefaultSignalTTL)
	defer dedup.Close()

	estimator := tokens.NewEstimator(cfg.Model)

	var outMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < parallel; i++ {
		id := sessionID
		if parallel > 1 && id != "" {
			id = fmt.Sprintf("%s-%d", id, i+1)
		}
		g.Go(func() error {
			sess, err := runOne(gctx, cfg, steps, id, dedup, estimator, metrics, logger)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(sess, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal session: %w", err)
			}
			outMu.Lock()
			fmt.Println(string(out))
			outMu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

// runOne drives a single session over its own client connection.
func runOne(
	ctx context.Context,
	cfg *config.Config,
	steps []session.StepRequest,
	sessionID string,
	dedup guardrails.DedupService,
	estimator *tokens.Estimator,
	metrics *session.Metrics,
	logger *slog.Logger,
) (*session.Session, error) {
	client := mcpclient.New(cfg.Endpoint, cfg.ClientAuth(), cfg.ClientTimeouts(), cfg.RetryPolicy(), logger)

	h, err := session.NewHarness(client, session.Options{
		Model:            cfg.Model,
		Policy:           cfg.Policy,
		GuardrailsConfig: cfg.Guardrails,
		Dedup:            dedup,
		Estimator:        estimator,
		Rates:            cfg.Rates,
		Caps:             cfg.Caps,
		Metrics:          metrics,
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}

	sess, err := h.StartSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = h.CloseSession(sess)
	}()

	for _, req := range steps {
		h.ExecuteStep(ctx, sess, req)
	}
	return sess, nil
}

func loadScript(path string) ([]session.StepRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script %s: %w", path, err)
	}
	var steps []session.StepRequest
	if err := json.Unmarshal(data, &steps); err != nil {
		return nil, fmt.Errorf("parse script %s: %w", path, err)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("script %s contains no steps", path)
	}
	return steps, nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("serving metrics", "addr", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server failed", "error", err)
	}
}
