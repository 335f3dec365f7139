package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/kalambet/pdfqa/internal/api"
	"github.com/kalambet/pdfqa/internal/config"
	"github.com/kalambet/pdfqa/internal/history"
	"github.com/kalambet/pdfqa/internal/ingest"
	"github.com/kalambet/pdfqa/internal/logging"
	"github.com/kalambet/pdfqa/internal/metrics"
	"github.com/kalambet/pdfqa/internal/ollama"
	"github.com/kalambet/pdfqa/internal/rag"
	"github.com/kalambet/pdfqa/internal/retrieval"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		host, _ := cmd.Flags().GetString("host")
		watch, _ := cmd.Flags().GetBool("watch")
		skipModels, _ := cmd.Flags().GetBool("skip-model-check")
		return runServer(host, watch, skipModels)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pdfqa system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve usage analytics over MCP (stdio transport)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

func init() {
	serveCmd.Flags().String("host", "127.0.0.1", "interface to listen on")
	serveCmd.Flags().Bool("watch", false, "index PDFs added to storage.pdf_dir while serving")
	serveCmd.Flags().Bool("skip-model-check", false, "do not check or pull Ollama models at startup")
}

// stores bundles the databases every entry point opens.
type stores struct {
	metrics *metrics.Store
	history *history.Store
}

func openStores(ctx context.Context, cfg config.Config) (*stores, error) {
	m, err := metrics.Open(cfg.Storage.MetricsPath())
	if err != nil {
		return nil, err
	}
	h, err := history.Open(cfg.Storage.HistoryPath())
	if err != nil {
		m.Close()
		return nil, err
	}
	s := &stores{metrics: m, history: h}

	// Failing here surfaces a broken data directory before the first request.
	if err := m.EnsureSchema(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("preparing metrics schema: %w", err)
	}
	if err := h.EnsureSchema(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("preparing history schema: %w", err)
	}
	return s, nil
}

func (s *stores) Close() {
	if err := s.metrics.Close(); err != nil {
		slog.Warn("closing metrics store", "error", err)
	}
	if err := s.history.Close(); err != nil {
		slog.Warn("closing history store", "error", err)
	}
}

func setupLogging(cfg config.Config) (func(), error) {
	closer, err := logging.Setup(os.Stderr, logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	if err != nil {
		return nil, err
	}
	return func() { closer.Close() }, nil
}

func runServer(host string, watch, skipModels bool) error {
	fmt.Fprintf(os.Stderr, "pdfqa version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	closeLog, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ollamaClient := ollama.New(cfg.Ollama.BaseURL)
	if !skipModels {
		if err := ollama.EnsureReady(ctx, ollamaClient, cfg.Ollama.ChatModel, cfg.Ollama.EmbedModel, os.Stderr); err != nil {
			return err
		}
	}

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	index, err := retrieval.OpenIndex(cfg.Storage.IndexPath())
	if err != nil {
		return err
	}
	defer index.Close()

	embedder := retrieval.NewEmbedder(ollamaClient, cfg.Ollama.EmbedModel)
	pipeline := rag.New(retrieval.NewRetriever(embedder, index), ollamaClient, cfg.Ollama.ChatModel)

	if n, err := index.Count(ctx); err == nil && n == 0 {
		printWarning("index is empty; run `pdfqa ingest %s` to add documents", cfg.Storage.PDFDir)
	}

	if watch {
		ing := ingest.New(index, embedder, ingest.Options{
			ChunkSize:    cfg.Retrieval.ChunkSize,
			ChunkOverlap: cfg.Retrieval.ChunkOverlap,
		})
		go func() {
			if err := ing.Watch(ctx, cfg.Storage.PDFDir, nil); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("pdf watcher stopped", "dir", cfg.Storage.PDFDir, "error", err)
			}
		}()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if cfg.Server.APIToken != "" {
		slog.Info("bearer auth enabled for /history and /metrics")
	}
	handler := api.NewHandler(api.Deps{
		Pipeline:    pipeline,
		Metrics:     st.metrics,
		History:     st.history,
		Token:       cfg.Server.APIToken,
		QueryRate:   cfg.Server.QueryRate,
		QueryBurst:  cfg.Server.QueryBurst,
		DefaultTopK: cfg.Retrieval.TopK,
		Registry:    reg,
	})

	addr := net.JoinHostPort(host, fmt.Sprint(cfg.Server.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("pdfqa listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	closeLog, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Metrics: st.metrics,
		History: st.history,
		Version: version,
	})
	slog.Info("MCP server started (stdio transport)")
	if err := server.NewStdioServer(mcpSrv).Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}

func showStatus(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}
	client.httpClient.Timeout = 2 * time.Second

	running := false
	if resp, err := client.get(ctx, "/health"); err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	if ollama.New(cfg.Ollama.BaseURL).IsRunning(ctx) {
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	} else {
		printStatus("Ollama", "not running")
	}
	printStatus("Chat model", "%s", cfg.Ollama.ChatModel)
	printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)

	if running {
		if stats, err := fetchQueryStats(ctx, client, "", 30); err == nil {
			printStatus("Queries (30d)", "%d (%.2f%% successful)", stats.TotalQueries, stats.SuccessRate)
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	printStatus("PDF dir", "%s", cfg.Storage.PDFDir)
	return nil
}
