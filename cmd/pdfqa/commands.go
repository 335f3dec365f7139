package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kalambet/pdfqa/internal/config"
	"github.com/kalambet/pdfqa/internal/history"
	"github.com/kalambet/pdfqa/internal/ingest"
	"github.com/kalambet/pdfqa/internal/metrics"
	"github.com/kalambet/pdfqa/internal/ollama"
	"github.com/kalambet/pdfqa/internal/retrieval"
)

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest [dir]",
	Short: "Index the PDFs in a directory",
	Long: `Index the PDFs in a directory (storage.pdf_dir by default).

Examples:
  pdfqa ingest
  pdfqa ingest ./manuals
  pdfqa ingest --watch ./manuals`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		watch, _ := cmd.Flags().GetBool("watch")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		closeLog, err := setupLogging(cfg)
		if err != nil {
			return err
		}
		defer closeLog()

		dir := cfg.Storage.PDFDir
		if len(args) == 1 {
			dir = args[0]
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		index, err := retrieval.OpenIndex(cfg.Storage.IndexPath())
		if err != nil {
			return err
		}
		defer index.Close()

		client := ollama.New(cfg.Ollama.BaseURL)
		if err := ollama.EnsureReady(ctx, client, cfg.Ollama.ChatModel, cfg.Ollama.EmbedModel, os.Stderr); err != nil {
			return err
		}
		ing := ingest.New(index, retrieval.NewEmbedder(client, cfg.Ollama.EmbedModel), ingest.Options{
			ChunkSize:    cfg.Retrieval.ChunkSize,
			ChunkOverlap: cfg.Retrieval.ChunkOverlap,
		})

		printStep("Indexing %s", dir)
		rep, err := ing.IngestDir(ctx, dir)
		if err != nil {
			return err
		}
		for _, f := range rep.Failed {
			printWarning("failed: %s", f)
		}
		printSuccess("Indexed %d chunks from %d documents", rep.Chunks, rep.Files)

		if !watch {
			return nil
		}
		printStep("Watching %s (Ctrl-C to stop)", dir)
		return ing.Watch(ctx, dir, nil)
	},
}

func init() {
	ingestCmd.Flags().Bool("watch", false, "keep running and index PDFs as they change")
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show or delete a user's conversation history",
}

var historyShowCmd = &cobra.Command{
	Use:   "show <user_id>",
	Short: "Show a user's conversation turns, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return showHistory(cmd.Context(), client, os.Stdout, args[0], limit)
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <user_id>",
	Short: "Delete every conversation turn of a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		n, err := deleteHistory(cmd.Context(), client, args[0])
		if err != nil {
			return err
		}
		printSuccess("Deleted %d conversations for %s", n, args[0])
		return nil
	},
}

func init() {
	historyShowCmd.Flags().Int("limit", 0, "only the most recent N turns (1-100)")
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyDeleteCmd)
}

func showHistory(ctx context.Context, c *apiClient, w io.Writer, userID string, limit int) error {
	path := "/history/" + url.PathEscape(userID)
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	resp, err := c.get(ctx, path)
	if err != nil {
		return err
	}

	var result struct {
		Conversations []history.Conversation `json:"conversations"`
		Count         int                    `json:"count"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		return err
	}

	if result.Count == 0 {
		fmt.Fprintln(w, "No conversations found.")
		return nil
	}
	for _, conv := range result.Conversations {
		fmt.Fprintf(w, "%s  %s\n", colorize(colorCyan, conv.CreatedAt), colorize(colorBold, conv.Question))
		fmt.Fprintf(w, "  %s\n", conv.Answer)
		for _, s := range conv.Sources {
			if s.Page != nil {
				fmt.Fprintf(w, "  - %s (p. %d)\n", s.Source, *s.Page)
			} else {
				fmt.Fprintf(w, "  - %s\n", s.Source)
			}
		}
	}
	return nil
}

func deleteHistory(ctx context.Context, c *apiClient, userID string) (int64, error) {
	resp, err := c.delete(ctx, "/history/"+url.PathEscape(userID))
	if err != nil {
		return 0, err
	}
	var result struct {
		DeletedCount int64 `json:"deleted_count"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		return 0, err
	}
	return result.DeletedCount, nil
}

// --- metrics ---

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Usage analytics from the running server",
}

var metricsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Query volume, success rate and latency",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		days, _ := cmd.Flags().GetInt("days")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		stats, err := fetchQueryStats(cmd.Context(), client, user, days)
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(os.Stdout, stats)
		}
		printQueryStats(os.Stdout, stats)
		return nil
	},
}

var metricsUsersCmd = &cobra.Command{
	Use:   "users",
	Short: "Most active users",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		days, _ := cmd.Flags().GetInt("days")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var result struct {
			TopUsers []metrics.UserActivity `json:"top_users"`
		}
		if err := getJSON(cmd.Context(), client, fmt.Sprintf("/metrics/top-users?limit=%d&days=%d", limit, days), &result); err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "USER\tQUERIES\tSUCCESSFUL\tAVG MS")
		for _, u := range result.TopUsers {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%.2f\n", u.UserID, u.QueryCount, u.SuccessfulQueries, u.AvgResponseTimeMs)
		}
		return tw.Flush()
	},
}

var metricsDocumentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "Most retrieved documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		days, _ := cmd.Flags().GetInt("days")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var result struct {
			TopDocuments []metrics.DocumentRank `json:"top_documents"`
		}
		if err := getJSON(cmd.Context(), client, fmt.Sprintf("/metrics/top-documents?limit=%d&days=%d", limit, days), &result); err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "DOCUMENT\tUSES\tQUERIES")
		for _, d := range result.TopDocuments {
			fmt.Fprintf(tw, "%s\t%d\t%d\n", d.SourcePath, d.UsageCount, d.UniqueQueries)
		}
		return tw.Flush()
	},
}

var metricsErrorsCmd = &cobra.Command{
	Use:   "errors",
	Short: "Recorded errors by type and endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var stats metrics.ErrorStats
		if err := getJSON(cmd.Context(), client, fmt.Sprintf("/metrics/errors?days=%d", days), &stats); err != nil {
			return err
		}

		printStatus("Total errors", "%d", stats.TotalErrors)
		for _, et := range stats.ErrorTypes {
			printStatus("  "+et.ErrorType, "%d", et.Count)
		}
		for _, ep := range stats.ErrorEndpoints {
			printStatus("  "+ep.Endpoint, "%d", ep.Count)
		}
		return nil
	},
}

var metricsSeriesCmd = &cobra.Command{
	Use:   "series",
	Short: "Daily query counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		user, _ := cmd.Flags().GetString("user")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		path := fmt.Sprintf("/metrics/time-series?days=%d", days)
		if user != "" {
			path += "&user_id=" + url.QueryEscape(user)
		}
		var result struct {
			TimeSeries []metrics.DailyPoint `json:"time_series"`
		}
		if err := getJSON(cmd.Context(), client, path, &result); err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "DATE\tQUERIES\tOK\tFAILED\tAVG MS")
		for _, p := range result.TimeSeries {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.2f\n", p.Date, p.QueryCount, p.SuccessfulQueries, p.FailedQueries, p.AvgResponseTimeMs)
		}
		return tw.Flush()
	},
}

func init() {
	metricsStatsCmd.Flags().String("user", "", "only this user's queries")
	metricsStatsCmd.Flags().Int("days", 30, "look-back window in days (1-365)")
	metricsStatsCmd.Flags().Bool("json", false, "print the raw JSON response")
	metricsUsersCmd.Flags().Int("limit", metrics.DefaultLimit, "number of users (1-100)")
	metricsUsersCmd.Flags().Int("days", 30, "look-back window in days (1-365)")
	metricsDocumentsCmd.Flags().Int("limit", metrics.DefaultLimit, "number of documents (1-100)")
	metricsDocumentsCmd.Flags().Int("days", 30, "look-back window in days (1-365)")
	metricsErrorsCmd.Flags().Int("days", 30, "look-back window in days (1-365)")
	metricsSeriesCmd.Flags().Int("days", 7, "look-back window in days (1-90)")
	metricsSeriesCmd.Flags().String("user", "", "only this user's queries")

	metricsCmd.AddCommand(metricsStatsCmd)
	metricsCmd.AddCommand(metricsUsersCmd)
	metricsCmd.AddCommand(metricsDocumentsCmd)
	metricsCmd.AddCommand(metricsErrorsCmd)
	metricsCmd.AddCommand(metricsSeriesCmd)
}

func getJSON(ctx context.Context, c *apiClient, path string, v any) error {
	resp, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	return decodeJSON(resp, v)
}

func fetchQueryStats(ctx context.Context, c *apiClient, userID string, days int) (metrics.QueryStats, error) {
	q := url.Values{}
	q.Set("days", strconv.Itoa(days))
	if userID != "" {
		q.Set("user_id", userID)
	}
	var stats metrics.QueryStats
	err := getJSON(ctx, c, "/metrics/stats?"+q.Encode(), &stats)
	return stats, err
}

func printQueryStats(w io.Writer, s metrics.QueryStats) {
	fmt.Fprintf(w, "Total queries:    %d\n", s.TotalQueries)
	fmt.Fprintf(w, "Successful:       %d\n", s.SuccessfulQueries)
	fmt.Fprintf(w, "Failed:           %d\n", s.FailedQueries)
	fmt.Fprintf(w, "Success rate:     %.2f%%\n", s.SuccessRate)
	fmt.Fprintf(w, "Latency (ms):     avg %.2f  min %.2f  max %.2f\n", s.AvgResponseTimeMs, s.MinResponseTimeMs, s.MaxResponseTimeMs)
	if s.MostUsedTopK != nil {
		fmt.Fprintf(w, "Most used top_k:  %d\n", *s.MostUsedTopK)
	} else {
		fmt.Fprintln(w, "Most used top_k:  -")
	}
}

// --- export ---

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Download raw metrics as JSON or CSV",
	Long: `Download raw metrics as JSON or CSV.

Examples:
  pdfqa export --type queries --format csv
  pdfqa export --type documents --days 7 --output -`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := exportOptions{}
		opts.DataType, _ = cmd.Flags().GetString("type")
		opts.Format, _ = cmd.Flags().GetString("format")
		opts.UserID, _ = cmd.Flags().GetString("user")
		opts.Days, _ = cmd.Flags().GetInt("days")
		output, _ := cmd.Flags().GetString("output")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		name, body, err := fetchExport(cmd.Context(), client, opts)
		if err != nil {
			return err
		}

		if output == "-" {
			_, err := os.Stdout.Write(body)
			return err
		}
		if output == "" {
			output = name
		}
		if err := os.WriteFile(output, body, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", output, err)
		}
		printSuccess("Exported %s (%d bytes)", output, len(body))
		return nil
	},
}

func init() {
	exportCmd.Flags().String("type", "queries", "data type: queries, errors or documents")
	exportCmd.Flags().String("format", "json", "output format: json or csv")
	exportCmd.Flags().String("user", "", "only this user's queries")
	exportCmd.Flags().Int("days", 30, "look-back window in days (1-365)")
	exportCmd.Flags().String("output", "", "output file (default: server-suggested name, - for stdout)")
}

type exportOptions struct {
	DataType string
	Format   string
	UserID   string
	Days     int
}

// fetchExport downloads an export and returns the server-suggested file name
// with the payload.
func fetchExport(ctx context.Context, c *apiClient, opts exportOptions) (string, []byte, error) {
	q := url.Values{}
	q.Set("data_type", opts.DataType)
	q.Set("export_format", opts.Format)
	q.Set("days", strconv.Itoa(opts.Days))
	if opts.UserID != "" {
		q.Set("user_id", opts.UserID)
	}

	resp, err := c.get(ctx, "/metrics/export?"+q.Encode())
	if err != nil {
		return "", nil, err
	}
	if err := checkStatus(resp); err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, fmt.Errorf("reading export: %w", err)
	}

	name := fmt.Sprintf("%s_metrics_%dd.%s", opts.DataType, opts.Days, opts.Format)
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		name = params["filename"]
	}
	return name, body, nil
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "("+k.EnvVar+")"))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

// printJSON writes v indented, for commands whose output is meant for tools.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
