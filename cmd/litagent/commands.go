package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"litagent/internal/app"
	"litagent/internal/assistant"
	"litagent/internal/config"
	"litagent/internal/ingest"
	"litagent/internal/logging"
	"litagent/internal/models"
	"litagent/internal/util"

	"github.com/spf13/cobra"
)

type rootFlags struct {
	configPath string
	memory     bool
	userID     string
	jsonOut    bool
	verbose    bool
}

func newRootCmd(out io.Writer) *cobra.Command {
	f := &rootFlags{}
	rootCmd := &cobra.Command{
		Use:           "litagent",
		Short:         "Research assistant that grows its own paper library",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(out)
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "", "Config file path (yaml, toml or json)")
	pf.BoolVar(&f.memory, "memory", false, "Keep the library in memory instead of Postgres")
	pf.StringVar(&f.userID, "user", defaultUser(), "User whose library and sessions to use")
	pf.BoolVar(&f.jsonOut, "json", false, "Print results as JSON")
	pf.BoolVar(&f.verbose, "verbose", false, "Log at the configured level instead of warnings only")

	rootCmd.AddCommand(
		newAskCmd(f),
		newIngestCmd(f),
		newUploadCmd(f),
		newLibraryCmd(f),
		newSessionsCmd(f),
		newHistoryCmd(f),
	)
	return rootCmd
}

func newAskCmd(f *rootFlags) *cobra.Command {
	var (
		sessionID string
		mode      string
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a research question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, f, func(ctx context.Context, a *app.App) error {
				resp, err := a.Service.Ask(ctx, assistant.AskRequest{
					UserID:    f.userID,
					Query:     strings.Join(args, " "),
					SessionID: sessionID,
					Mode:      models.ReasoningMode(mode),
				})
				if err != nil {
					return err
				}
				if f.jsonOut {
					return printJSON(cmd.OutOrStdout(), resp)
				}
				w := cmd.OutOrStdout()
				fmt.Fprintln(w, resp.Answer)
				fmt.Fprintln(w)
				fmt.Fprintf(w, "session: %s\n", resp.SessionID)
				if len(resp.IngestedPaperIDs) > 0 {
					fmt.Fprintf(w, "added to library: %d paper(s)\n", len(resp.IngestedPaperIDs))
				}
				if len(resp.Degraded) > 0 {
					fmt.Fprintf(w, "degraded: %s\n", strings.Join(resp.Degraded, ", "))
				}
				for _, n := range resp.Notes {
					fmt.Fprintf(w, "note: %s\n", n)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Continue an existing session")
	cmd.Flags().StringVar(&mode, "mode", string(models.ModeMultiStage), "Reasoning mode: multi_stage or single_shot")
	return cmd
}

func newIngestCmd(f *rootFlags) *cobra.Command {
	var maxResults int
	cmd := &cobra.Command{
		Use:   "ingest <keyword>",
		Short: "Search arXiv and add matching papers to the library",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, f, func(ctx context.Context, a *app.App) error {
				outcomes, err := a.Service.IngestByKeyword(ctx, f.userID, strings.Join(args, " "), maxResults)
				if err != nil {
					return err
				}
				if f.jsonOut {
					return printJSON(cmd.OutOrStdout(), outcomes)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tSTATUS\tTITLE")
				for _, o := range outcomes {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", o.ExternalID, o.Status, util.Snippet(o.Title, 70))
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&maxResults, "max", 5, "Maximum number of search results to ingest")
	return cmd
}

func newUploadCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file.pdf>...",
		Short: "Add local PDF files to the library",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				if !strings.EqualFold(filepath.Ext(path), ".pdf") {
					return fmt.Errorf("upload %s: only pdf files are supported: %w", path, util.ErrInvalidInput)
				}
			}
			return withApp(cmd, f, func(ctx context.Context, a *app.App) error {
				outcomes := make([]ingest.Outcome, 0, len(args))
				for _, path := range args {
					data, err := readUpload(path, a.Cfg.MaxUploadBytes)
					if err != nil {
						return err
					}
					out, err := a.Service.Upload(ctx, f.userID, filepath.Base(path), data)
					if err != nil {
						return fmt.Errorf("upload %s: %w", path, err)
					}
					outcomes = append(outcomes, out)
				}
				if f.jsonOut {
					return printJSON(cmd.OutOrStdout(), outcomes)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "PAPER\tSTATUS\tTITLE")
				for _, o := range outcomes {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", o.PaperID, o.Status, util.Snippet(o.Title, 70))
				}
				return tw.Flush()
			})
		},
	}
}

func readUpload(path string, limit int64) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if limit > 0 && info.Size() > limit {
		return nil, fmt.Errorf("upload %s: %d bytes exceeds the %d byte limit: %w", path, info.Size(), limit, util.ErrInvalidInput)
	}
	return os.ReadFile(path)
}

func newLibraryCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "library",
		Short: "List papers in the library",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, f, func(ctx context.Context, a *app.App) error {
				papers, err := a.Service.Library(ctx, f.userID)
				if err != nil {
					return err
				}
				if f.jsonOut {
					return printJSON(cmd.OutOrStdout(), papers)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tADDED\tTITLE")
				for _, p := range papers {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", p.ExternalID, p.CreatedAt.Format("2006-01-02"), util.Snippet(p.Title, 70))
				}
				return tw.Flush()
			})
		},
	}
}

func newSessionsCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List chat sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, f, func(ctx context.Context, a *app.App) error {
				sessions, err := a.Service.Sessions(ctx, f.userID)
				if err != nil {
					return err
				}
				if f.jsonOut {
					return printJSON(cmd.OutOrStdout(), sessions)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "SESSION\tTURNS\tLAST\tQUERY")
				for _, s := range sessions {
					fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", s.SessionID, s.Turns, s.LastTurnAt.Format("2006-01-02 15:04"), util.Snippet(s.LastQuery, 60))
				}
				return tw.Flush()
			})
		},
	}
}

func newHistoryCmd(f *rootFlags) *cobra.Command {
	var (
		exportPath string
		format     string
	)
	cmd := &cobra.Command{
		Use:   "history <session-id>",
		Short: "Show or export the turns of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, f, func(ctx context.Context, a *app.App) error {
				turns, err := a.Service.History(ctx, f.userID, args[0])
				if err != nil {
					return err
				}
				if exportPath != "" {
					if err := exportTurns(exportPath, format, turns); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "exported %d turn(s) to %s\n", len(turns), exportPath)
					return nil
				}
				if f.jsonOut {
					return printJSON(cmd.OutOrStdout(), turns)
				}
				w := cmd.OutOrStdout()
				for i, t := range turns {
					fmt.Fprintf(w, "[%d] %s  (%s)\n", i+1, t.CreatedAt.Format("2006-01-02 15:04"), t.Mode)
					fmt.Fprintf(w, "Q: %s\n", t.Query)
					fmt.Fprintf(w, "A: %s\n\n", t.Answer)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&exportPath, "export", "", "Write the history to this file instead of printing it")
	cmd.Flags().StringVar(&format, "format", "json", "Export format: json or yaml")
	return cmd
}

func exportTurns(path, format string, turns []models.Transcript) error {
	switch strings.ToLower(format) {
	case "json":
		return util.WriteJSONAtomic(path, turns)
	case "yaml", "yml":
		return util.WriteYAMLAtomic(path, turns)
	default:
		return fmt.Errorf("unknown export format %q: %w", format, util.ErrInvalidInput)
	}
}

func withApp(cmd *cobra.Command, f *rootFlags, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.LoadFile(f.configPath)
	if err != nil {
		return err
	}
	level := "warn"
	if f.verbose {
		level = cfg.LogLevel
	}
	logger, err := logging.New(level, false)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	a, err := app.New(ctx, cfg, app.Options{Memory: f.memory, Logger: logger})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func defaultUser() string {
	if u := strings.TrimSpace(os.Getenv("LITAGENT_USER")); u != "" {
		return u
	}
	if u := strings.TrimSpace(os.Getenv("USER")); u != "" {
		return u
	}
	return "local"
}
