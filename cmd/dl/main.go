package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"decisionlog/internal/app"
	"decisionlog/internal/capture"
	"decisionlog/internal/config"
	"decisionlog/internal/domain"
	"decisionlog/internal/logging"
	"decisionlog/internal/server"
	decisionlogsdk "decisionlog/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "dl",
	Short: "Decision Log CLI",
	Long: `Decision Log turns informally expressed decisions into structured records.
- serve: run the HTTP API (parse, OCR, log, history).
- parse / ocr: call the extraction and vision adapters of a running server.
- capture: run the whole client pipeline (capture, extract, review, confirm).
- log / history: write and read confirmed decisions.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	app.BindEnv(viper.GetViper())
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to decisionlog.yml")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("api-url", "http://localhost:5000", "Decision Log API base URL")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("api-url", rootCmd.PersistentFlags().Lookup("api-url"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(parseCmd())
	rootCmd.AddCommand(ocrCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(captureCmd())
	rootCmd.AddCommand(configCmd())
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(viper.GetViper())
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Log)
			if err != nil {
				return err
			}
			defer logger.Sync()

			rt, err := app.Build(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer rt.Close()
			handler, err := server.New(rt.Server)
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: cfg.Addr(), Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			logger.Info("serving Decision Log API",
				zap.String("addr", srv.Addr),
				zap.String("storage", cfg.Storage.Driver),
				zap.Bool("relay", cfg.Webhook.URL != ""),
			)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().Int("port", 5000, "listen port")
	_ = viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	return cmd
}

func parseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse [text|-]",
		Short: "Extract a decision candidate from text",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(cmd, args)
			if err != nil {
				return err
			}
			c, err := client().ParseDecision(cmd.Context(), text)
			if err != nil {
				return err
			}
			return printJSONOrTable(c)
		},
	}
}

func ocrCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "ocr",
		Short: "Extract the text of an image",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			text, err := client().OCR(cmd.Context(), filepath.Base(file), data)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"text": text})
			}
			fmt.Println(text)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "image file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List decisions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := client().Decisions(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(records)
			}
			printHistory(os.Stdout, records)
			return nil
		},
	}
}

func printHistory(w io.Writer, records []domain.Record) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"ID", "Title", "Owners", "Due", "Jira", "Created"})
	for _, r := range records {
		tw.AppendRow(table.Row{r.ID, r.Title, strings.Join(r.Owners, ", "), r.DueDate, r.RelatedJiraKey, r.Created})
	}
	tw.Render()
}

// editFlags are the review form fields. Only flags the user set become edits.
type editFlags struct {
	title, summary, owners, due, jira string
}

func (f *editFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.title, "title", "", "decision title")
	cmd.Flags().StringVar(&f.summary, "summary", "", "summary")
	cmd.Flags().StringVar(&f.owners, "owners", "", `comma separated owners, e.g. "Alice, Bob"`)
	cmd.Flags().StringVar(&f.due, "due", "", "due date (YYYY-MM-DD); empty clears it")
	cmd.Flags().StringVar(&f.jira, "jira", "", "related Jira key")
}

func (f *editFlags) edits(cmd *cobra.Command) capture.Edits {
	var e capture.Edits
	set := func(name string, v *string) *string {
		if cmd.Flags().Changed(name) {
			return v
		}
		return nil
	}
	e.Title = set("title", &f.title)
	e.Summary = set("summary", &f.summary)
	e.Owners = set("owners", &f.owners)
	e.DueDate = set("due", &f.due)
	e.RelatedJiraKey = set("jira", &f.jira)
	return e
}

func logCmd() *cobra.Command {
	var f editFlags
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Log a decision directly",
		RunE: func(cmd *cobra.Command, args []string) error {
			review, err := newReview()
			if err != nil {
				return err
			}
			rec, err := review.Reconcile(domain.Candidate{}, f.edits(cmd))
			if err != nil {
				return err
			}
			res, err := client().LogDecision(cmd.Context(), rec)
			if err != nil {
				return err
			}
			return printJSONOrTable(map[string]any{"record": rec, "result": res})
		},
	}
	f.register(cmd)
	return cmd
}

func captureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture, extract, review and confirm a decision",
		Long:  "Runs the client pipeline against a server. Review flags override the extracted fields before the decision is confirmed.",
	}
	cmd.AddCommand(captureTextCmd())
	cmd.AddCommand(captureImageCmd())
	return cmd
}

func captureTextCmd() *cobra.Command {
	var f editFlags
	cmd := &cobra.Command{
		Use:   "text [text|-]",
		Short: "Capture typed text",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(cmd, args)
			if err != nil {
				return err
			}
			flow, err := newFlow()
			if err != nil {
				return err
			}
			tc := capture.NewTextCapture(flow)
			tc.SetText(text)
			if _, err := tc.Submit(cmd.Context()); err != nil {
				return err
			}
			return confirm(cmd, flow, f.edits(cmd))
		},
	}
	f.register(cmd)
	return cmd
}

func captureImageCmd() *cobra.Command {
	var f editFlags
	var file string
	cmd := &cobra.Command{
		Use:   "image",
		Short: "Capture a photographed note",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			mimeType := mime.TypeByExtension(filepath.Ext(file))
			if mimeType == "" {
				mimeType = http.DetectContentType(data)
			}
			flow, err := newFlow()
			if err != nil {
				return err
			}
			ic := capture.NewImageCapture(flow)
			if err := ic.Select(cmd.Context(), filepath.Base(file), mimeType, data); err != nil {
				return err
			}
			if ic.State() == capture.Idle {
				return fmt.Errorf("%s is not an image (%s)", file, mimeType)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "recognized text:\n%s\n\n", ic.Text())
			if _, err := ic.Submit(cmd.Context()); err != nil {
				return err
			}
			return confirm(cmd, flow, f.edits(cmd))
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "image file")
	_ = cmd.MarkFlagRequired("file")
	f.register(cmd)
	return cmd
}

func confirm(cmd *cobra.Command, flow *capture.Flow, e capture.Edits) error {
	res, err := flow.Confirm(cmd.Context(), e)
	if err != nil {
		return err
	}
	if res.Relay != nil && !res.Relay.Delivered {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: decision stored but webhook relay failed: %s\n", res.Relay.Error)
	}
	return printJSONOrTable(res.Record)
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var write string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Print the default decisionlog.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if write == "" {
				fmt.Print(config.GenerateDefault())
				return nil
			}
			if _, err := os.Stat(write); err == nil {
				return fmt.Errorf("%s already exists", write)
			}
			return os.WriteFile(write, []byte(config.GenerateDefault()), 0o644)
		},
	}
	cmd.Flags().StringVar(&write, "write", "", "write to this path instead of stdout")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config (secrets redacted)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(viper.GetViper())
			if err != nil {
				return err
			}
			redact := func(s string) string {
				if s == "" {
					return ""
				}
				return "********"
			}
			cfg.Model.APIKey = redact(cfg.Model.APIKey)
			cfg.Webhook.Secret = redact(cfg.Webhook.Secret)
			cfg.Storage.DSN = redact(cfg.Storage.DSN)
			return printJSONOrTable(cfg)
		},
	}
}

// --- helpers ---

func client() *decisionlogsdk.Client {
	return decisionlogsdk.New(viper.GetString("api-url"))
}

func newReview() (capture.Review, error) {
	cfg, err := app.LoadConfig(viper.GetViper())
	if err != nil {
		return capture.Review{}, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return capture.Review{}, err
	}
	return capture.NewReview(loc), nil
}

func newFlow() (*capture.Flow, error) {
	review, err := newReview()
	if err != nil {
		return nil, err
	}
	return capture.NewFlow(client(), review), nil
}

func readText(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	b, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
