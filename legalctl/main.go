package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/DeafMist/legal-radar/backend/internal/aggregator"
	"github.com/DeafMist/legal-radar/backend/internal/app"
	"github.com/DeafMist/legal-radar/backend/internal/config"
	"github.com/DeafMist/legal-radar/backend/internal/logger"
	"github.com/DeafMist/legal-radar/backend/internal/models"
)

var version = "dev"

// backend is what the commands need from the wired services.
type backend interface {
	Search(ctx context.Context, spec models.QuerySpec, selector []models.Source, opts aggregator.Options) (*aggregator.Result, error)
	GetByID(ctx context.Context, id string, opts aggregator.GetOptions) (models.CanonicalRecord, error)
	VerifyOwner(ctx context.Context, ownerID string) ([]models.AlertResult, error)
	CreateAlert(ctx context.Context, ownerID, keywords string, filter models.Source) (models.Alert, error)
	ListAlerts(ctx context.Context, ownerID string) ([]models.Alert, error)
	GetAlert(ctx context.Context, id string) (models.Alert, error)
	SetAlertActive(ctx context.Context, id string, active bool) error
	Close() error
}

type services struct {
	*app.Services
}

func (s services) Search(ctx context.Context, spec models.QuerySpec, selector []models.Source, opts aggregator.Options) (*aggregator.Result, error) {
	return s.Aggregator.Search(ctx, spec, selector, opts)
}

func (s services) GetByID(ctx context.Context, id string, opts aggregator.GetOptions) (models.CanonicalRecord, error) {
	return s.Aggregator.GetByID(ctx, id, opts)
}

func (s services) VerifyOwner(ctx context.Context, ownerID string) ([]models.AlertResult, error) {
	return s.Matcher.VerifyOwner(ctx, ownerID)
}

func (s services) CreateAlert(ctx context.Context, ownerID, keywords string, filter models.Source) (models.Alert, error) {
	return s.DB.CreateAlert(ctx, ownerID, keywords, filter)
}

func (s services) ListAlerts(ctx context.Context, ownerID string) ([]models.Alert, error) {
	return s.DB.ListAlerts(ctx, ownerID)
}

func (s services) GetAlert(ctx context.Context, id string) (models.Alert, error) {
	return s.DB.GetAlert(ctx, id)
}

func (s services) SetAlertActive(ctx context.Context, id string, active bool) error {
	return s.DB.SetAlertActive(ctx, id, active)
}

func openServices() (backend, error) {
	cfg, err := config.LoadCommon()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	// Logs go to stderr so stdout stays machine-readable with --json.
	log := logger.NewWithWriter("legalctl", os.Stderr, os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	svc, err := app.Build(cfg, log, app.AlertOptions{})
	if err != nil {
		return nil, err
	}
	return services{svc}, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	if err := newRootCmd(openServices).ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

type cli struct {
	open       func() (backend, error)
	jsonOutput bool
}

func newRootCmd(open func() (backend, error)) *cobra.Command {
	c := &cli{open: open}

	rootCmd := &cobra.Command{
		Use:           "legalctl",
		Short:         "Query the official gazette and case-law sources",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().BoolVarP(&c.jsonOutput, "json", "j", false, "Output as JSON")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "legalctl %s\n", version)
		},
	})
	rootCmd.AddCommand(c.searchCmd(), c.getCmd(), c.verifyCmd(), c.alertsCmd())
	return rootCmd
}

func (c *cli) run(cmd *cobra.Command, fn func(ctx context.Context, b backend) error) error {
	b, err := c.open()
	if err != nil {
		return err
	}
	defer b.Close()
	return fn(cmd.Context(), b)
}

func (c *cli) searchCmd() *cobra.Command {
	var (
		source, from, to, kind string
		limit, page            int
		sync                   bool
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the sources live",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			selector, err := models.ParseSelector(source)
			if err != nil {
				return err
			}
			spec := models.QuerySpec{Query: strings.Join(args, " "), Kind: models.Kind(kind), Limit: limit, Page: page}
			if spec.From, err = models.ParseDay(from); err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			if spec.To, err = models.ParseDay(to); err != nil {
				return fmt.Errorf("--to: %w", err)
			}

			return c.run(cmd, func(ctx context.Context, b backend) error {
				res, err := b.Search(ctx, spec, selector, aggregator.Options{Sync: sync})
				if err != nil && !errors.Is(err, aggregator.ErrAllSourcesFailed) {
					return err
				}
				if printErr := c.printResult(cmd.OutOrStdout(), res); printErr != nil {
					return printErr
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&source, "source", "ALL", "GAZETTE, CASE_LAW or ALL")
	cmd.Flags().StringVar(&from, "from", "", "Earliest publication day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "Latest publication day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&kind, "kind", "", "Document kind filter")
	cmd.Flags().IntVar(&limit, "limit", 0, "Results per source")
	cmd.Flags().IntVar(&page, "page", 1, "Result page")
	cmd.Flags().BoolVar(&sync, "sync", false, "Persist freshly fetched records")
	return cmd
}

func (c *cli) getCmd() *cobra.Command {
	var fallback bool
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Fetch one record by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, b backend) error {
				rec, err := b.GetByID(ctx, args[0], aggregator.GetOptions{StoreFallback: fallback})
				if err != nil {
					return err
				}
				if c.jsonOutput {
					return printJSON(cmd.OutOrStdout(), rec)
				}
				printRecords(cmd.OutOrStdout(), []models.CanonicalRecord{rec})
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&fallback, "store-fallback", false, "Read the persisted copy when the source is unavailable")
	return cmd
}

func (c *cli) verifyCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the active alerts of an owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, b backend) error {
				results, err := b.VerifyOwner(ctx, owner)
				if err != nil {
					return err
				}
				if c.jsonOutput {
					return printJSON(cmd.OutOrStdout(), results)
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ALERT\tNEW\tERROR")
				for _, r := range results {
					fmt.Fprintf(w, "%s\t%s\t%s\n", r.AlertID, strings.Join(r.NewRecordIDs, ","), r.Error)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Alert owner id")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func (c *cli) alertsCmd() *cobra.Command {
	alertsCmd := &cobra.Command{
		Use:   "alerts",
		Short: "Manage saved alerts",
	}

	var owner, source string
	addCmd := &cobra.Command{
		Use:   "add <keywords>",
		Short: "Save a keyword alert",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter models.Source
			if source != "" {
				var err error
				if filter, err = models.ParseSource(source); err != nil {
					return err
				}
			}
			return c.run(cmd, func(ctx context.Context, b backend) error {
				alert, err := b.CreateAlert(ctx, owner, strings.Join(args, " "), filter)
				if err != nil {
					return err
				}
				if c.jsonOutput {
					return printJSON(cmd.OutOrStdout(), alert)
				}
				fmt.Fprintln(cmd.OutOrStdout(), alert.ID)
				return nil
			})
		},
	}
	addCmd.Flags().StringVar(&owner, "owner", "", "Alert owner id")
	addCmd.Flags().StringVar(&source, "source", "", "Restrict the alert to one source")
	_ = addCmd.MarkFlagRequired("owner")

	var listOwner string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the alerts of an owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, b backend) error {
				list, err := b.ListAlerts(ctx, listOwner)
				if err != nil {
					return err
				}
				if c.jsonOutput {
					return printJSON(cmd.OutOrStdout(), list)
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tKEYWORDS\tSOURCE\tACTIVE\tSEEN")
				for _, a := range list {
					fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%d\n", a.ID, a.Keywords, a.SourceFilter, a.Active, len(a.LastSeenIDs))
				}
				return w.Flush()
			})
		},
	}
	listCmd.Flags().StringVar(&listOwner, "owner", "", "Alert owner id")
	_ = listCmd.MarkFlagRequired("owner")

	showCmd := &cobra.Command{
		Use:   "show <alert-id>",
		Short: "Show one alert and the record ids it has seen",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, b backend) error {
				alert, err := b.GetAlert(ctx, args[0])
				if err != nil {
					return err
				}
				if c.jsonOutput {
					return printJSON(cmd.OutOrStdout(), alert)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s owner=%s active=%t keywords=%q\n", alert.ID, alert.OwnerID, alert.Active, alert.Keywords)
				for _, id := range alert.LastSeenIDs {
					fmt.Fprintln(out, id)
				}
				return nil
			})
		},
	}

	alertsCmd.AddCommand(addCmd, listCmd, showCmd, c.toggleCmd("pause", false), c.toggleCmd("resume", true))
	return alertsCmd
}

func (c *cli) toggleCmd(name string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <alert-id>",
		Short: fmt.Sprintf("Set an alert active=%t", active),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, b backend) error {
				return b.SetAlertActive(ctx, args[0], active)
			})
		},
	}
}

func (c *cli) printResult(out io.Writer, res *aggregator.Result) error {
	if res == nil {
		return nil
	}
	if c.jsonOutput {
		return printJSON(out, res)
	}
	printRecords(out, res.Records)
	for _, f := range res.PartialFailures {
		fmt.Fprintf(out, "unavailable: %s (%s) %s\n", f.Source, f.Kind, f.Reason)
	}
	if res.SyncError != "" {
		fmt.Fprintf(out, "sync failed: %s\n", res.SyncError)
	}
	return nil
}

func printRecords(out io.Writer, recs []models.CanonicalRecord) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPUBLISHED\tKIND\tTITLE")
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ID, r.PublishedAt.Format("2006-01-02"), r.Kind, r.Title)
	}
	w.Flush()
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
