package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/hochfrequenz/batch-engine/internal/batch"
	"github.com/hochfrequenz/batch-engine/internal/definition"
	"github.com/hochfrequenz/batch-engine/internal/engine"
	"github.com/hochfrequenz/batch-engine/internal/ledger"
	"github.com/hochfrequenz/batch-engine/internal/logging"
	"github.com/hochfrequenz/batch-engine/internal/notify"
	"github.com/hochfrequenz/batch-engine/internal/report"
	"github.com/hochfrequenz/batch-engine/tui"
	"github.com/spf13/cobra"
	"github.com/zclconf/go-cty/cty"
)

var (
	runTimeout     time.Duration
	runNotify      bool
	historyBatch   string
	historyLimit   int
	cleanupConfig  string
	cleanupBatch   string
	tuiBatch       string
	servePort      int
	daemonNoWeb    bool
	stuckThreshold time.Duration
)

func init() {
	// run command
	runCmd := &cobra.Command{
		Use:   "run BATCH",
		Short: "Execute a batch now",
		Long: `Execute a batch now and print the resulting batch run. Ctrl-C requests an
interrupt: the batch stops at the next element boundary and committed tasks
are rolled back.`,
		Args: cobra.ExactArgs(1),
		RunE: runRun,
	}
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "interrupt the batch after this long (0 = no limit)")
	runCmd.Flags().BoolVar(&runNotify, "notify", false, "send the configured notifications when the batch run ends")
	rootCmd.AddCommand(runCmd)

	// interrupt command
	interruptCmd := &cobra.Command{
		Use:   "interrupt RUN_ID",
		Short: "Request that a running batch stops",
		Args:  cobra.ExactArgs(1),
		RunE:  runInterrupt,
	}
	rootCmd.AddCommand(interruptCmd)

	// history command
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recent batch runs",
		RunE:  runHistory,
	}
	historyCmd.Flags().StringVar(&historyBatch, "batch", "", "filter by batch name")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of batch runs")
	rootCmd.AddCommand(historyCmd)

	// show command
	showCmd := &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Show a batch run and its runs",
		Args:  cobra.ExactArgs(1),
		RunE:  runShow,
	}
	rootCmd.AddCommand(showCmd)

	// cleanup command
	cleanupCmd := &cobra.Command{
		Use:   "cleanup [TASK]",
		Short: "Remove the artifacts of a task, or of every task in a batch",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runCleanup,
	}
	cleanupCmd.Flags().StringVar(&cleanupConfig, "configuration", "", "configuration owning TASK")
	cleanupCmd.Flags().StringVar(&cleanupBatch, "batch", "", "clean up every task of this batch")
	rootCmd.AddCommand(cleanupCmd)

	// types command
	typesCmd := &cobra.Command{
		Use:   "types",
		Short: "List registered task types and their parameters",
		RunE:  runTypes,
	}
	rootCmd.AddCommand(typesCmd)

	// validate command
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check workflow definitions and the schedule",
		RunE:  runValidate,
	}
	rootCmd.AddCommand(validateCmd)

	// tui command
	tuiCmd := &cobra.Command{
		Use:   "tui",
		Short: "Launch TUI dashboard",
		RunE:  runTUI,
	}
	tuiCmd.Flags().StringVar(&tuiBatch, "batch", "", "only show runs of this batch")
	rootCmd.AddCommand(tuiCmd)

	// serve command
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the web API server",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (default from config)")
	serveCmd.Flags().DurationVar(&stuckThreshold, "stuck-after", time.Hour, "report runs RUNNING longer than this as stuck")
	rootCmd.AddCommand(serveCmd)

	// daemon command
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run scheduled batches, reload definitions on change and serve the web API",
		RunE:  runDaemon,
	}
	daemonCmd.Flags().BoolVar(&daemonNoWeb, "no-web", false, "do not start the web API")
	daemonCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (default from config)")
	daemonCmd.Flags().DurationVar(&stuckThreshold, "stuck-after", time.Hour, "report runs RUNNING longer than this as stuck")
	rootCmd.AddCommand(daemonCmd)
}

// signalContext is cancelled on SIGINT or SIGTERM, which the executor treats
// as an interrupt request.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runRun(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	catalog, err := a.catalog()
	if err != nil {
		return err
	}
	if err := catalog.Check(a.registry); err != nil {
		return fmt.Errorf("invalid definitions: %w", err)
	}

	var opts []engine.Option
	if runNotify {
		opts = append(opts, engine.WithReporter(notify.NewBatchReporter(a.notifier())))
	}
	trigger := batch.NewTrigger(a.executor(opts...), catalog, nil)

	ctx, stop := signalContext()
	defer stop()
	ctx = logging.WithLogger(ctx, a.logger)

	br, err := trigger.Run(ctx, args[0], runTimeout)
	if br != nil {
		fmt.Print(report.Summary(br, time.Now()))
	}
	if err != nil {
		return err
	}
	if !br.Succeeded() {
		return fmt.Errorf("batch run %s: %s", br.ID, report.StatusLabel(br.Status()))
	}
	return nil
}

func runInterrupt(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	id := args[0]
	if err := a.executor().RequestInterrupt(cmd.Context(), id); err != nil {
		if errors.Is(err, engine.ErrNotActive) {
			return fmt.Errorf("batch run %s is not running", id)
		}
		return err
	}

	fmt.Printf("Interrupt requested for %s; it stops before its next task\n", id)
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	runs, err := a.store.ListBatchRuns(cmd.Context(), ledger.ListOptions{
		BatchName: historyBatch,
		Limit:     historyLimit,
	})
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("No batch runs")
		return nil
	}

	now := time.Now()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tBATCH\tSTATUS\tSTARTED\tDURATION\tMESSAGE")
	for _, br := range runs {
		started := "-"
		if s := br.StartedAt(); s != nil {
			started = report.Ago(*s, now)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			br.ID,
			br.BatchName,
			report.StatusLabel(br.Status()),
			started,
			report.FormatDuration(report.Duration(br, now)),
			truncate(br.Message(), 60),
		)
	}
	return w.Flush()
}

func runShow(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	br, err := a.store.GetBatchRun(cmd.Context(), args[0])
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return fmt.Errorf("no batch run %s", args[0])
		}
		return err
	}

	fmt.Print(report.Summary(br, time.Now()))
	return nil
}

func runCleanup(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	catalog, err := a.catalog()
	if err != nil {
		return err
	}
	exec := a.executor()
	ctx := logging.WithLogger(cmd.Context(), a.logger)

	if cleanupBatch != "" {
		if len(args) > 0 {
			return fmt.Errorf("pass either TASK or --batch, not both")
		}
		cfg, b, err := catalog.Batch(cleanupBatch)
		if err != nil {
			return err
		}
		if err := exec.CleanupBatch(ctx, cfg, b); err != nil {
			return err
		}
		fmt.Printf("Cleaned up batch %s\n", b.Name)
		return nil
	}

	if len(args) == 0 || cleanupConfig == "" {
		return fmt.Errorf("cleanup needs TASK and --configuration, or --batch")
	}
	cfg, task, err := catalog.Task(cleanupConfig, args[0])
	if err != nil {
		return err
	}
	if err := exec.Cleanup(ctx, cfg, task); err != nil {
		return err
	}
	fmt.Printf("Cleaned up %s/%s\n", cfg.Name, task.Name)
	return nil
}

func runTypes(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, name := range a.registry.Names() {
		typ, err := a.registry.Lookup(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\n", name)
		for _, p := range typ.Parameters() {
			t := cty.String
			if p.Type != cty.NilType {
				t = p.Type
			}
			req := "optional"
			if p.Required {
				req = "required"
			}
			def := ""
			if p.HasDefault {
				def = "default " + p.Default
			}
			fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n", p.Name, t.FriendlyName(), req, def, p.Description)
		}
	}
	return w.Flush()
}

func runValidate(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	catalog, err := a.catalog()
	if err != nil {
		return err
	}
	if err := catalog.Check(a.registry); err != nil {
		return fmt.Errorf("invalid definitions: %w", err)
	}

	sched, err := batch.LoadScheduleConfig(a.cfg.General.SchedulePath)
	if err != nil {
		return fmt.Errorf("invalid schedule: %w", err)
	}
	if err := checkSchedule(catalog, sched); err != nil {
		return err
	}

	fmt.Printf("OK: %d configurations, %d batches, %d scheduled\n",
		len(catalog.Configurations()), len(catalog.Batches()), len(sched.Batches))
	return nil
}

// checkSchedule reports scheduled batches the catalog does not define
func checkSchedule(catalog *definition.Catalog, sched *batch.ScheduleConfig) error {
	var errs []error
	for _, bc := range sched.Batches {
		if _, _, err := catalog.Batch(bc.Name); err != nil {
			errs = append(errs, fmt.Errorf("schedule: %w", err))
		}
	}
	return errors.Join(errs...)
}

func runTUI(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	model := tui.NewModel(tui.ModelConfig{
		History:     a.store,
		Interrupter: a.executor(),
		BatchName:   tuiBatch,
	})
	_, err = tea.NewProgram(model, tea.WithAltScreen()).Run()
	return err
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
