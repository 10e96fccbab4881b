package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/use-agent/seibro/browser"
	"github.com/use-agent/seibro/engine"
	"github.com/use-agent/seibro/logging"
	"github.com/use-agent/seibro/models"
	"github.com/use-agent/seibro/sink"
	"github.com/use-agent/seibro/targets"
)

type runFlags struct {
	targets  string
	out      string
	format   string
	from     string
	to       string
	workers  int
	headless bool
	maxPages int
	gridMode string
}

func newRunCmd(gf *globalFlags) *cobra.Command {
	var rf runFlags
	defaults := models.DefaultTimeRange(time.Now())

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Scrape every target in a CSV or YAML file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScrape(cmd, gf, rf)
		},
	}
	cmd.Flags().StringVarP(&rf.targets, "targets", "t", "", "Targets file: CSV keyword,company_name or YAML list")
	cmd.Flags().StringVarP(&rf.out, "out", "o", "exercise_history.csv", "Output file; truncated at start")
	cmd.Flags().StringVarP(&rf.format, "format", "f", "", "Output format (csv, jsonl); inferred from --out if empty")
	cmd.Flags().StringVar(&rf.from, "from", defaults.FromDate, "First date, YYYYMMDD")
	cmd.Flags().StringVar(&rf.to, "to", defaults.ToDate, "Last date, YYYYMMDD")
	cmd.Flags().IntVarP(&rf.workers, "workers", "w", 0, "Concurrent browsers; defaults to SEIBRO_WORKERS")
	cmd.Flags().BoolVar(&rf.headless, "headless", true, "Run browsers headless")
	cmd.Flags().IntVar(&rf.maxPages, "max-pages", 0, "Stop each target after this many pages (0 for no limit)")
	cmd.Flags().StringVar(&rf.gridMode, "grid-mode", "", "Grid read mode (live, snapshot); defaults to SEIBRO_GRID_MODE")
	_ = cmd.MarkFlagRequired("targets")
	return cmd
}

func runScrape(cmd *cobra.Command, gf *globalFlags, rf runFlags) error {
	cfg, err := loadConfig(gf)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("headless") {
		cfg.Browser.Headless = rf.headless
	}
	if rf.workers > 0 {
		cfg.Orchestrator.Concurrency = rf.workers
	}
	if rf.maxPages > 0 {
		cfg.Workflow.MaxPages = rf.maxPages
	}
	if rf.gridMode != "" {
		cfg.Browser.GridMode = rf.gridMode
	}
	logging.InitWriter(os.Stderr, cfg.Log)

	rng := models.TimeRange{FromDate: rf.from, ToDate: rf.to}
	if err := rng.Validate(); err != nil {
		return err
	}

	entities, err := targets.Load(rf.targets)
	if err != nil {
		return err
	}

	format := rf.format
	if format == "" {
		format = sink.FormatFromPath(rf.out)
	}
	out, err := sink.Open(format, rf.out)
	if err != nil {
		return err
	}
	defer out.Close()

	orch := engine.New(browser.NewFactory(cfg.Browser, cfg.Selectors), out, engine.Options{
		Config:    cfg.Orchestrator,
		Workflow:  cfg.Workflow,
		Selectors: cfg.Selectors,
		Range:     rng,
		OnProgress: func(completed, total int) {
			fmt.Fprintf(os.Stderr, "progress: %d/%d (%d%%)\n", completed, total, completed*100/max(total, 1))
		},
	})

	// First signal stops cooperatively, a second one aborts.
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	go func() {
		select {
		case sig := <-sigs:
			slog.Info("stop requested", "signal", sig.String())
			orch.Stop()
		case <-ctx.Done():
			return
		}
		select {
		case <-sigs:
			cancel()
		case <-ctx.Done():
		}
	}()

	sum, err := orch.Run(ctx, entities)
	if sum != nil && sum.Total > 0 {
		printSummary(cmd.OutOrStdout(), sum)
	}
	if err != nil {
		return err
	}
	if sum.Stopped {
		return fmt.Errorf("run stopped: %d/%d targets completed, rows so far are in %s", sum.Completed, sum.Total, rf.out)
	}
	slog.Info("output written", "path", rf.out, "rows", sum.Records)
	return nil
}

func printSummary(w io.Writer, sum *engine.RunSummary) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Keyword", "Rows", "Status"})

	for _, r := range sum.Results {
		status := "ok"
		if !r.Success {
			status = r.Code
		}
		row := []string{r.Keyword, strconv.Itoa(r.RecordCount), status}
		switch {
		case !r.Success:
			table.Rich(row, []tablewriter.Colors{{tablewriter.Normal, tablewriter.FgRedColor}, {tablewriter.Normal, tablewriter.FgRedColor}, {tablewriter.Normal, tablewriter.FgRedColor}})
		case r.RecordCount == 0:
			table.Rich(row, []tablewriter.Colors{{tablewriter.Normal, tablewriter.FgYellowColor}, {tablewriter.Normal, tablewriter.FgYellowColor}, {tablewriter.Normal, tablewriter.FgYellowColor}})
		default:
			table.Append(row)
		}
	}
	table.SetFooter([]string{
		fmt.Sprintf("%d/%d done", sum.Completed, sum.Total),
		strconv.Itoa(sum.Records),
		fmt.Sprintf("%d failed", sum.Failed),
	})
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_LEFT})
	table.SetBorder(false)
	table.Render()
}
