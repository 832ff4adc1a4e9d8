package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/goodtune/pedometer/internal/config"
	"github.com/goodtune/pedometer/internal/pedometer"
	"github.com/goodtune/pedometer/internal/storage"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	stepsStart string
	stepsEnd   string
)

var stepsCmd = &cobra.Command{
	Use:   "steps",
	Short: "Query recorded steps",
	Long:  `Print the hourly step buckets kept in the configured store.`,
}

var stepsRangeCmd = &cobra.Command{
	Use:   "range",
	Short: "Show steps between two instants",
	Long: `Show the hourly buckets whose hour starts within [start, end]. Instants
are RFC 3339 timestamps or epoch milliseconds.`,
	Example: `  pedometer steps range --start 2024-05-01T00:00:00Z --end 2024-05-02T00:00:00Z
  pedometer -c config.yaml steps range --start 1714521600000 --end 1714608000000`,
	RunE: runStepsRange,
}

var stepsTodayCmd = &cobra.Command{
	Use:   "today",
	Short: "Show today's steps",
	RunE:  runStepsToday,
}

func init() {
	stepsRangeCmd.Flags().StringVar(&stepsStart, "start", "", "Range start (RFC 3339 or epoch ms, required)")
	stepsRangeCmd.Flags().StringVar(&stepsEnd, "end", "", "Range end (RFC 3339 or epoch ms), defaults to now")
	_ = stepsRangeCmd.MarkFlagRequired("start")

	stepsCmd.AddCommand(stepsRangeCmd)
	stepsCmd.AddCommand(stepsTodayCmd)
	rootCmd.AddCommand(stepsCmd)
}

func runStepsRange(cmd *cobra.Command, args []string) error {
	start, err := parseInstant(stepsStart)
	if err != nil {
		return fmt.Errorf("invalid --start: %w", err)
	}

	end := time.Now().UnixMilli()
	if stepsEnd != "" {
		if end, err = parseInstant(stepsEnd); err != nil {
			return fmt.Errorf("invalid --end: %w", err)
		}
	}
	if start > end {
		return fmt.Errorf("--start must not be after --end")
	}

	return withQueryPedometer(func(ctx context.Context, p *pedometer.Pedometer, loc *time.Location) error {
		buckets, err := p.GetSteps(ctx, start, end)
		if err != nil {
			return err
		}
		printBuckets(os.Stdout, buckets, loc)
		return nil
	})
}

func runStepsToday(cmd *cobra.Command, args []string) error {
	return withQueryPedometer(func(ctx context.Context, p *pedometer.Pedometer, loc *time.Location) error {
		buckets, err := p.GetDailySteps(ctx)
		if err != nil {
			return err
		}
		printBuckets(os.Stdout, buckets, loc)
		return nil
	})
}

// withQueryPedometer opens the store read side and runs fn against a
// pedometer without sensors.
func withQueryPedometer(fn func(ctx context.Context, p *pedometer.Pedometer, loc *time.Location) error) error {
	cfg, logger, err := loadCommandConfig()
	if err != nil {
		return err
	}
	return withStore(cfg, logger, func(store storage.Store) error {
		p, _, err := newPedometer(cfg, store, nil, nil, pedometer.RealClock{}, logger)
		if err != nil {
			return err
		}
		loc, _ := cfg.Tracking.Location()
		return fn(context.Background(), p, loc)
	})
}

func withStore(cfg *config.Config, logger zerolog.Logger, fn func(storage.Store) error) error {
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()
	return fn(store)
}

// parseInstant accepts RFC 3339 or epoch milliseconds.
func parseInstant(s string) (int64, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("expected RFC 3339 or epoch milliseconds: %s", s)
	}
	return t.UnixMilli(), nil
}

// printBuckets renders buckets as a table with a total row.
func printBuckets(w io.Writer, buckets []storage.StepBucket, loc *time.Location) {
	if len(buckets) == 0 {
		_, _ = color.New(color.FgYellow).Fprintln(w, "No steps recorded in this range")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Hour", "Steps"})

	total := 0
	for _, b := range buckets {
		hour := time.UnixMilli(b.Timestamp).In(loc).Format("2006-01-02 15:04")
		t.AppendRow(table.Row{hour, humanize.Comma(int64(b.Steps))})
		total += b.Steps
	}

	t.AppendFooter(table.Row{"Total", humanize.Comma(int64(total))})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight, AlignFooter: text.AlignRight},
	})
	t.Render()
}
