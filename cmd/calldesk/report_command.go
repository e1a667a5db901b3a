package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/guptarohit/asciigraph"

	"github.com/Hunter28-lucky/ai-calling-agent/internal/analytics"
	"github.com/Hunter28-lucky/ai-calling-agent/internal/calls"
	"github.com/Hunter28-lucky/ai-calling-agent/internal/config"
	"github.com/Hunter28-lucky/ai-calling-agent/internal/cost"
)

const (
	defaultReportFormat = "text"
	defaultReportLimit  = 10
	maxReportLimit      = 200
	reportChartDays     = 30
	reportChartHeight   = 8
	reportSchemaVersion = "report.v1"
)

type reportDocument struct {
	SchemaVersion string                `json:"schema_version"`
	GeneratedAt   time.Time             `json:"generated_at"`
	Storage       reportStorageInfo     `json:"storage"`
	Timezone      string                `json:"timezone"`
	USDToINR      float64               `json:"usd_to_inr"`
	Windows       []cost.Totals         `json:"windows"`
	Breakdown     reportBreakdown       `json:"breakdown"`
	StatusCounts  []reportStatusCount   `json:"status_counts"`
	Daily         []calls.DailyCount    `json:"daily"`
	Recent        []reportRecentCallRow `json:"recent_calls"`
}

type reportStorageInfo struct {
	Driver string `json:"driver"`
	Path   string `json:"path,omitempty"`
}

type reportBreakdown struct {
	Transport float64 `json:"transport"`
	STT       float64 `json:"stt"`
	TTS       float64 `json:"tts"`
	LLM       float64 `json:"llm"`
}

type reportStatusCount struct {
	Status calls.Status `json:"status"`
	Count  int64        `json:"count"`
}

type reportRecentCallRow struct {
	ID           int64        `json:"id"`
	PhoneNumber  string       `json:"phone_number"`
	Status       calls.Status `json:"status"`
	Duration     int          `json:"duration"`
	TotalCostUSD float64      `json:"total_cost_usd"`
	CreatedAt    time.Time    `json:"created_at"`
}

// reportStore is the read side of calls.Store the report needs.
type reportStore interface {
	analytics.CostSummarizer
	CountByStatus(ctx context.Context) (map[calls.Status]int64, error)
	CostEntriesSince(ctx context.Context, from time.Time) ([]cost.Entry, error)
	ListCalls(ctx context.Context, filter calls.CallFilter) ([]*calls.Call, error)
}

func runReport(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("report", flag.ContinueOnError)
	flagSet.SetOutput(errOut)

	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	format := flagSet.String("format", defaultReportFormat, "Output format: text or json")
	limit := flagSet.Int("limit", defaultReportLimit, "Recent call count (1-200)")

	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 0 {
		fmt.Fprintln(errOut, "report does not accept positional arguments")
		return 2
	}

	normalizedFormat, err := normalizeTextJSONFormat("report", *format, defaultReportFormat)
	if err != nil {
		fmt.Fprintln(errOut, err.Error())
		return 2
	}
	if *limit <= 0 || *limit > maxReportLimit {
		fmt.Fprintf(errOut, "limit must be between 1 and %d\n", maxReportLimit)
		return 2
	}

	cfg, stage, err := loadAndValidateConfig(*configPath)
	if err != nil {
		if stage == configStageLoad {
			fmt.Fprintf(errOut, "failed to load config: %v\n", err)
		} else {
			fmt.Fprintf(errOut, "config is invalid: %v\n", err)
		}
		return 1
	}
	pricing, err := cfg.Pricing.CostConfig()
	if err != nil {
		fmt.Fprintf(errOut, "config is invalid: %v\n", err)
		return 1
	}

	store, err := openStore(cfg)
	if err != nil {
		fmt.Fprintf(errOut, "failed to initialize call store: %v\n", err)
		return 1
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(errOut, "warning: failed to close call store: %v\n", err)
		}
	}()

	report, err := buildReport(context.Background(), store, cfg, pricing, *limit, time.Now())
	if err != nil {
		fmt.Fprintf(errOut, "failed to build report: %v\n", err)
		return 1
	}

	if err := writeReport(out, normalizedFormat, report); err != nil {
		fmt.Fprintf(errOut, "failed to write report: %v\n", err)
		return 1
	}
	return 0
}

func buildReport(ctx context.Context, store reportStore, cfg config.Config, pricing cost.Config, limit int, now time.Time) (reportDocument, error) {
	var (
		windows map[cost.Window]cost.Totals
		counts  map[calls.Status]int64
		entries []cost.Entry
		recent  []*calls.Call
	)

	var (
		queryErr error
		mu       sync.Mutex
		wg       sync.WaitGroup
	)

	runQuery := func(fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				mu.Lock()
				if queryErr == nil {
					queryErr = err
				}
				mu.Unlock()
			}
		}()
	}

	costs := analytics.NewCostService(store, pricing)
	runQuery(func() error {
		var err error
		windows, err = costs.Windows(ctx)
		return err
	})
	runQuery(func() error {
		var err error
		counts, err = store.CountByStatus(ctx)
		return err
	})
	runQuery(func() error {
		var err error
		entries, err = store.CostEntriesSince(ctx, calls.DailyWindowStart(reportChartDays, now, pricing.Location))
		return err
	})
	runQuery(func() error {
		var err error
		recent, err = store.ListCalls(ctx, calls.CallFilter{Limit: limit})
		return err
	})

	wg.Wait()
	if queryErr != nil {
		return reportDocument{}, queryErr
	}

	windowRows := make([]cost.Totals, 0, len(cost.Windows()))
	for _, w := range cost.Windows() {
		totals := windows[w]
		totals.Window = w
		windowRows = append(windowRows, totals)
	}
	all := windows[cost.WindowAllTime]

	statusRows := make([]reportStatusCount, 0, len(counts))
	for status, count := range counts {
		statusRows = append(statusRows, reportStatusCount{Status: status, Count: count})
	}
	sort.Slice(statusRows, func(i, j int) bool {
		if statusRows[i].Count != statusRows[j].Count {
			return statusRows[i].Count > statusRows[j].Count
		}
		return statusRows[i].Status < statusRows[j].Status
	})

	recentRows := make([]reportRecentCallRow, 0, len(recent))
	for _, call := range recent {
		if call == nil {
			continue
		}
		recentRows = append(recentRows, reportRecentCallRow{
			ID:           call.ID,
			PhoneNumber:  call.PhoneNumber,
			Status:       call.Status,
			Duration:     call.DurationSeconds,
			TotalCostUSD: call.TotalCostUSD,
			CreatedAt:    call.CreatedAt.UTC(),
		})
	}

	storagePath := ""
	if strings.TrimSpace(cfg.Storage.Driver) == "sqlite" {
		storagePath = cfg.Storage.Path
	}

	return reportDocument{
		SchemaVersion: reportSchemaVersion,
		GeneratedAt:   now.UTC(),
		Storage:       reportStorageInfo{Driver: cfg.Storage.Driver, Path: storagePath},
		Timezone:      pricing.Location.String(),
		USDToINR:      pricing.ExchangeRate,
		Windows:       windowRows,
		Breakdown: reportBreakdown{
			Transport: cost.Round(all.Transport, 4),
			STT:       cost.Round(all.STT, 4),
			TTS:       cost.Round(all.TTS, 4),
			LLM:       cost.Round(all.LLM, 4),
		},
		StatusCounts: statusRows,
		Daily:        calls.DailyCounts(entries, reportChartDays, now, pricing.Location),
		Recent:       recentRows,
	}, nil
}

func writeReport(out io.Writer, format string, report reportDocument) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	default:
		return writeReportText(out, report)
	}
}

func writeReportText(out io.Writer, report reportDocument) error {
	fmt.Fprintln(out, "Calldesk Report")

	metadataWriter := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(metadataWriter, "Generated at\t%s\n", report.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(metadataWriter, "Storage driver\t%s\n", report.Storage.Driver)
	if strings.TrimSpace(report.Storage.Path) != "" {
		fmt.Fprintf(metadataWriter, "Storage path\t%s\n", report.Storage.Path)
	}
	fmt.Fprintf(metadataWriter, "Timezone\t%s\n", report.Timezone)
	fmt.Fprintf(metadataWriter, "USD to INR\t%.2f\n", report.USDToINR)
	if err := metadataWriter.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out, "\nCost Windows")
	windowWriter := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(windowWriter, "WINDOW\tCALLS\tMINUTES\tUSD\tINR\tUSD/MIN")
	for _, row := range report.Windows {
		fmt.Fprintf(windowWriter, "%s\t%d\t%.2f\t%.4f\t%.2f\t%.4f\n",
			row.Window, row.Calls, row.Minutes, row.TotalUSD, row.TotalINR, row.CostPerMinuteUSD)
	}
	if err := windowWriter.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out, "\nAll-time Breakdown (USD)")
	breakdownWriter := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(breakdownWriter, "Transport (LiveKit SIP)\t%.4f\n", report.Breakdown.Transport)
	fmt.Fprintf(breakdownWriter, "Speech-to-text\t%.4f\n", report.Breakdown.STT)
	fmt.Fprintf(breakdownWriter, "Text-to-speech\t%.4f\n", report.Breakdown.TTS)
	fmt.Fprintf(breakdownWriter, "LLM\t%.4f\n", report.Breakdown.LLM)
	if err := breakdownWriter.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out, "\nStatus")
	if len(report.StatusCounts) == 0 {
		fmt.Fprintln(out, "(no calls)")
	} else {
		statusWriter := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, row := range report.StatusCounts {
			fmt.Fprintf(statusWriter, "%s\t%d\n", row.Status, row.Count)
		}
		if err := statusWriter.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "\nDaily Cost (last %d days)\n", len(report.Daily))
	fmt.Fprintln(out, dailyCostChart(report.Daily))

	fmt.Fprintln(out, "\nRecent Calls")
	if len(report.Recent) == 0 {
		fmt.Fprintln(out, "(no calls)")
		return nil
	}
	callWriter := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(callWriter, "ID\tCREATED_AT\tPHONE\tSTATUS\tDURATION_S\tCOST_USD")
	for _, row := range report.Recent {
		fmt.Fprintf(callWriter, "%d\t%s\t%s\t%s\t%d\t%.4f\n",
			row.ID, row.CreatedAt.Format(time.RFC3339), row.PhoneNumber, row.Status, row.Duration, row.TotalCostUSD)
	}
	return callWriter.Flush()
}

func dailyCostChart(days []calls.DailyCount) string {
	if len(days) == 0 {
		return "(no data)"
	}
	series := make([]float64, len(days))
	for i, day := range days {
		series[i] = day.CostUSD
	}
	return asciigraph.Plot(series,
		asciigraph.Height(reportChartHeight),
		asciigraph.Width(len(series)*2),
		asciigraph.Precision(4),
		asciigraph.Caption(fmt.Sprintf("USD per day, %s to %s", days[0].Date, days[len(days)-1].Date)),
	)
}
