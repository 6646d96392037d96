package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"wisefido-medication/internal/config"
	"wisefido-medication/internal/dedup"
	"wisefido-medication/internal/domain"
	"wisefido-medication/internal/repository"
	"wisefido-medication/internal/schedule"

	"owl-common/database"
	"owl-common/logger"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"
)

// cli 命令行参数
type cli struct {
	Patient string `help:"Patient id; required for the completeness check."`
	Start   string `help:"Start date (YYYY-MM-DD)."`
	End     string `help:"End date (YYYY-MM-DD)."`
	Delete  bool   `help:"Delete duplicate candidates, keeping the latest record per key."`
}

func main() {
	var args cli
	kong.Parse(&args,
		kong.Name("check-workflow-records"),
		kong.Description("Report duplicate and missing medication workflow records."),
	)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	lg, err := logger.NewLogger("warn", "console", "check-workflow-records")
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	err = run(context.Background(), args,
		repository.NewPostgresWorkflowRecordsRepository(db),
		repository.NewPostgresPrescriptionsRepository(db),
		lg, os.Stdout)
	if err != nil {
		log.Fatalf("%v", err)
	}
}

func run(
	ctx context.Context,
	args cli,
	records repository.WorkflowRecordsRepository,
	prescriptions repository.PrescriptionsRepository,
	lg *zap.Logger,
	out io.Writer,
) error {
	filters := &repository.RecordFilters{PatientID: args.Patient}
	if args.Start != "" || args.End != "" {
		dates := domain.DateRange{Start: args.Start, End: args.End}
		if err := dates.Validate(); err != nil {
			return fmt.Errorf("invalid date range: %w", err)
		}
		filters.DateRange = &dates
	}

	line := strings.Repeat("=", 80)

	// 1. 重复记录
	fmt.Fprintln(out, line)
	fmt.Fprintln(out, "1. Duplicate workflow records (prescription_id, scheduled_date, scheduled_time)")
	fmt.Fprintln(out, line)
	d := dedup.NewDeduplicator(records, lg)
	report, err := d.FindDuplicates(ctx, filters)
	if err != nil {
		return fmt.Errorf("failed to find duplicates: %w", err)
	}
	if len(report.Groups) == 0 {
		fmt.Fprintln(out, "✅ No duplicates")
	}
	for _, g := range report.Groups {
		fmt.Fprintf(out, "%s %s %s  keep=%s (updated %s)\n",
			g.Key.PrescriptionID, g.Key.ScheduledDate, g.Key.ScheduledTime,
			g.Survivor.RecordID, g.Survivor.UpdatedAt.Format("2006-01-02 15:04:05"))
		for _, rec := range g.Duplicates {
			fmt.Fprintf(out, "    duplicate=%s (updated %s)\n", rec.RecordID, rec.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
	}

	if args.Delete && len(report.CandidateIDs) > 0 {
		res, err := d.DeleteConfirmed(ctx, report.CandidateIDs)
		if err != nil {
			return fmt.Errorf("failed to delete duplicates: %w", err)
		}
		fmt.Fprintf(out, "✅ Deleted %d records, refused %d\n", len(res.Deleted), len(res.Refused))
		for id, why := range res.Refused {
			fmt.Fprintf(out, "    refused %s: %s\n", id, why)
		}
	}

	// 2. 完整性（需要住户和日期范围）
	if args.Patient == "" || filters.DateRange == nil {
		return nil
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, line)
	fmt.Fprintln(out, "2. Completeness")
	fmt.Fprintln(out, line)
	expander := schedule.NewExpander(prescriptions, records, 1, lg)
	c, err := expander.CheckCompleteness(ctx, args.Patient, *filters.DateRange)
	if err != nil {
		return fmt.Errorf("failed to check completeness: %w", err)
	}
	status := "✅ complete"
	if !c.IsComplete {
		status = "❌ incomplete"
	}
	fmt.Fprintf(out, "%s  expected=%d actual=%d missing=%d\n", status, c.Expected, c.Actual, c.Missing)
	return nil
}
