// Package devseed populates a development database with sample jobs and an
// example committed invoice so the API and gateway have data to show.
package devseed

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/target/docpipe/internal/core"
	"github.com/target/docpipe/internal/data"
	"github.com/target/docpipe/internal/domain/model"
	"github.com/target/docpipe/internal/service"
)

// Services bundles the dependencies needed for development seeding.
type Services struct {
	DB       *sql.DB
	jobs     *service.JobService
	invoices core.InvoiceRepository
}

// NewServices constructs the services needed for seeding using the provided DB.
func NewServices(db *sql.DB) Services {
	jobRepo := data.NewJobRepo(db, data.RepoConfig{})
	invoiceRepo := data.NewInvoiceRepo(db, data.RepoConfig{})

	jobs := service.MustNewJobService(service.JobServiceOptions{
		Repo: jobRepo,
	})

	return Services{
		DB:       db,
		jobs:     jobs,
		invoices: invoiceRepo,
	}
}

// Run executes the development seeding workflow against the provided DB.
// Seeding is idempotent: when any jobs already exist it does nothing.
func Run(ctx context.Context, svcs Services, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	stats, err := svcs.jobs.Stats(ctx, nil)
	if err != nil {
		return fmt.Errorf("check existing jobs: %w", err)
	}
	if stats.Pending+stats.Running+stats.Completed+stats.Failed > 0 {
		logger.InfoContext(ctx, "dev seed skipped, jobs already present")
		return nil
	}

	failures := seedJobs(ctx, svcs.jobs, logger)
	failures += seedInvoice(ctx, svcs.invoices, logger)

	logger.InfoContext(ctx, "dev seed finished", "failures", failures)
	return nil
}

func seedJobs(ctx context.Context, jobs *service.JobService, logger *slog.Logger) int {
	owner := "dev-user"
	samples := []model.SubmitJobRequest{
		{
			OwnerID:    &owner,
			Filename:   "acme-march.pdf",
			SourceRef:  inlineRef("ACME Corp invoice INV-2001 total 1250.00"),
			AutoCommit: true,
		},
		{
			OwnerID:   &owner,
			Filename:  "globex-q1.pdf",
			SourceRef: inlineRef("Globex invoice INV-2002 total 310.50"),
		},
		{
			Filename:            "initech-services.pdf",
			SourceRef:           inlineRef("Initech services invoice INV-2003 total 990.00"),
			AutoCommit:          true,
			ConfidenceThreshold: 0.9,
		},
	}

	failures := 0
	for i := range samples {
		if _, err := jobs.Submit(ctx, &samples[i]); err != nil {
			failures++
			logger.WarnContext(ctx, "seed job failed", "filename", samples[i].Filename, "error", err)
		}
	}
	return failures
}

func seedInvoice(ctx context.Context, invoices core.InvoiceRepository, logger *slog.Logger) int {
	owner := "dev-user"
	_, err := invoices.Commit(ctx, core.CommitInvoiceParams{
		Fields: model.InvoiceFields{
			InvoiceNumber: "INV-1000",
			VendorName:    "Hooli Inc",
			InvoiceDate:   "2026-01-15",
			Subtotal:      400,
			TaxAmount:     32,
			TotalAmount:   432,
			LineItems: []model.InvoiceLineItem{
				{Description: "Consulting", Quantity: 4, UnitPrice: 100, Amount: 400},
			},
		},
		Filename:   "hooli-january.pdf",
		Confidence: 0.97,
		OwnerID:    &owner,
	})
	if err != nil {
		logger.WarnContext(ctx, "seed invoice failed", "error", err)
		return 1
	}
	return 0
}

func inlineRef(content string) string {
	return "data:application/pdf;base64," + base64.StdEncoding.EncodeToString([]byte(content))
}
