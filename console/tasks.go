package console

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	ragadmin "github.com/tedhappy/ragflow-admin"
	"github.com/tedhappy/ragflow-admin/store"
)

// batchConcurrency bounds the remote calls in flight for one batch.
const batchConcurrency = 4

// BatchOutcome is the result for one dataset of a batch.
type BatchOutcome struct {
	DatasetID   string   `json:"dataset_id"`
	DocumentIDs []string `json:"document_ids,omitempty"`
	Count       int      `json:"count"`
	Error       string   `json:"error,omitempty"`
}

// BatchReport summarizes a parse, stop or retry batch. A failing dataset
// does not fail the batch; it is listed under Errors.
type BatchReport struct {
	Success      []BatchOutcome `json:"success"`
	Errors       []BatchOutcome `json:"errors"`
	TotalSuccess int            `json:"total_success"`
	TotalErrors  int            `json:"total_errors"`

	// Retried is the number of documents re-queued by RetryFailed.
	Retried int `json:"retried"`
}

type batchFunc func(ctx context.Context, datasetID string, documentIDs []string) error

// runBatches calls fn once per dataset, concurrently. Entries without a
// dataset or documents are skipped.
func runBatches(ctx context.Context, batches []store.DatasetDocuments, fn batchFunc) *BatchReport {
	outcomes := make([]BatchOutcome, len(batches))
	skip := make([]bool, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for i, b := range batches {
		if strings.TrimSpace(b.DatasetID) == "" || len(b.DocumentIDs) == 0 {
			skip[i] = true
			continue
		}
		i, b := i, b
		g.Go(func() error {
			o := BatchOutcome{DatasetID: b.DatasetID, DocumentIDs: b.DocumentIDs, Count: len(b.DocumentIDs)}
			if err := fn(gctx, b.DatasetID, b.DocumentIDs); err != nil {
				o.Error = err.Error()
			}
			outcomes[i] = o
			// Per-dataset failures are reported, not propagated.
			return nil
		})
	}
	g.Wait()

	report := &BatchReport{Success: []BatchOutcome{}, Errors: []BatchOutcome{}}
	for i, o := range outcomes {
		if skip[i] {
			continue
		}
		if o.Error != "" {
			report.Errors = append(report.Errors, o)
			continue
		}
		report.Success = append(report.Success, o)
		report.Retried += o.Count
	}
	report.TotalSuccess = len(report.Success)
	report.TotalErrors = len(report.Errors)
	return report
}

func validateBatches(batches []store.DatasetDocuments) error {
	if len(batches) == 0 {
		return ragadmin.ValidationError("tasks is required")
	}
	return nil
}

func (s *service) ParseDocuments(ctx context.Context, batches []store.DatasetDocuments) (*BatchReport, error) {
	if err := validateBatches(batches); err != nil {
		return nil, err
	}
	if !s.remote.Configured() {
		return nil, ragadmin.ConfigurationError(ragadmin.ErrRemoteNotConfigured)
	}
	report := runBatches(ctx, batches, s.remote.ParseDocuments)
	report.Retried = 0
	return report, nil
}

func (s *service) StopParsing(ctx context.Context, batches []store.DatasetDocuments) (*BatchReport, error) {
	if err := validateBatches(batches); err != nil {
		return nil, err
	}
	if !s.remote.Configured() {
		return nil, ragadmin.ConfigurationError(ragadmin.ErrRemoteNotConfigured)
	}
	report := runBatches(ctx, batches, s.remote.StopParsing)
	report.Retried = 0
	return report, nil
}

// RetryFailed finds every FAIL document in the database and asks the API to
// parse them again, one call per dataset.
func (s *service) RetryFailed(ctx context.Context) (*BatchReport, error) {
	if !s.remote.Configured() {
		return nil, ragadmin.ConfigurationError(ragadmin.ErrRemoteNotConfigured)
	}
	groups, err := s.store.DocumentsByRun(ctx, store.RunFail)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return &BatchReport{Success: []BatchOutcome{}, Errors: []BatchOutcome{}}, nil
	}

	report := runBatches(ctx, groups, s.remote.ParseDocuments)
	slog.Info("retried failed documents",
		"datasets", len(groups),
		"retried", report.Retried,
		"errors", report.TotalErrors,
	)
	return report, nil
}
