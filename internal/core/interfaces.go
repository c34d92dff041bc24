// Package core defines the contracts between the service layer and its
// collaborators (ports in hexagonal architecture). Services depend on these
// interfaces, not concrete implementations.
package core

import (
	"context"

	"github.com/target/docpipe/internal/domain/model"
)

// JobRepository defines the interface for job record operations.
type JobRepository interface {
	Create(ctx context.Context, req *model.SubmitJobRequest) (*model.Job, error)
	NotifyJobAdded(ctx context.Context, jobID string) error
	GetByID(ctx context.Context, id string) (*model.Job, error)
	ClaimNext(ctx context.Context) (*model.Job, error)
	WaitForNotification(ctx context.Context) error
	SetStage(ctx context.Context, id, stage string, progress int) (bool, error)
	SetProgress(ctx context.Context, id string, progress int) (bool, error)
	Complete(ctx context.Context, id string, result *model.JobResult) (bool, error)
	Fail(ctx context.Context, id, errMsg string) (bool, error)
	MarkViewed(ctx context.Context, id string) error
	AttachCommit(ctx context.Context, id string, ref *model.CommitRef) (bool, error)
	AttachDuplicate(ctx context.Context, id string, note *model.DuplicateNote) (bool, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*model.Job, error)
	Stats(ctx context.Context, ownerID *string) (*model.JobStats, error)
}

// CommitInvoiceParams carries everything needed to turn an extraction into a
// durable invoice record.
type CommitInvoiceParams struct {
	Fields     model.InvoiceFields
	Filename   string
	Confidence float64
	OwnerID    *string
}

// InvoiceRepository defines the interface for committed invoice records.
type InvoiceRepository interface {
	Commit(ctx context.Context, p CommitInvoiceParams) (*model.InvoiceRecord, error)
	GetByInvoiceNumber(ctx context.Context, invoiceNumber string) (*model.InvoiceRecord, error)
	GetByID(ctx context.Context, id string) (*model.InvoiceRecord, error)
}

// ExtractInput is the resolved document handed to the extraction engine.
type ExtractInput struct {
	Data     []byte
	Filename string
}

// ProgressFunc reports extraction progress as a fraction in [0,1].
type ProgressFunc func(fraction float64)

// Extractor defines the interface to the extraction engine.
type Extractor interface {
	Extract(ctx context.Context, input ExtractInput, progress ProgressFunc) (*model.ExtractionResult, error)
}

// EventPublisher publishes job event envelopes to the event bus.
type EventPublisher interface {
	Publish(ctx context.Context, env model.Envelope) error
}

// EventSource delivers decoded envelopes from the event bus until ctx ends.
type EventSource interface {
	Subscribe(ctx context.Context) (<-chan model.Envelope, error)
}

// Broadcaster fans an event out to every connection in a room.
type Broadcaster interface {
	Broadcast(room string, env model.Envelope)
}
