package delivery

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/models"
)

// Document is the handoff envelope for one discovered PDF. The
// downstream collaborator receives the raw bytes plus enough metadata
// to attribute and deduplicate the document.
type Document struct {
	AccountID string
	Subject   string
	Sender    string
	Date      time.Time
	Filename  string
	Source    models.CandidateSource
	OriginURL string
	Data      []byte
}

// Processor receives discovered documents. Delivery is at-least-once,
// implementations dedup by content hash if they need exactly-once.
type Processor interface {
	Process(ctx context.Context, doc Document) error
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, doc Document) error

func (f ProcessorFunc) Process(ctx context.Context, doc Document) error {
	return f(ctx, doc)
}

// LogProcessor records each handoff without storing anything. It is
// the default collaborator until a real document pipeline is wired in.
type LogProcessor struct {
	logger *slog.Logger
}

func NewLogProcessor(logger *slog.Logger) *LogProcessor {
	return &LogProcessor{logger: logger}
}

func (p *LogProcessor) Process(ctx context.Context, doc Document) error {
	p.logger.Info("pdf candidate delivered",
		"account_id", doc.AccountID,
		"filename", doc.Filename,
		"source", doc.Source,
		"size", len(doc.Data),
		"subject", doc.Subject,
		"sender", doc.Sender,
	)
	return nil
}

// Fanout forwards every document to each processor in order. All
// processors are attempted even when an earlier one fails.
type Fanout []Processor

func (f Fanout) Process(ctx context.Context, doc Document) error {
	var errs []error
	for _, p := range f {
		if err := p.Process(ctx, doc); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
