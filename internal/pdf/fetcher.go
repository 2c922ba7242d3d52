package pdf

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jhillyerd/enmime/mediatype"

	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/email"
	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/models"
	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/resilience"
	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/types"
)

const (
	// DefaultMaxConcurrent bounds simultaneous link downloads.
	DefaultMaxConcurrent = 3

	// DefaultMaxSize rejects downloads larger than 20 MB.
	DefaultMaxSize = 20 << 20

	// DefaultDownloadTimeout is the per-request HTTP timeout.
	DefaultDownloadTimeout = 30 * time.Second
)

// Fetcher turns one fetched message into zero or more PDF candidates.
// Attachments are extracted directly, body links are downloaded under a
// concurrency gate when the message carries no PDF attachment.
type Fetcher struct {
	client        *http.Client
	retry         *resilience.Executor
	logger        *slog.Logger
	maxLinks      int
	maxConcurrent int
	maxSize       int64
}

// NewFetcher builds a fetcher from the downloads config section.
func NewFetcher(cfg *types.Config, retry *resilience.Executor, logger *slog.Logger) *Fetcher {
	f := &Fetcher{
		retry:         retry,
		logger:        logger,
		maxLinks:      DefaultMaxLinks,
		maxConcurrent: DefaultMaxConcurrent,
		maxSize:       DefaultMaxSize,
	}

	timeout := DefaultDownloadTimeout
	if cfg != nil {
		if cfg.Downloads.MaxLinks > 0 {
			f.maxLinks = cfg.Downloads.MaxLinks
		}
		if cfg.Downloads.MaxConcurrent > 0 {
			f.maxConcurrent = cfg.Downloads.MaxConcurrent
		}
		if cfg.Downloads.MaxSize > 0 {
			f.maxSize = cfg.Downloads.MaxSize
		}
		if cfg.Downloads.Timeout > 0 {
			timeout = time.Duration(cfg.Downloads.Timeout) * time.Second
		}
		if cfg.Downloads.MaxAttempts > 0 && retry != nil {
			e := *retry
			e.MaxAttempts = cfg.Downloads.MaxAttempts
			f.retry = &e
		}
	}
	f.client = &http.Client{Timeout: timeout}
	return f
}

// SetHTTPClient replaces the HTTP client, used by tests.
func (f *Fetcher) SetHTTPClient(client *http.Client) {
	f.client = client
}

// Candidates returns the PDF candidates for one message. Link failures
// and rejected downloads are logged and skipped, never surfaced as
// errors.
func (f *Fetcher) Candidates(ctx context.Context, accountID string, msg *email.Message) []models.PdfCandidate {
	candidates := f.fromAttachments(msg)
	if len(candidates) > 0 {
		return candidates
	}
	return f.fromBodyLinks(ctx, accountID, msg)
}

func (f *Fetcher) fromAttachments(msg *email.Message) []models.PdfCandidate {
	var candidates []models.PdfCandidate
	for _, att := range msg.Attachments {
		if !IsPDFAttachment(att.Filename, att.ContentType) {
			continue
		}
		name := CleanFilename(att.Filename)
		if name == "" {
			name = "attachment.pdf"
		}
		candidates = append(candidates, models.PdfCandidate{
			Source: models.SourceAttachment,
			Name:   name,
			Data:   att.Data,
			Size:   int64(len(att.Data)),
		})
	}
	return candidates
}

func (f *Fetcher) fromBodyLinks(ctx context.Context, accountID string, msg *email.Message) []models.PdfCandidate {
	links := ExtractLinks(msg.TextBody, msg.HTMLBody, f.maxLinks)
	if len(links) == 0 {
		return nil
	}

	f.logger.Debug("downloading pdf links from message body",
		"account_id", accountID,
		"uid", msg.UID,
		"links", len(links),
	)

	type downloadResult struct {
		index     int
		candidate *models.PdfCandidate
	}

	results := make(chan downloadResult, len(links))
	gate := make(chan struct{}, f.maxConcurrent)

	for i, link := range links {
		go func(index int, link string) {
			gate <- struct{}{}
			defer func() { <-gate }()

			candidate, err := f.download(ctx, link)
			if err != nil {
				f.logger.Debug("pdf link skipped",
					"account_id", accountID,
					"uid", msg.UID,
					"url", link,
					"error", err,
				)
				results <- downloadResult{index: index}
				return
			}
			results <- downloadResult{index: index, candidate: candidate}
		}(i, link)
	}

	// Keep the candidate list in link order regardless of completion order.
	ordered := make([]*models.PdfCandidate, len(links))
	for range links {
		r := <-results
		ordered[r.index] = r.candidate
	}

	var candidates []models.PdfCandidate
	for _, c := range ordered {
		if c != nil {
			candidates = append(candidates, *c)
		}
	}
	return candidates
}

// download fetches one link, returning nil error only for a PDF within
// the size cap. Transient HTTP failures are retried with backoff.
func (f *Fetcher) download(ctx context.Context, link string) (*models.PdfCandidate, error) {
	var candidate *models.PdfCandidate

	op := fmt.Sprintf("download %s", link)
	err := f.retry.Do(ctx, op, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
		if err != nil {
			return resilience.Permanent(fmt.Errorf("invalid url: %w", err))
		}

		resp, err := f.client.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("unexpected status %d", resp.StatusCode)
			if resilience.ClassifyHTTPStatus(resp.StatusCode) == resilience.ClassPermanent {
				return resilience.Permanent(err)
			}
			return err
		}

		if resp.ContentLength > f.maxSize {
			return resilience.DataError(fmt.Errorf("declared size %d exceeds cap %d", resp.ContentLength, f.maxSize))
		}
		if !isPDFContentType(resp.Header.Get("Content-Type")) {
			return resilience.DataError(fmt.Errorf("content type %q is not pdf", resp.Header.Get("Content-Type")))
		}

		// The cap also applies when the server omits Content-Length.
		data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
		if err != nil {
			return fmt.Errorf("read failed: %w", err)
		}
		if int64(len(data)) > f.maxSize {
			return resilience.DataError(fmt.Errorf("download exceeds cap %d", f.maxSize))
		}

		candidate = &models.PdfCandidate{
			Source:    models.SourceBodyLink,
			Name:      FilenameFromURL(link),
			Data:      data,
			Size:      int64(len(data)),
			OriginURL: link,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return candidate, nil
}

// IsPDFAttachment reports whether an attachment is a PDF by filename
// suffix or declared content type.
func IsPDFAttachment(filename, contentType string) bool {
	if strings.HasSuffix(strings.ToLower(filename), ".pdf") {
		return true
	}
	return isPDFContentType(contentType)
}

func isPDFContentType(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, _, err := mediatype.Parse(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "pdf")
	}
	mediaType = strings.ToLower(mediaType)
	return mediaType == "application/pdf" || mediaType == "application/x-pdf"
}
