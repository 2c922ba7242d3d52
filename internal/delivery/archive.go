package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/pdf"
)

// FileArchive keeps a local copy of every delivered document, laid out
// as <root>/<account>/<year>/<month>/<filename>.
type FileArchive struct {
	logger   *slog.Logger
	root     string
	sanitize bool
}

var _ Processor = (*FileArchive)(nil)

func NewFileArchive(root string, sanitize bool, logger *slog.Logger) *FileArchive {
	return &FileArchive{logger: logger, root: root, sanitize: sanitize}
}

func (a *FileArchive) Process(ctx context.Context, doc Document) error {
	name := doc.Filename
	if a.sanitize {
		name = pdf.CleanFilename(name)
	}
	if name == "" {
		name = fmt.Sprintf("document_%d.pdf", time.Now().UnixNano())
	}

	dir := filepath.Join(a.root, archiveSegment(doc.AccountID), doc.Date.UTC().Format("2006"), doc.Date.UTC().Format("01"))
	if doc.Date.IsZero() {
		now := time.Now().UTC()
		dir = filepath.Join(a.root, archiveSegment(doc.AccountID), now.Format("2006"), now.Format("01"))
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	path := uniquePath(filepath.Join(dir, name))
	if err := a.writeFile(path, doc.Data); err != nil {
		return err
	}

	a.logger.Debug("archived document",
		"account_id", doc.AccountID,
		"path", path,
		"size", len(doc.Data),
	)
	return nil
}

// archiveSegment makes an account id safe to use as a directory name.
func archiveSegment(accountID string) string {
	seg := pdf.CleanFilename(accountID)
	if seg == "" {
		return "unknown"
	}
	return seg
}

// uniquePath appends a nanosecond suffix when the target already exists.
func uniquePath(path string) string {
	if _, err := os.Stat(path); err == nil {
		ext := filepath.Ext(path)
		base := strings.TrimSuffix(path, ext)
		path = fmt.Sprintf("%s_%d%s", base, time.Now().UnixNano(), ext)
	}
	return path
}

func (a *FileArchive) writeFile(path string, content []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(content); err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to write archive file: %w", err)
	}
	return nil
}
