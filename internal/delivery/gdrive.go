package delivery

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/pdf"
)

const driveFolderMimeType = "application/vnd.google-apps.folder"

// GDriveArchive mirrors delivered documents into a Google Drive folder,
// one subfolder per account and month.
type GDriveArchive struct {
	logger   *slog.Logger
	service  *drive.Service
	parentID string
}

var _ Processor = (*GDriveArchive)(nil)

func NewGDriveArchive(ctx context.Context, credentialsFile, parentFolderID string, logger *slog.Logger) (*GDriveArchive, error) {
	service, err := drive.NewService(ctx, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to create drive client: %w", err)
	}

	return &GDriveArchive{
		logger:   logger,
		service:  service,
		parentID: parentFolderID,
	}, nil
}

func (a *GDriveArchive) Process(ctx context.Context, doc Document) error {
	name := pdf.CleanFilename(doc.Filename)
	if name == "" {
		name = fmt.Sprintf("document_%d.pdf", time.Now().UnixNano())
	}

	when := doc.Date
	if when.IsZero() {
		when = time.Now()
	}
	folderID, err := a.ensureFolders(ctx, []string{
		archiveSegment(doc.AccountID),
		when.UTC().Format("2006-01"),
	})
	if err != nil {
		return fmt.Errorf("failed to ensure drive folders: %w", err)
	}

	file := &drive.File{
		Name:     name,
		Parents:  []string{folderID},
		MimeType: "application/pdf",
	}
	uploaded, err := a.service.Files.Create(file).Media(bytes.NewReader(doc.Data)).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to upload document: %w", err)
	}

	a.logger.Debug("uploaded document to drive",
		"account_id", doc.AccountID,
		"filename", name,
		"id", uploaded.Id,
		"size", len(doc.Data),
	)
	return nil
}

// ensureFolders walks the folder chain under the configured parent,
// creating any segment that does not exist yet.
func (a *GDriveArchive) ensureFolders(ctx context.Context, segments []string) (string, error) {
	currentParentID := a.parentID
	for _, segment := range segments {
		if segment == "" {
			continue
		}

		query := fmt.Sprintf("name = '%s' and '%s' in parents and mimeType = '%s' and trashed = false",
			segment, currentParentID, driveFolderMimeType)
		list, err := a.service.Files.List().Q(query).Fields("files(id)").Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("failed to search for folder: %w", err)
		}
		if len(list.Files) > 0 {
			currentParentID = list.Files[0].Id
			continue
		}

		folder := &drive.File{
			Name:     segment,
			MimeType: driveFolderMimeType,
			Parents:  []string{currentParentID},
		}
		created, err := a.service.Files.Create(folder).Fields("id").Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("failed to create folder: %w", err)
		}
		currentParentID = created.Id
	}
	return currentParentID, nil
}
