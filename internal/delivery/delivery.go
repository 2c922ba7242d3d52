package delivery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/types"
)

// NewProcessor assembles the delivery chain from configuration. Every
// document goes to the log processor, and additionally to the archive
// sink when archiving is enabled.
func NewProcessor(ctx context.Context, cfg *types.Config, logger *slog.Logger) (Processor, error) {
	base := NewLogProcessor(logger)

	archive := cfg.Delivery.Archive
	if !archive.Enabled {
		logger.Debug("document archiving is disabled")
		return base, nil
	}

	switch archive.Type {
	case "file", "":
		return Fanout{base, NewFileArchive(archive.StoragePath, archive.SanitizeFilenames, logger)}, nil
	case "gdrive":
		sink, err := NewGDriveArchive(ctx, archive.GDrive.CredentialsFile, archive.GDrive.FolderID, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize drive archive: %w", err)
		}
		return Fanout{base, sink}, nil
	default:
		return nil, fmt.Errorf("unsupported archive type: %s", archive.Type)
	}
}
