package files

import (
	"context"
	"mime/multipart"

	"github.com/feichai0017/file-organizer/internal/models"
	"github.com/feichai0017/file-organizer/pkg/converters"
)

// FileOrganizer is what the HTTP layer calls.
type FileOrganizer interface {
	Upload(ctx context.Context, id models.Identity, files []*multipart.FileHeader) ([]*models.FileRecord, error)
	Process(ctx context.Context, id models.Identity, fileIDs []string) (*models.ProcessingSession, error)
	GetSession(ctx context.Context, id models.Identity, sessionID string) (*models.ProcessingSession, error)
	GetSessionFiles(ctx context.Context, id models.Identity, sessionID string) ([]*models.FileRecord, error)
	GetReport(ctx context.Context, id models.Identity, sessionID string) (*converters.SessionReport, []byte, error)
	CancelSession(ctx context.Context, id models.Identity, sessionID string) (*models.ProcessingSession, error)
	GenerateFilename(ctx context.Context, text, originalName string) (string, bool, error)
	GetUsage(ctx context.Context, id models.Identity) (*UsageSummary, error)
}
