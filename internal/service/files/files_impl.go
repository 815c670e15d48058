// Package files is the application service behind the HTTP API: uploads,
// batch submission, session queries and usage.
package files

import (
	"context"
	"fmt"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/file-organizer/internal/models"
	"github.com/feichai0017/file-organizer/internal/pipeline"
	"github.com/feichai0017/file-organizer/internal/quota"
	"github.com/feichai0017/file-organizer/internal/store"
	"github.com/feichai0017/file-organizer/internal/utils/validator"
	"github.com/feichai0017/file-organizer/pkg/converters"
	"github.com/feichai0017/file-organizer/pkg/logger"
	"github.com/feichai0017/file-organizer/pkg/storage"
	"github.com/feichai0017/file-organizer/pkg/storage/objkey"
)

// UsageSummary is the caller's monthly usage and remaining quota.
type UsageSummary struct {
	Owner     models.OwnerContext  `json:"owner"`
	Usage     *models.UsageCounter `json:"usage,omitempty"`
	Limit     int                  `json:"limit"`
	Remaining int                  `json:"remaining"`
	Unlimited bool                 `json:"unlimited"`
}

type ServiceConfig struct {
	MaxConcurrentUploads int
	Clock                func() time.Time
}

type FileService struct {
	orchestrator *pipeline.Orchestrator
	store        store.Store
	storage      storage.Storage
	validator    *validator.UploadValidator
	converter    *converters.JSONConverter
	logger       logger.Logger
	config       *ServiceConfig
}

func NewService(
	orchestrator *pipeline.Orchestrator,
	st store.Store,
	objects storage.Storage,
	v *validator.UploadValidator,
	log logger.Logger,
	cfg *ServiceConfig,
) *FileService {
	if cfg == nil {
		cfg = &ServiceConfig{}
	}
	if cfg.MaxConcurrentUploads <= 0 {
		cfg.MaxConcurrentUploads = 4
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &FileService{
		orchestrator: orchestrator,
		store:        st,
		storage:      objects,
		validator:    v,
		converter:    converters.NewJSONConverter().WithClock(cfg.Clock),
		logger:       log.Named("files"),
		config:       cfg,
	}
}

// Upload validates every file, then stores them concurrently. Nothing is
// stored unless all files pass validation, and records are saved only once
// every object is stored.
func (s *FileService) Upload(ctx context.Context, id models.Identity, headers []*multipart.FileHeader) ([]*models.FileRecord, error) {
	if err := s.validator.CheckCount(len(headers)); err != nil {
		return nil, &pipeline.ValidationError{Field: "files", Message: err.Error()}
	}
	results, err := s.validator.ValidateFiles(headers)
	if err != nil {
		return nil, fmt.Errorf("failed to validate files: %w", err)
	}
	var problems []string
	for _, r := range results {
		for _, e := range r.Errors {
			problems = append(problems, r.FileInfo.Filename+": "+e.Message)
		}
	}
	if len(problems) > 0 {
		return nil, &pipeline.ValidationError{Field: "files", Message: strings.Join(problems, "; ")}
	}

	now := s.config.Clock()
	records := make([]*models.FileRecord, len(headers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.MaxConcurrentUploads)

	for i, header := range headers {
		i, header, info := i, header, results[i].FileInfo
		g.Go(func() error {
			rec, err := s.storeOne(gctx, id, header, info, now)
			if err != nil {
				return err
			}
			records[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.discard(ctx, records)
		return nil, err
	}
	for i, rec := range records {
		if err := s.store.SaveFile(ctx, rec); err != nil {
			s.discard(ctx, records[i:])
			return nil, fmt.Errorf("failed to save file record: %w", err)
		}
	}

	s.logger.Info("Files uploaded",
		logger.String("owner", id.Key()),
		logger.Int("count", len(records)),
	)
	return records, nil
}

func (s *FileService) storeOne(ctx context.Context, id models.Identity, header *multipart.FileHeader, info validator.FileInfo, now time.Time) (*models.FileRecord, error) {
	f, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", header.Filename, err)
	}
	defer f.Close()

	fileID := uuid.New().String()
	name := filepath.Base(header.Filename)
	key, err := s.storage.Store(ctx, f, objkey.Upload(fileID, name), header.Size, info.MimeType)
	if err != nil {
		s.logger.Error("Failed to store file",
			logger.String("filename", name),
			logger.Error(err),
		)
		return nil, fmt.Errorf("failed to store file %s: %w", name, err)
	}

	ownerID := id.UserID
	if id.IsGuest() {
		ownerID = models.GuestOwnerID
	}
	rec := &models.FileRecord{
		ID:        fileID,
		OwnerID:   ownerID,
		GuestID:   id.GuestID,
		Name:      name,
		OrigName:  name,
		Locator:   key,
		Type:      models.FileTypeFromMIME(info.MimeType),
		Size:      header.Size,
		MimeType:  info.MimeType,
		Checksum:  info.Hash,
		Status:    models.FileStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return rec, nil
}

// discard removes the stored objects of records that never got persisted.
func (s *FileService) discard(ctx context.Context, records []*models.FileRecord) {
	ctx = context.WithoutCancel(ctx)
	for _, rec := range records {
		if rec == nil {
			continue
		}
		if err := s.storage.Delete(ctx, rec.Locator); err != nil {
			s.logger.Warn("Failed to remove orphaned upload",
				logger.String("key", rec.Locator),
				logger.Error(err),
			)
		}
	}
}

func (s *FileService) Process(ctx context.Context, id models.Identity, fileIDs []string) (*models.ProcessingSession, error) {
	return s.orchestrator.Submit(ctx, id, fileIDs)
}

func (s *FileService) GetSession(ctx context.Context, id models.Identity, sessionID string) (*models.ProcessingSession, error) {
	return s.orchestrator.Status(ctx, id, sessionID)
}

func (s *FileService) GetSessionFiles(ctx context.Context, id models.Identity, sessionID string) ([]*models.FileRecord, error) {
	return s.orchestrator.SessionFiles(ctx, id, sessionID)
}

// GetReport converts the session and its files into the export format.
func (s *FileService) GetReport(ctx context.Context, id models.Identity, sessionID string) (*converters.SessionReport, []byte, error) {
	sess, err := s.orchestrator.Status(ctx, id, sessionID)
	if err != nil {
		return nil, nil, err
	}
	files, err := s.orchestrator.SessionFiles(ctx, id, sessionID)
	if err != nil {
		return nil, nil, err
	}
	report, err := s.converter.Convert(sess, files)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to convert session: %w", err)
	}
	data, err := s.converter.Marshal(report)
	if err != nil {
		return nil, nil, err
	}
	return report, data, nil
}

func (s *FileService) CancelSession(ctx context.Context, id models.Identity, sessionID string) (*models.ProcessingSession, error) {
	sess, err := s.orchestrator.Cancel(ctx, id, sessionID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Session cancel requested",
		logger.String("sessionId", sessionID),
		logger.String("status", string(sess.Status)),
	)
	return sess, nil
}

func (s *FileService) GenerateFilename(ctx context.Context, text, originalName string) (string, bool, error) {
	return s.orchestrator.GenerateFilename(ctx, text, originalName)
}

// GetUsage reports the caller's quota position for the current month.
func (s *FileService) GetUsage(ctx context.Context, id models.Identity) (*UsageSummary, error) {
	owner, err := s.orchestrator.ResolveOwner(ctx, id)
	if err != nil {
		return nil, err
	}
	decision := s.orchestrator.Gate().CanProcess(owner, 1)
	summary := &UsageSummary{
		Owner:     owner,
		Remaining: decision.Remaining,
		Unlimited: decision.IsUnlimited(),
	}

	if owner.Kind == models.OwnerGuest {
		summary.Limit = s.orchestrator.Gate().GuestLimit
		return summary, nil
	}

	now := s.config.Clock().UTC()
	usage, err := s.store.GetUsage(ctx, id.UserID, now.Year(), int(now.Month()))
	if err != nil {
		return nil, fmt.Errorf("failed to read usage: %w", err)
	}
	summary.Usage = usage
	summary.Limit = owner.MonthlyLimit
	if summary.Unlimited {
		summary.Limit = quota.Unlimited
	}
	return summary, nil
}
