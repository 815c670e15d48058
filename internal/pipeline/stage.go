package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/feichai0017/file-organizer/internal/models"
	"github.com/feichai0017/file-organizer/internal/store"
	"github.com/feichai0017/file-organizer/pkg/logger"
	"github.com/feichai0017/file-organizer/pkg/metrics"
)

// ProgressFunc receives a snapshot before each file is started and once when
// the stage ends. Returning ErrCancelled marks the result cancelled; any other
// error is fatal. A done context is fatal too: only ErrCancelled cancels.
type ProgressFunc func(models.ProgressUpdate) error

// StageResult is what one stage did to the session's files.
type StageResult struct {
	Stage     models.Stage
	Files     []*models.FileRecord
	Attempted []string
	Succeeded []string
	Failed    []string
	Renamed   []string
	Fallbacks int
	APICalls  int
	Cancelled bool
}

type stageSpan struct {
	base, weight int
}

var stageSpans = map[models.Stage]stageSpan{
	models.StageExtract: {0, 33},
	models.StageAnalyze: {33, 33},
	models.StageRename:  {66, 34},
}

// StageProgress maps a position within a stage to overall session progress.
func StageProgress(stage models.Stage, index, total int) int {
	span := stageSpans[stage]
	if total <= 0 {
		return span.base + span.weight
	}
	return span.base + index*span.weight/total
}

// Eligible reports whether f takes part in stage.
func Eligible(stage models.Stage, f *models.FileRecord) bool {
	if f.Failed() {
		return false
	}
	switch stage {
	case models.StageExtract:
		return true
	case models.StageAnalyze:
		return strings.TrimSpace(f.ExtractedText) != ""
	case models.StageRename:
		return strings.TrimSpace(f.SuggestedName) != ""
	}
	return false
}

// ExecutorOption configures a StageExecutor.
type ExecutorOption func(*StageExecutor)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *StageExecutor) { e.now = now }
}

// WithFallback enables deterministic naming when the suggester fails.
func WithFallback(f FallbackNamer) ExecutorOption {
	return func(e *StageExecutor) { e.fallback = f }
}

// StageExecutor runs one stage over a list of files. Files are visited in
// order; a failing file is recorded and the rest continue.
type StageExecutor struct {
	files     store.FileStore
	extractor TextExtractor
	suggester FilenameSuggester
	fallback  FallbackNamer
	renamer   Renamer
	logger    logger.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewStageExecutor wires the providers for the three stages.
func NewStageExecutor(
	files store.FileStore,
	extractor TextExtractor,
	suggester FilenameSuggester,
	renamer Renamer,
	log logger.Logger,
	opts ...ExecutorOption,
) *StageExecutor {
	e := &StageExecutor{
		files:     files,
		extractor: extractor,
		suggester: suggester,
		renamer:   renamer,
		logger:    log.Named("stage"),
		metrics:   metrics.NewMetrics(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunStage runs stage over the eligible subset of files, mutating the records
// in place and persisting each one after its unit of work.
func (e *StageExecutor) RunStage(ctx context.Context, stage models.Stage, files []*models.FileRecord, onProgress ProgressFunc) (*StageResult, error) {
	if _, ok := stageSpans[stage]; !ok {
		return nil, fmt.Errorf("unknown stage %q", stage)
	}
	result := &StageResult{Stage: stage, Files: files}

	eligible := make([]*models.FileRecord, 0, len(files))
	for _, f := range files {
		if Eligible(stage, f) {
			eligible = append(eligible, f)
		}
	}

	start := e.now()
	defer func() { e.metrics.ObserveStage(string(stage), e.now().Sub(start)) }()

	for i, f := range eligible {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("stage %s interrupted: %w", stage, err)
		}
		if onProgress != nil {
			err := onProgress(models.ProgressUpdate{
				Stage:        stage,
				Message:      stageMessage(stage, f.Name),
				Progress:     StageProgress(stage, i, len(eligible)),
				CurrentFile:  f.Name,
				CurrentIndex: i,
			})
			if errors.Is(err, ErrCancelled) {
				result.Cancelled = true
				return result, nil
			}
			if err != nil {
				return result, err
			}
		}

		f.Status = models.FileStatusProcessing
		f.ProcessingProgress = 0
		f.UpdatedAt = e.now()
		result.Attempted = append(result.Attempted, f.ID)

		outcome, err := e.runFile(ctx, stage, f, result)
		if err != nil {
			e.logger.Warn("File failed stage",
				logger.String("fileId", f.ID),
				logger.String("stage", string(stage)),
				logger.Error(err),
			)
			f.Status = models.FileStatusFailed
			f.FailedStage = stage
			f.StageError = err.Error()
			result.Failed = append(result.Failed, f.ID)
			outcome = "failed"
		} else {
			f.Status = models.FileStatusCompleted
			f.ProcessingProgress = 100
			result.Succeeded = append(result.Succeeded, f.ID)
		}
		f.UpdatedAt = e.now()
		e.metrics.RecordStageFile(string(stage), outcome)

		if err := e.files.SaveFile(ctx, f); err != nil {
			return result, fmt.Errorf("failed to save file %s: %w", f.ID, err)
		}
	}

	if onProgress != nil && len(eligible) > 0 {
		err := onProgress(models.ProgressUpdate{
			Stage:        stage,
			Message:      stageDoneMessage(stage, len(result.Succeeded), len(eligible)),
			Progress:     StageProgress(stage, len(eligible), len(eligible)),
			CurrentIndex: len(eligible) - 1,
		})
		if errors.Is(err, ErrCancelled) {
			result.Cancelled = true
			return result, nil
		}
		if err != nil {
			return result, err
		}
	}
	return result, nil
}

func (e *StageExecutor) runFile(ctx context.Context, stage models.Stage, f *models.FileRecord, result *StageResult) (string, error) {
	switch stage {
	case models.StageExtract:
		text, err := e.extractor.Extract(ctx, f.Locator, f.Type)
		if err != nil {
			return "", &ExtractionError{FileID: f.ID, Err: err}
		}
		f.ExtractedText = strings.TrimSpace(text)
		if f.ExtractedText == "" {
			return "empty", nil
		}
		return "ok", nil

	case models.StageAnalyze:
		name, fallback, err := e.suggest(ctx, f.ID, f.ExtractedText, f.Name)
		result.APICalls++
		if err != nil {
			return "", err
		}
		f.SuggestedName = name
		f.SuggestionFallback = fallback
		if fallback {
			result.Fallbacks++
			return "fallback", nil
		}
		return "ok", nil

	case models.StageRename:
		if f.SuggestedName == f.BaseName() {
			return "unchanged", nil
		}
		loc, err := e.renamer.Rename(ctx, f.Locator, f.SuggestedName)
		if err != nil {
			return "", &RenameError{FileID: f.ID, Err: err}
		}
		f.Locator = loc
		f.Name = f.SuggestedName + filepath.Ext(f.Name)
		f.IsRenamed = true
		result.Renamed = append(result.Renamed, f.ID)
		return "ok", nil
	}
	return "", fmt.Errorf("unknown stage %q", stage)
}

// SuggestName asks the provider for a name and falls back to the
// deterministic rule when it fails and a fallback is configured.
func (e *StageExecutor) SuggestName(ctx context.Context, text, originalName string) (string, bool, error) {
	return e.suggest(ctx, "", text, originalName)
}

func (e *StageExecutor) suggest(ctx context.Context, fileID, text, originalName string) (string, bool, error) {
	name, err := e.suggester.Suggest(ctx, text, originalName)
	name = strings.TrimSpace(name)
	if err == nil && name == "" {
		err = errors.New("empty suggestion")
	}
	if err == nil {
		return name, false, nil
	}
	if e.fallback == nil {
		return "", false, &SuggestionError{FileID: fileID, Err: err}
	}
	e.logger.Warn("Naming provider failed, using fallback name",
		logger.String("fileId", fileID),
		logger.Error(err),
	)
	return e.fallback.FallbackName(text), true, nil
}

func stageMessage(stage models.Stage, name string) string {
	switch stage {
	case models.StageExtract:
		return "Extracting text from " + name
	case models.StageAnalyze:
		return "Generating a name for " + name
	default:
		return "Renaming " + name
	}
}

func stageDoneMessage(stage models.Stage, ok, total int) string {
	switch stage {
	case models.StageExtract:
		return fmt.Sprintf("Extracted text from %d of %d files", ok, total)
	case models.StageAnalyze:
		return fmt.Sprintf("Named %d of %d files", ok, total)
	default:
		return fmt.Sprintf("Renamed %d of %d files", ok, total)
	}
}
