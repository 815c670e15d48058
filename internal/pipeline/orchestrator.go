package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/feichai0017/file-organizer/internal/models"
	"github.com/feichai0017/file-organizer/internal/quota"
	"github.com/feichai0017/file-organizer/internal/store"
	"github.com/feichai0017/file-organizer/pkg/logger"
	"github.com/feichai0017/file-organizer/pkg/metrics"
)

// DefaultMaxFiles caps a single batch. Uploads are capped separately.
const DefaultMaxFiles = 100

// Options configures an Orchestrator.
type Options struct {
	GuestLimit       int
	FreeMonthlyLimit int
	MaxFiles         int
	// Dispatcher runs sessions elsewhere; nil runs them in local goroutines.
	Dispatcher Dispatcher
	Clock      func() time.Time
}

// Orchestrator admits batches, runs their stages and finalizes accounting.
type Orchestrator struct {
	store      store.Store
	gate       *quota.Gate
	executor   *StageExecutor
	dispatcher Dispatcher
	logger     logger.Logger
	metrics    *metrics.Metrics
	now        func() time.Time

	freeMonthlyLimit int
	maxFiles         int

	// admitMu serializes the busy check, quota reservation and file reset
	// of concurrent submissions.
	admitMu sync.Mutex
	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
	baseCtx context.Context
	stop    context.CancelFunc
}

// NewOrchestrator builds an orchestrator over st and executor.
func NewOrchestrator(st store.Store, executor *StageExecutor, log logger.Logger, opts Options) *Orchestrator {
	if opts.FreeMonthlyLimit <= 0 {
		opts.FreeMonthlyLimit = quota.DefaultFreeMonthlyLimit
	}
	if opts.MaxFiles <= 0 {
		opts.MaxFiles = DefaultMaxFiles
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	baseCtx, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		store:            st,
		gate:             quota.NewGate(opts.GuestLimit),
		executor:         executor,
		dispatcher:       opts.Dispatcher,
		logger:           log.Named("orchestrator"),
		metrics:          metrics.NewMetrics(),
		now:              opts.Clock,
		freeMonthlyLimit: opts.FreeMonthlyLimit,
		maxFiles:         opts.MaxFiles,
		running:          make(map[string]context.CancelFunc),
		baseCtx:          baseCtx,
		stop:             stop,
	}
}

// Gate exposes the quota ceilings.
func (o *Orchestrator) Gate() *quota.Gate {
	return o.gate
}

// ResolveOwner loads what the quota gate needs about id. A registered user
// seen for the first time gets a free profile.
func (o *Orchestrator) ResolveOwner(ctx context.Context, id models.Identity) (models.OwnerContext, error) {
	if id.IsGuest() {
		count, err := o.store.GuestCount(ctx, id.GuestID)
		if err != nil {
			return models.OwnerContext{}, fmt.Errorf("failed to read guest count: %w", err)
		}
		return models.GuestOwner(id.GuestID, count), nil
	}

	profile, err := o.Profile(ctx, id.UserID)
	if err != nil {
		return models.OwnerContext{}, err
	}
	now := o.now().UTC()
	usage, err := o.store.GetUsage(ctx, id.UserID, now.Year(), int(now.Month()))
	if err != nil {
		return models.OwnerContext{}, fmt.Errorf("failed to read usage: %w", err)
	}
	return models.RegisteredOwner(id.UserID, profile.Role, profile.MonthlyLimit, usage.FilesProcessed), nil
}

// Profile returns the user's profile, creating a free one on first sight.
func (o *Orchestrator) Profile(ctx context.Context, userID string) (*models.UserProfile, error) {
	profile, err := o.store.GetProfile(ctx, userID)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	now := o.now()
	profile = &models.UserProfile{
		ID:           userID,
		Role:         models.RoleFree,
		MonthlyLimit: o.freeMonthlyLimit,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := o.store.SaveProfile(ctx, profile); err != nil {
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}
	return profile, nil
}

// Submit validates and admits a batch, creates its session and starts it
// asynchronously. The returned session is the pending snapshot.
func (o *Orchestrator) Submit(ctx context.Context, id models.Identity, fileIDs []string) (*models.ProcessingSession, error) {
	if err := o.validate(id, fileIDs); err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx, o.logger)

	sess, err := o.admit(ctx, id, fileIDs)
	if err != nil {
		return nil, err
	}
	log.Info("Session created",
		logger.String("sessionId", sess.ID),
		logger.Int("totalFiles", sess.TotalFiles),
	)

	if o.dispatcher == nil {
		o.runLocal(sess.ID)
		return sess, nil
	}
	if err := o.dispatcher.Dispatch(ctx, sess.ID); err != nil {
		log.Error("Failed to dispatch session",
			logger.String("sessionId", sess.ID),
			logger.Error(err),
		)
		_ = o.fail(ctx, sess, fmt.Errorf("failed to dispatch: %w", err))
		return nil, fmt.Errorf("failed to dispatch session: %w", err)
	}
	return sess, nil
}

// admit checks ownership, busy files and quota, then reserves the quota,
// resets the files and creates the pending session.
func (o *Orchestrator) admit(ctx context.Context, id models.Identity, fileIDs []string) (*models.ProcessingSession, error) {
	o.admitMu.Lock()
	defer o.admitMu.Unlock()
	log := logger.FromContext(ctx, o.logger)

	files, err := o.store.GetFiles(ctx, fileIDs)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrFileNotFound, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load files: %w", err)
	}
	for _, f := range files {
		if !f.OwnedBy(id) {
			return nil, fmt.Errorf("%w: file %s", ErrNotOwner, f.ID)
		}
		busy, err := o.fileBusy(ctx, f)
		if err != nil {
			return nil, err
		}
		if busy {
			return nil, fmt.Errorf("%w: file %s in session %s", ErrFileBusy, f.ID, f.SessionID)
		}
	}

	owner, err := o.ResolveOwner(ctx, id)
	if err != nil {
		return nil, err
	}
	decision := o.gate.CanProcess(owner, len(fileIDs))
	if !decision.Allowed {
		o.metrics.RecordQuotaRejection(string(owner.Kind))
		log.Info("Batch rejected by quota",
			logger.Int("requested", len(fileIDs)),
			logger.Int("remaining", decision.Remaining),
		)
		return nil, &QuotaExceededError{Remaining: decision.Remaining, Requested: len(fileIDs)}
	}
	if owner.Kind == models.OwnerGuest {
		count, ok, err := o.store.ReserveGuestFiles(ctx, id.GuestID, len(fileIDs), o.gate.GuestLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to reserve guest quota: %w", err)
		}
		if !ok {
			o.metrics.RecordQuotaRejection(string(owner.Kind))
			remaining := o.gate.GuestLimit - count
			if remaining < 0 {
				remaining = 0
			}
			return nil, &QuotaExceededError{Remaining: remaining, Requested: len(fileIDs)}
		}
	}

	now := o.now()
	sess := models.NewSession(uuid.New().String(), id, fileIDs, now)
	if owner.Kind == models.OwnerRegistered {
		limit := owner.MonthlyLimit
		if decision.IsUnlimited() {
			limit = quota.Unlimited
		}
		total, ok, err := o.store.ReserveUsage(ctx, id.UserID, now, len(fileIDs), limit)
		if err != nil {
			return nil, fmt.Errorf("failed to reserve monthly quota: %w", err)
		}
		if !ok {
			o.metrics.RecordQuotaRejection(string(owner.Kind))
			remaining := limit - total
			if remaining < 0 {
				remaining = 0
			}
			return nil, &QuotaExceededError{Remaining: remaining, Requested: len(fileIDs)}
		}
		sess.ReservedFiles = len(fileIDs)
	}

	for _, f := range files {
		resetForSession(f, sess.ID, now)
		if err := o.store.SaveFile(ctx, f); err != nil {
			o.releaseReservation(ctx, sess)
			return nil, fmt.Errorf("failed to reset file %s: %w", f.ID, err)
		}
	}
	if err := o.store.CreateSession(ctx, sess); err != nil {
		o.releaseReservation(ctx, sess)
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return sess, nil
}

// fileBusy reports whether f belongs to a session that has not finished.
// A session that expired from the store no longer holds its files.
func (o *Orchestrator) fileBusy(ctx context.Context, f *models.FileRecord) (bool, error) {
	if f.SessionID == "" {
		return false, nil
	}
	sess, err := o.store.GetSession(ctx, f.SessionID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load session %s: %w", f.SessionID, err)
	}
	return !sess.IsTerminal(), nil
}

func (o *Orchestrator) validate(id models.Identity, fileIDs []string) error {
	if id.UserID == "" && id.GuestID == "" {
		return &ValidationError{Field: "identity", Message: "a user or guest id is required"}
	}
	if len(fileIDs) == 0 {
		return &ValidationError{Field: "fileIds", Message: "at least one file is required"}
	}
	if len(fileIDs) > o.maxFiles {
		return &ValidationError{Field: "fileIds", Message: fmt.Sprintf("at most %d files per batch", o.maxFiles)}
	}
	seen := make(map[string]struct{}, len(fileIDs))
	for _, fid := range fileIDs {
		if fid == "" {
			return &ValidationError{Field: "fileIds", Message: "empty file id"}
		}
		if _, dup := seen[fid]; dup {
			return &ValidationError{Field: "fileIds", Message: "duplicate file id " + fid}
		}
		seen[fid] = struct{}{}
	}
	return nil
}

func resetForSession(f *models.FileRecord, sessionID string, now time.Time) {
	f.SessionID = sessionID
	f.Status = models.FileStatusPending
	f.ProcessingProgress = 0
	f.ExtractedText = ""
	f.SuggestedName = ""
	f.SuggestionFallback = false
	f.FailedStage = ""
	f.StageError = ""
	f.UpdatedAt = now
}

func (o *Orchestrator) runLocal(sessionID string) {
	ctx, cancel := context.WithCancel(o.baseCtx)
	o.mu.Lock()
	o.running[sessionID] = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			o.mu.Lock()
			delete(o.running, sessionID)
			o.mu.Unlock()
			cancel()
		}()
		if err := o.Run(ctx, sessionID); err != nil {
			o.logger.Error("Session run failed",
				logger.String("sessionId", sessionID),
				logger.Error(err),
			)
		}
	}()
}

// Run executes a session's stages. It is called once per session, either by
// a local goroutine or by a queue worker. Errors returned are the ones that
// made the session fail.
func (o *Orchestrator) Run(ctx context.Context, sessionID string) error {
	log := o.logger.With(logger.String("sessionId", sessionID))
	sess, err := o.store.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	if sess.IsTerminal() {
		log.Info("Session already finished", logger.String("status", string(sess.Status)))
		return nil
	}

	o.metrics.SessionsRunning.Inc()
	defer o.metrics.SessionsRunning.Dec()

	if sess.CancelRequested {
		return o.finishCancelled(ctx, sess, nil, nil)
	}
	if err := sess.Start(o.now()); err != nil {
		return err
	}
	if err := o.store.UpdateSession(ctx, sess); err != nil {
		return o.fail(ctx, sess, fmt.Errorf("failed to start session: %w", err))
	}

	files, err := o.store.GetFiles(ctx, sess.FileIDs)
	if err != nil {
		return o.fail(ctx, sess, fmt.Errorf("failed to load files: %w", err))
	}

	t := &tally{}
	for _, stage := range models.Stages {
		if err := ctx.Err(); err != nil {
			return o.fail(ctx, sess, fmt.Errorf("session interrupted: %w", err))
		}
		requested, err := o.store.CancelRequested(ctx, sess.ID)
		if err != nil {
			return o.fail(ctx, sess, fmt.Errorf("failed to read cancel flag: %w", err))
		}
		if requested {
			return o.finishCancelled(ctx, sess, files, t)
		}

		onProgress := func(u models.ProgressUpdate) error {
			requested, err := o.store.CancelRequested(ctx, sess.ID)
			if err != nil {
				return fmt.Errorf("failed to read cancel flag: %w", err)
			}
			if requested {
				return ErrCancelled
			}
			now := o.now()
			if err := sess.Advance(u, now); err != nil {
				return err
			}
			sess.ApplyCounts(t.counts(files), now)
			if err := o.store.UpdateSession(ctx, sess); err != nil {
				return fmt.Errorf("failed to update session: %w", err)
			}
			return nil
		}

		res, err := o.executor.RunStage(ctx, stage, files, onProgress)
		if res != nil {
			t.observe(res)
		}
		if err != nil {
			return o.fail(ctx, sess, err)
		}
		if res.Cancelled {
			return o.finishCancelled(ctx, sess, files, t)
		}
		t.done = append(t.done, stage)
		log.Info("Stage finished",
			logger.String("stage", string(stage)),
			logger.Int("succeeded", len(res.Succeeded)),
			logger.Int("failed", len(res.Failed)),
		)
	}

	if err := ctx.Err(); err != nil {
		return o.fail(ctx, sess, fmt.Errorf("session interrupted: %w", err))
	}
	now := o.now()
	sess.ApplyCounts(t.counts(files), now)
	if err := sess.Complete(now); err != nil {
		return err
	}
	if err := o.store.UpdateSession(context.WithoutCancel(ctx), sess); err != nil {
		log.Error("Failed to persist completed session", logger.Error(err))
		return fmt.Errorf("failed to complete session: %w", err)
	}
	o.metrics.RecordSession(string(sess.Status))
	o.recordUsage(ctx, sess)
	log.Info("Session completed",
		logger.Int("processed", sess.ProcessedFiles),
		logger.Int("renamed", sess.RenamedFiles),
		logger.Int("failed", sess.FailedFiles),
	)
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, sess *models.ProcessingSession, cause error) error {
	ctx = context.WithoutCancel(ctx)
	if err := sess.Fail(cause.Error(), o.now()); err != nil {
		return cause
	}
	if err := o.store.UpdateSession(ctx, sess); err != nil {
		o.logger.Error("Failed to persist failed session",
			logger.String("sessionId", sess.ID),
			logger.Error(err),
		)
	}
	o.metrics.RecordSession(string(sess.Status))
	o.releaseReservation(ctx, sess)
	return cause
}

func (o *Orchestrator) finishCancelled(ctx context.Context, sess *models.ProcessingSession, files []*models.FileRecord, t *tally) error {
	ctx = context.WithoutCancel(ctx)
	now := o.now()
	if t != nil {
		sess.ApplyCounts(t.counts(files), now)
	}
	if err := sess.Cancel(now); err != nil {
		return err
	}
	if err := o.store.UpdateSession(ctx, sess); err != nil {
		return fmt.Errorf("failed to persist cancelled session: %w", err)
	}
	o.metrics.RecordSession(string(sess.Status))
	o.recordUsage(ctx, sess)
	o.logger.Info("Session cancelled",
		logger.String("sessionId", sess.ID),
		logger.Int("processed", sess.ProcessedFiles),
	)
	return nil
}

// recordUsage settles a registered owner's reservation against the session's
// work. It is booked on the admission day so the reservation and its
// settlement land in the same month. Guests were charged at admission.
func (o *Orchestrator) recordUsage(ctx context.Context, sess *models.ProcessingSession) {
	if sess.OwnerID == models.GuestOwnerID {
		return
	}
	delta := models.UsageDelta{
		FilesProcessed: sess.ProcessedFiles - sess.ReservedFiles,
		TextExtracted:  sess.ExtractedFiles,
		FilesRenamed:   sess.RenamedFiles,
		APICallsMade:   sess.APICalls,
	}
	o.applyUsage(ctx, sess, delta)
}

// releaseReservation returns the whole reservation of a session that failed
// or was never started.
func (o *Orchestrator) releaseReservation(ctx context.Context, sess *models.ProcessingSession) {
	if sess.OwnerID == models.GuestOwnerID || sess.ReservedFiles == 0 {
		return
	}
	o.applyUsage(ctx, sess, models.UsageDelta{FilesProcessed: -sess.ReservedFiles})
}

func (o *Orchestrator) applyUsage(ctx context.Context, sess *models.ProcessingSession, delta models.UsageDelta) {
	if delta.IsZero() {
		return
	}
	if err := o.store.IncrementUsage(context.WithoutCancel(ctx), sess.OwnerID, sess.CreatedAt, delta); err != nil {
		o.logger.Error("Failed to record usage",
			logger.String("sessionId", sess.ID),
			logger.String("ownerId", sess.OwnerID),
			logger.Error(err),
		)
	}
}

// Status returns the session snapshot. It never mutates state.
func (o *Orchestrator) Status(ctx context.Context, id models.Identity, sessionID string) (*models.ProcessingSession, error) {
	sess, err := o.store.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if !sess.OwnedBy(id) {
		return nil, ErrNotOwner
	}
	return sess, nil
}

// SessionFiles returns the session's file records in submission order.
func (o *Orchestrator) SessionFiles(ctx context.Context, id models.Identity, sessionID string) ([]*models.FileRecord, error) {
	sess, err := o.Status(ctx, id, sessionID)
	if err != nil {
		return nil, err
	}
	files, err := o.store.GetFiles(ctx, sess.FileIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load files: %w", err)
	}
	return files, nil
}

// Cancel asks a session to stop. A running session stops at the next file
// boundary; one that no worker has started is finalized immediately.
func (o *Orchestrator) Cancel(ctx context.Context, id models.Identity, sessionID string) (*models.ProcessingSession, error) {
	sess, err := o.Status(ctx, id, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.IsTerminal() {
		return nil, ErrSessionTerminal
	}
	if err := o.store.RequestCancel(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("failed to request cancel: %w", err)
	}

	if o.dispatcher != nil {
		removed, err := o.dispatcher.Cancel(ctx, sessionID)
		if err != nil {
			o.logger.Warn("Failed to remove queued session",
				logger.String("sessionId", sessionID),
				logger.Error(err),
			)
		}
		if removed {
			if err := o.finishCancelled(ctx, sess, nil, nil); err != nil {
				return nil, err
			}
		}
	}
	return o.Status(ctx, id, sessionID)
}

// GenerateFilename names a single text synchronously, outside any session.
func (o *Orchestrator) GenerateFilename(ctx context.Context, text, originalName string) (string, bool, error) {
	if text == "" {
		return "", false, &ValidationError{Field: "text", Message: "text is required"}
	}
	return o.executor.SuggestName(ctx, text, originalName)
}

// Shutdown interrupts local sessions and waits for them to record their
// outcome, or for ctx to expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.stop()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every local session has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

type tally struct {
	done     []models.Stage
	renamed  map[string]struct{}
	apiCalls int
}

func (t *tally) observe(res *StageResult) {
	if t.renamed == nil {
		t.renamed = make(map[string]struct{})
	}
	for _, id := range res.Renamed {
		t.renamed[id] = struct{}{}
	}
	t.apiCalls += res.APICalls
}

func (t *tally) stageDone(s models.Stage) bool {
	for _, d := range t.done {
		if d == s {
			return true
		}
	}
	return false
}

// counts derives the session tallies from the file records. A file counts as
// processed once it has not failed and no remaining stage will touch it.
func (t *tally) counts(files []*models.FileRecord) models.Counts {
	c := models.Counts{APICalls: t.apiCalls, Renamed: len(t.renamed)}
	extracted := t.stageDone(models.StageExtract)
	analyzed := t.stageDone(models.StageAnalyze)
	renamed := t.stageDone(models.StageRename)
	for _, f := range files {
		if f.ExtractedText != "" {
			c.Extracted++
		}
		switch {
		case f.Failed():
			c.Failed++
			c.FailedFileIDs = append(c.FailedFileIDs, f.ID)
		case renamed:
			c.Processed++
		case extracted && f.ExtractedText == "":
			c.Processed++
		case analyzed && f.SuggestedName == "":
			c.Processed++
		}
	}
	return c
}
