package models

import (
	"errors"
	"fmt"
	"time"
)

// ProcessingStatus is the top-level state of a session.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
	StatusCancelled  ProcessingStatus = "cancelled"
)

// Stage is one pipeline phase a file goes through.
type Stage string

const (
	StageExtract Stage = "extract"
	StageAnalyze Stage = "analyze"
	StageRename  Stage = "rename"
)

// Stages lists the pipeline phases in execution order.
var Stages = []Stage{StageExtract, StageAnalyze, StageRename}

// SessionStage is the sub-state of a processing session.
type SessionStage string

const (
	SessionStageNone       SessionStage = ""
	SessionStageExtracting SessionStage = "extracting"
	SessionStageAnalyzing  SessionStage = "analyzing"
	SessionStageRenaming   SessionStage = "renaming"
	SessionStageComplete   SessionStage = "complete"
)

// SessionStage maps a pipeline phase to the session sub-state it drives.
func (s Stage) SessionStage() SessionStage {
	switch s {
	case StageExtract:
		return SessionStageExtracting
	case StageAnalyze:
		return SessionStageAnalyzing
	case StageRename:
		return SessionStageRenaming
	default:
		return SessionStageNone
	}
}

func (s SessionStage) order() int {
	switch s {
	case SessionStageExtracting:
		return 1
	case SessionStageAnalyzing:
		return 2
	case SessionStageRenaming:
		return 3
	case SessionStageComplete:
		return 4
	default:
		return 0
	}
}

// ErrInvalidTransition is returned when a session is moved out of a terminal
// state or skips a state.
var ErrInvalidTransition = errors.New("invalid session transition")

// maxRunningProgress keeps 100 reserved for completed sessions.
const maxRunningProgress = 99

// ProcessingSession is the aggregate record of one batch run.
type ProcessingSession struct {
	ID               string           `json:"id"`
	OwnerID          string           `json:"ownerId"`
	GuestID          string           `json:"guestId,omitempty"`
	FileIDs          []string         `json:"fileIds"`
	Status           ProcessingStatus `json:"status"`
	Progress         int              `json:"progress"`
	CurrentStage     SessionStage     `json:"currentStage,omitempty"`
	CurrentFileIndex int              `json:"currentFileIndex"`
	CurrentFile      string           `json:"currentFile,omitempty"`
	Message          string           `json:"message,omitempty"`

	TotalFiles     int `json:"totalFiles"`
	ProcessedFiles int `json:"processedFiles"`
	RenamedFiles   int `json:"renamedFiles"`
	FailedFiles    int `json:"failedFiles"`
	ExtractedFiles int `json:"extractedFiles"`
	APICalls       int `json:"apiCalls"`
	// ReservedFiles were charged to the owner's month at admission and are
	// settled against ProcessedFiles when the session ends.
	ReservedFiles int `json:"reservedFiles,omitempty"`

	ErrorMessage    string   `json:"errorMessage,omitempty"`
	FailedFileIDs   []string `json:"failedFileIds,omitempty"`
	CancelRequested bool     `json:"cancelRequested,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// NewSession builds a pending session over the ordered file ids.
func NewSession(id string, owner Identity, fileIDs []string, now time.Time) *ProcessingSession {
	ownerID := owner.UserID
	if owner.IsGuest() {
		ownerID = GuestOwnerID
	}
	return &ProcessingSession{
		ID:         id,
		OwnerID:    ownerID,
		GuestID:    owner.GuestID,
		FileIDs:    append([]string(nil), fileIDs...),
		Status:     StatusPending,
		TotalFiles: len(fileIDs),
		Message:    "Waiting to start",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// IsTerminal reports whether the session has finished one way or another.
func (s *ProcessingSession) IsTerminal() bool {
	switch s.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// OwnedBy reports whether the identity may read or cancel the session.
func (s *ProcessingSession) OwnedBy(id Identity) bool {
	if id.IsGuest() {
		return s.OwnerID == GuestOwnerID && s.GuestID == id.GuestID
	}
	return s.OwnerID == id.UserID
}

// Start moves a pending session to processing.
func (s *ProcessingSession) Start(now time.Time) error {
	if s.Status != StatusPending {
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, s.Status)
	}
	s.Status = StatusProcessing
	s.CurrentStage = SessionStageExtracting
	s.Message = "Starting extraction"
	s.UpdatedAt = now
	return nil
}

// ProgressUpdate is a snapshot reported while a stage runs.
type ProgressUpdate struct {
	Stage        Stage  `json:"stage"`
	Message      string `json:"message"`
	Progress     int    `json:"progress"`
	CurrentFile  string `json:"currentFile"`
	CurrentIndex int    `json:"currentIndex"`
}

// Advance applies a progress update. Progress and stage never move backwards
// and stay below 100 until Complete.
func (s *ProcessingSession) Advance(u ProgressUpdate, now time.Time) error {
	if s.Status != StatusProcessing {
		return fmt.Errorf("%w: advance while %s", ErrInvalidTransition, s.Status)
	}
	if next := u.Stage.SessionStage(); next.order() > s.CurrentStage.order() {
		s.CurrentStage = next
	}
	p := u.Progress
	if p > maxRunningProgress {
		p = maxRunningProgress
	}
	if p > s.Progress {
		s.Progress = p
	}
	s.CurrentFileIndex = u.CurrentIndex
	s.CurrentFile = u.CurrentFile
	if u.Message != "" {
		s.Message = u.Message
	}
	s.UpdatedAt = now
	return nil
}

// Counts are the cumulative per-session tallies.
type Counts struct {
	Processed     int
	Renamed       int
	Failed        int
	Extracted     int
	APICalls      int
	FailedFileIDs []string
}

// ApplyCounts replaces the tallies. processed+failed is capped at total.
func (s *ProcessingSession) ApplyCounts(c Counts, now time.Time) {
	if c.Failed > s.TotalFiles {
		c.Failed = s.TotalFiles
	}
	if c.Processed+c.Failed > s.TotalFiles {
		c.Processed = s.TotalFiles - c.Failed
	}
	s.ProcessedFiles = c.Processed
	s.RenamedFiles = c.Renamed
	s.FailedFiles = c.Failed
	s.ExtractedFiles = c.Extracted
	s.APICalls = c.APICalls
	s.FailedFileIDs = append([]string(nil), c.FailedFileIDs...)
	s.UpdatedAt = now
}

// Complete finishes a processing session successfully.
func (s *ProcessingSession) Complete(now time.Time) error {
	if s.Status != StatusProcessing {
		return fmt.Errorf("%w: complete from %s", ErrInvalidTransition, s.Status)
	}
	s.Status = StatusCompleted
	s.Progress = 100
	s.CurrentStage = SessionStageComplete
	s.CurrentFile = ""
	s.Message = fmt.Sprintf("Processed %d of %d files", s.ProcessedFiles, s.TotalFiles)
	s.finish(now)
	return nil
}

// Fail terminates a non-terminal session with msg.
func (s *ProcessingSession) Fail(msg string, now time.Time) error {
	if s.IsTerminal() {
		return fmt.Errorf("%w: fail from %s", ErrInvalidTransition, s.Status)
	}
	if msg == "" {
		msg = "processing failed"
	}
	s.Status = StatusFailed
	s.ErrorMessage = msg
	s.Message = "Processing failed"
	s.finish(now)
	return nil
}

// Cancel terminates a non-terminal session on request.
func (s *ProcessingSession) Cancel(now time.Time) error {
	if s.IsTerminal() {
		return fmt.Errorf("%w: cancel from %s", ErrInvalidTransition, s.Status)
	}
	s.Status = StatusCancelled
	s.CancelRequested = true
	s.ErrorMessage = "cancelled by request"
	s.Message = "Processing cancelled"
	s.finish(now)
	return nil
}

func (s *ProcessingSession) finish(now time.Time) {
	s.UpdatedAt = now
	s.CompletedAt = &now
}

// Clone returns a deep copy.
func (s *ProcessingSession) Clone() *ProcessingSession {
	c := *s
	c.FileIDs = append([]string(nil), s.FileIDs...)
	c.FailedFileIDs = append([]string(nil), s.FailedFileIDs...)
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
