package models

import (
	"path/filepath"
	"strings"
	"time"
)

// FileType is the declared kind of an uploaded file.
type FileType string

const (
	FileTypeImage    FileType = "image"
	FileTypePDF      FileType = "pdf"
	FileTypeDocument FileType = "document"
)

// FileTypeFromMIME maps a detected MIME type to the declared file type.
func FileTypeFromMIME(mimeType string) FileType {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return FileTypeImage
	case mimeType == "application/pdf":
		return FileTypePDF
	default:
		return FileTypeDocument
	}
}

// FileStatus is the per-file status within the stage currently running.
type FileStatus string

const (
	FileStatusPending    FileStatus = "pending"
	FileStatusProcessing FileStatus = "processing"
	FileStatusCompleted  FileStatus = "completed"
	FileStatusFailed     FileStatus = "failed"
)

// GuestOwnerID is the owner id recorded on files uploaded without an account.
const GuestOwnerID = "guest"

// FileRecord is one file being organized.
type FileRecord struct {
	ID       string   `json:"id"`
	OwnerID  string   `json:"ownerId"`
	GuestID  string   `json:"guestId,omitempty"`
	Name     string   `json:"name"`
	OrigName string   `json:"originalName"`
	Locator  string   `json:"locator"`
	Type     FileType `json:"type"`
	Size     int64    `json:"size"`
	MimeType string   `json:"mimeType"`
	Checksum string   `json:"checksum,omitempty"`

	ExtractedText      string     `json:"extractedText,omitempty"`
	SuggestedName      string     `json:"suggestedName,omitempty"`
	SuggestionFallback bool       `json:"suggestionFallback,omitempty"`
	Status             FileStatus `json:"status"`
	ProcessingProgress int        `json:"processingProgress"`
	IsRenamed          bool       `json:"isRenamed"`
	FailedStage        Stage      `json:"failedStage,omitempty"`
	StageError         string     `json:"stageError,omitempty"`
	SessionID          string     `json:"sessionId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BaseName returns the current name without its extension.
func (f *FileRecord) BaseName() string {
	return strings.TrimSuffix(f.Name, filepath.Ext(f.Name))
}

// Failed reports whether any stage failed this file in its last session.
func (f *FileRecord) Failed() bool {
	return f.FailedStage != ""
}

// OwnedBy reports whether the identity may use this file.
func (f *FileRecord) OwnedBy(id Identity) bool {
	if id.IsGuest() {
		return f.OwnerID == GuestOwnerID && f.GuestID == id.GuestID
	}
	return f.OwnerID == id.UserID
}

// Clone returns a copy safe to hand to another goroutine.
func (f *FileRecord) Clone() *FileRecord {
	c := *f
	return &c
}
