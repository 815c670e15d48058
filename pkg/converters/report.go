// Package converters renders processing sessions for export.
package converters

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/feichai0017/file-organizer/internal/models"
)

// SessionReport is the downloadable summary of one session.
type SessionReport struct {
	SessionID   string                  `json:"sessionId"`
	Status      models.ProcessingStatus `json:"status"`
	Progress    int                     `json:"progress"`
	Summary     ReportSummary           `json:"summary"`
	Files       []ReportFile            `json:"files"`
	Error       string                  `json:"error,omitempty"`
	CreatedAt   time.Time               `json:"createdAt"`
	CompletedAt *time.Time              `json:"completedAt,omitempty"`
	DurationMs  int64                   `json:"durationMs,omitempty"`
	GeneratedAt time.Time               `json:"generatedAt"`
}

type ReportSummary struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Extracted int `json:"extracted"`
	Renamed   int `json:"renamed"`
	Failed    int `json:"failed"`
	APICalls  int `json:"apiCalls"`
}

// ReportFile is one file's outcome.
type ReportFile struct {
	ID            string `json:"id"`
	OriginalName  string `json:"originalName"`
	FinalName     string `json:"finalName"`
	SuggestedName string `json:"suggestedName,omitempty"`
	Fallback      bool   `json:"fallback,omitempty"`
	Renamed       bool   `json:"renamed"`
	TextLength    int    `json:"textLength"`
	FailedStage   string `json:"failedStage,omitempty"`
	Error         string `json:"error,omitempty"`
}

// JSONConverter builds reports and encodes them.
type JSONConverter struct {
	now func() time.Time
}

func NewJSONConverter() *JSONConverter {
	return &JSONConverter{now: time.Now}
}

// WithClock overrides time.Now for GeneratedAt.
func (c *JSONConverter) WithClock(now func() time.Time) *JSONConverter {
	c.now = now
	return c
}

// Convert builds the report. files must be the session's records in session order.
func (c *JSONConverter) Convert(sess *models.ProcessingSession, files []*models.FileRecord) (*SessionReport, error) {
	if sess == nil {
		return nil, fmt.Errorf("no session to convert")
	}
	report := &SessionReport{
		SessionID: sess.ID,
		Status:    sess.Status,
		Progress:  sess.Progress,
		Summary: ReportSummary{
			Total:     sess.TotalFiles,
			Processed: sess.ProcessedFiles,
			Extracted: sess.ExtractedFiles,
			Renamed:   sess.RenamedFiles,
			Failed:    sess.FailedFiles,
			APICalls:  sess.APICalls,
		},
		Files:       make([]ReportFile, 0, len(files)),
		Error:       sess.ErrorMessage,
		CreatedAt:   sess.CreatedAt,
		CompletedAt: sess.CompletedAt,
		GeneratedAt: c.now(),
	}
	if sess.CompletedAt != nil {
		report.DurationMs = sess.CompletedAt.Sub(sess.CreatedAt).Milliseconds()
	}

	for _, f := range files {
		report.Files = append(report.Files, ReportFile{
			ID:            f.ID,
			OriginalName:  f.OrigName,
			FinalName:     f.Name,
			SuggestedName: f.SuggestedName,
			Fallback:      f.SuggestionFallback,
			Renamed:       f.IsRenamed,
			TextLength:    len([]rune(f.ExtractedText)),
			FailedStage:   string(f.FailedStage),
			Error:         f.StageError,
		})
	}
	return report, nil
}

// Marshal encodes the report as indented JSON.
func (c *JSONConverter) Marshal(report *SessionReport) ([]byte, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	return data, nil
}
