package converters

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/file-organizer/internal/models"
)

func TestConvertSession(t *testing.T) {
	created := time.Date(2024, 3, 14, 10, 0, 0, 0, time.UTC)
	done := created.Add(1500 * time.Millisecond)
	sess := &models.ProcessingSession{
		ID:             "s-1",
		Status:         models.StatusCompleted,
		Progress:       100,
		TotalFiles:     2,
		ProcessedFiles: 1,
		RenamedFiles:   1,
		FailedFiles:    1,
		ExtractedFiles: 1,
		APICalls:       1,
		CreatedAt:      created,
		CompletedAt:    &done,
	}
	files := []*models.FileRecord{
		{ID: "a", OrigName: "IMG_1.jpg", Name: "Invoice_ACME.jpg", SuggestedName: "Invoice_ACME", IsRenamed: true, ExtractedText: "Invoice ACME"},
		{ID: "b", OrigName: "scan.pdf", Name: "scan.pdf", FailedStage: models.StageExtract, StageError: "corrupt pdf"},
	}

	c := NewJSONConverter().WithClock(func() time.Time { return done })
	report, err := c.Convert(sess, files)
	require.NoError(t, err)

	assert.Equal(t, int64(1500), report.DurationMs)
	assert.Equal(t, 2, report.Summary.Total)
	require.Len(t, report.Files, 2)
	assert.True(t, report.Files[0].Renamed)
	assert.Equal(t, 12, report.Files[0].TextLength)
	assert.Equal(t, "extract", report.Files[1].FailedStage)

	data, err := c.Marshal(report)
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "s-1", decoded["sessionId"])
	assert.Equal(t, "completed", decoded["status"])
}

func TestConvertRequiresSession(t *testing.T) {
	_, err := NewJSONConverter().Convert(nil, nil)
	assert.Error(t, err)
}
