package naming

import (
	"strings"
	"time"
)

// documentKinds are checked in order; the first keyword found in the text
// names the document.
var documentKinds = []string{"Invoice", "Receipt", "Report", "Contract", "Statement"}

// DateFallback names a document after its detected kind and the current
// date, e.g. Invoice_2024-03-14. Same text on the same day gives the same name.
type DateFallback struct {
	now func() time.Time
}

// NewDateFallback uses now for the date; nil means time.Now.
func NewDateFallback(now func() time.Time) *DateFallback {
	if now == nil {
		now = time.Now
	}
	return &DateFallback{now: now}
}

// FallbackName implements pipeline.FallbackNamer.
func (f *DateFallback) FallbackName(text string) string {
	return DetectKind(text) + "_" + f.now().Format("2006-01-02")
}

// DetectKind returns the first known document kind mentioned in text, or
// "Document".
func DetectKind(text string) string {
	lower := strings.ToLower(text)
	for _, kind := range documentKinds {
		if strings.Contains(lower, strings.ToLower(kind)) {
			return kind
		}
	}
	return "Document"
}
