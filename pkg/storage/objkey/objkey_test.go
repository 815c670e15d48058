package objkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUpload(t *testing.T) {
	assert.Equal(t, "uploads/f1/scan.png", Upload("f1", "scan.png"))
	assert.Equal(t, "uploads/f1/passwd", Upload("f1", "../../etc/passwd"))
	assert.Equal(t, "uploads/f1/x.pdf", Upload("f1", `C:\docs\x.pdf`))
	assert.Equal(t, "uploads/f1/file", Upload("f1", ""))
}

func TestRenamed(t *testing.T) {
	assert.Equal(t, "uploads/f1/Invoice_2024.png", Renamed("uploads/f1/scan.png", "Invoice_2024"))
	assert.Equal(t, "Report.pdf", Renamed("old.pdf", "Report"))
	assert.Equal(t, "a/b/NoExt", Renamed("a/b/noext", "NoExt"))
}
