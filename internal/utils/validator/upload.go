// Package validator checks uploaded files before they are stored.
package validator

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/file-organizer/pkg/logger"
)

// ValidatorConfig limits what an upload request may carry.
type ValidatorConfig struct {
	MaxFiles     int
	MaxFileSize  int64
	AllowedTypes map[string][]string // extension -> accepted MIME types
}

// DefaultConfig accepts up to 20 jpeg, png or pdf files of at most 50MiB.
func DefaultConfig() *ValidatorConfig {
	return &ValidatorConfig{
		MaxFiles:    20,
		MaxFileSize: 50 * 1024 * 1024,
		AllowedTypes: map[string][]string{
			".pdf":  {"application/pdf"},
			".jpg":  {"image/jpeg"},
			".jpeg": {"image/jpeg"},
			".png":  {"image/png"},
		},
	}
}

// ConfigFor narrows the defaults to the given extensions.
func ConfigFor(maxFiles int, maxFileSize int64, extensions []string) *ValidatorConfig {
	cfg := DefaultConfig()
	cfg.MaxFiles = maxFiles
	cfg.MaxFileSize = maxFileSize
	if len(extensions) > 0 {
		allowed := make(map[string][]string, len(extensions))
		for _, ext := range extensions {
			ext = strings.ToLower(ext)
			if mimes, ok := cfg.AllowedTypes[ext]; ok {
				allowed[ext] = mimes
			}
		}
		cfg.AllowedTypes = allowed
	}
	return cfg
}

type UploadValidator struct {
	logger logger.Logger
	config *ValidatorConfig
}

type ValidationResult struct {
	IsValid  bool              `json:"isValid"`
	Errors   []ValidationError `json:"errors,omitempty"`
	FileInfo FileInfo          `json:"fileInfo"`
}

type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type FileInfo struct {
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	MimeType  string `json:"mimeType"`
	Extension string `json:"extension"`
	Hash      string `json:"hash"`
}

func NewUploadValidator(log logger.Logger, config *ValidatorConfig) *UploadValidator {
	if config == nil {
		config = DefaultConfig()
	}
	return &UploadValidator{logger: log.Named("validator"), config: config}
}

// CheckCount rejects empty or oversized upload requests.
func (v *UploadValidator) CheckCount(n int) error {
	if n == 0 {
		return fmt.Errorf("no files uploaded")
	}
	if v.config.MaxFiles > 0 && n > v.config.MaxFiles {
		return fmt.Errorf("too many files: %d (max %d)", n, v.config.MaxFiles)
	}
	return nil
}

// ValidateFile checks size, extension and sniffed content type.
func (v *UploadValidator) ValidateFile(file *multipart.FileHeader) (*ValidationResult, error) {
	result := &ValidationResult{
		IsValid: true,
		FileInfo: FileInfo{
			Filename:  filepath.Base(file.Filename),
			Size:      file.Size,
			Extension: strings.ToLower(filepath.Ext(file.Filename)),
		},
	}

	f, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	mtype, err := mimetype.DetectReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to detect mime type: %w", err)
	}
	result.FileInfo.MimeType = mtype.String()

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to reset file pointer: %w", err)
	}
	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return nil, fmt.Errorf("failed to calculate hash: %w", err)
	}
	result.FileInfo.Hash = hex.EncodeToString(hash.Sum(nil))

	for _, e := range v.check(result.FileInfo, mtype) {
		result.IsValid = false
		result.Errors = append(result.Errors, e)
	}
	return result, nil
}

func (v *UploadValidator) check(info FileInfo, mtype *mimetype.MIME) []ValidationError {
	var errs []ValidationError
	if info.Size == 0 {
		errs = append(errs, ValidationError{Code: "EMPTY_FILE", Message: "File is empty", Field: "size"})
	}
	if info.Size > v.config.MaxFileSize {
		errs = append(errs, ValidationError{
			Code:    "FILE_TOO_LARGE",
			Message: fmt.Sprintf("File size exceeds maximum limit of %d bytes", v.config.MaxFileSize),
			Field:   "size",
		})
	}

	allowed, ok := v.config.AllowedTypes[info.Extension]
	if !ok {
		return append(errs, ValidationError{
			Code:    "INVALID_FILE_TYPE",
			Message: fmt.Sprintf("File type %s is not allowed", info.Extension),
			Field:   "extension",
		})
	}
	if !containsMIME(allowed, mtype) {
		errs = append(errs, ValidationError{
			Code:    "INVALID_MIME_TYPE",
			Message: fmt.Sprintf("Invalid MIME type %s for extension %s", info.MimeType, info.Extension),
			Field:   "mimeType",
		})
	}
	return errs
}

func containsMIME(allowed []string, mtype *mimetype.MIME) bool {
	for _, m := range allowed {
		if mtype.Is(m) {
			return true
		}
	}
	return false
}

// ValidateFiles validates every file concurrently, preserving order.
func (v *UploadValidator) ValidateFiles(files []*multipart.FileHeader) ([]*ValidationResult, error) {
	if err := v.CheckCount(len(files)); err != nil {
		return nil, err
	}
	results := make([]*ValidationResult, len(files))
	var g errgroup.Group
	g.SetLimit(4)
	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			result, err := v.ValidateFile(file)
			if err != nil {
				return fmt.Errorf("%s: %w", file.Filename, err)
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		v.logger.Error("Upload validation failed", logger.Error(err))
		return nil, err
	}
	markDuplicates(results)
	return results, nil
}

// markDuplicates flags every file whose content hash matches an earlier
// file in the same batch.
func markDuplicates(results []*ValidationResult) {
	seen := make(map[string]string, len(results))
	for _, r := range results {
		first, ok := seen[r.FileInfo.Hash]
		if !ok {
			seen[r.FileInfo.Hash] = r.FileInfo.Filename
			continue
		}
		r.IsValid = false
		r.Errors = append(r.Errors, ValidationError{
			Code:    "DUPLICATE_FILE",
			Message: fmt.Sprintf("File has the same content as %s", first),
			Field:   "hash",
		})
	}
}
