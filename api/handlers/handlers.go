package handlers

import (
	"github.com/feichai0017/file-organizer/internal/service/files"
	"github.com/feichai0017/file-organizer/pkg/logger"
)

type Handlers struct {
	Files  *FileHandler
	System *SystemHandler
}

func NewHandlers(
	fileService files.FileOrganizer,
	logger logger.Logger,
) *Handlers {
	return &Handlers{
		Files:  NewFileHandler(fileService, logger),
		System: NewSystemHandler(),
	}
}
