package media

import (
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/apperr"
)

type FileType string

const (
	FileTypeVideo FileType = "video"
	FileTypeAudio FileType = "audio"
)

// MaxUploadBytes caps a single upload at 500 MiB.
const MaxUploadBytes int64 = 500 * 1024 * 1024

var (
	videoExts = []string{".mp4", ".avi", ".mov"}
	audioExts = []string{".mp3", ".wav", ".m4a"}
)

// DetectFileType classifies a filename by its extension.
func DetectFileType(filename string) (FileType, bool) {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, e := range videoExts {
		if ext == e {
			return FileTypeVideo, true
		}
	}
	for _, e := range audioExts {
		if ext == e {
			return FileTypeAudio, true
		}
	}
	return "", false
}

// ValidateUpload rejects unsupported extensions and oversized uploads before
// any job state exists.
func ValidateUpload(filename string, size int64) (FileType, error) {
	fileType, ok := DetectFileType(filename)
	if !ok {
		return "", apperr.Newf(apperr.KindValidation,
			"unsupported file type %q: allowed video %v, audio %v",
			filepath.Ext(filename), videoExts, audioExts)
	}
	if size > MaxUploadBytes {
		return "", apperr.Newf(apperr.KindValidation,
			"file too large: %s exceeds the %s limit",
			humanize.IBytes(uint64(size)), humanize.IBytes(uint64(MaxUploadBytes)))
	}
	return fileType, nil
}
