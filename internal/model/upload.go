package model

import (
	"errors"
	"path/filepath"
	"strings"
)

// DefaultMaxUploadBytes is the default upload size limit.
const DefaultMaxUploadBytes = 10 << 20

var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrFileTooLarge    = errors.New("file too large")
	ErrEmptyFile       = errors.New("empty file")
)

var allowedMIMETypes = map[string]bool{
	"image/jpeg":          true,
	"image/png":           true,
	"image/gif":           true,
	"image/webp":          true,
	"image/heic":          true,
	"image/heif":          true,
	"image/bmp":           true,
	"application/pdf":     true,
	"application/x-pdf":   true,
	"application/acrobat": true,
}

// AcceptFile reports whether a file may be uploaded based on its MIME type
// or, failing that, a .pdf extension.
func AcceptFile(name, mimeType string) bool {
	if allowedMIMETypes[baseMIME(mimeType)] {
		return true
	}
	return strings.EqualFold(filepath.Ext(name), ".pdf")
}

// CheckUpload validates an upload before any bytes leave the client or hit disk.
func CheckUpload(name, mimeType string, size, limit int64) error {
	if !AcceptFile(name, mimeType) {
		return ErrUnsupportedType
	}
	if size <= 0 {
		return ErrEmptyFile
	}
	if limit > 0 && size > limit {
		return ErrFileTooLarge
	}
	return nil
}

// IsPDF reports whether the file is a PDF document.
func IsPDF(name, mimeType string) bool {
	switch baseMIME(mimeType) {
	case "application/pdf", "application/x-pdf", "application/acrobat":
		return true
	}
	return strings.EqualFold(filepath.Ext(name), ".pdf")
}

func baseMIME(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}
