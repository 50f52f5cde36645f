package pipeline

import (
	"path/filepath"
	"strings"

	"github.com/denticheck-screening-server/internal/domain"
)

// AllowedExtensions lists the accepted upload types, compared case-insensitively.
var AllowedExtensions = []string{".jpg", ".jpeg", ".png", ".webp"}

// ValidateImage is the gate run before any remote call.
func ValidateImage(image *domain.UploadedImage) error {
	if image == nil || len(image.Data) == 0 {
		return domain.NewValidationError("file", "file is empty", nil)
	}
	if !IsAllowedImage(image.Filename) {
		return domain.NewValidationError("file", "unsupported file extension; allowed: .jpg, .jpeg, .png, .webp", image.Filename)
	}
	return nil
}

// IsAllowedImage reports whether filename carries an accepted extension.
func IsAllowedImage(filename string) bool {
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(filename)))
	for _, allowed := range AllowedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// StorageKey is the logical location of a session's upload.
func StorageKey(sessionID string) string {
	return "ai-check/" + sessionID + "/upload"
}
