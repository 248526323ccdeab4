package embedding

import (
	"fmt"
	"path/filepath"
	"strings"
)

var imageTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
}

// MimeType returns the image media type for path, judged by its extension.
func MimeType(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if mime, ok := imageTypes[ext]; ok {
		return mime, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedImage, ext)
}

// IsImage reports whether path has a supported image extension.
func IsImage(path string) bool {
	_, ok := imageTypes[strings.ToLower(filepath.Ext(path))]
	return ok
}
