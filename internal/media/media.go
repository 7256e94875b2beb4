// Package media validates and names image files referenced by posts.
package media

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"net/http"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// MaxSize is the largest image accepted for upload or publish.
const MaxSize = 10 << 20

var (
	allowedExtensions = map[string]bool{
		".png": true, ".jpg": true, ".jpeg": true,
		".gif": true, ".webp": true, ".svg": true,
	}

	mimeToExt = map[string]string{
		"image/png":     ".png",
		"image/jpeg":    ".jpg",
		"image/gif":     ".gif",
		"image/webp":    ".webp",
		"image/svg+xml": ".svg",
	}

	unsafeRe = regexp.MustCompile(`[^a-z0-9._-]+`)
)

// Allowed reports whether ext (with dot, any case) is an accepted image extension.
func Allowed(ext string) bool {
	return allowedExtensions[strings.ToLower(ext)]
}

// ExtForMIME maps a content type to an image extension, or "".
func ExtForMIME(mime string) string {
	return mimeToExt[strings.TrimSpace(strings.Split(mime, ";")[0])]
}

// SanitizeBase reduces name to a lowercase base name without extension made
// of [a-z0-9._-]. An empty result becomes "image".
func SanitizeBase(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	base = strings.TrimSuffix(base, path.Ext(base))
	base = unsafeRe.ReplaceAllString(strings.ToLower(base), "-")
	base = strings.Trim(base, "-.")
	if base == "" {
		return "image"
	}
	return base
}

// RemoteName returns a collision-resistant name for an image:
// "<8 hex chars>-<sanitized base><ext>".
func RemoteName(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if ext == ".jpeg" {
		ext = ".jpg"
	}
	return uuid.NewString()[:8] + "-" + SanitizeBase(name) + ext
}

// Validate checks size, extension and that the content matches the extension.
func Validate(name string, data []byte) error {
	ext := strings.ToLower(path.Ext(name))
	if !Allowed(ext) {
		return fmt.Errorf("unsupported image extension %q (allowed: png, jpg, jpeg, gif, webp, svg)", ext)
	}
	if len(data) == 0 {
		return fmt.Errorf("image %s is empty", name)
	}
	if len(data) > MaxSize {
		return fmt.Errorf("image too large: %d bytes (max %d)", len(data), MaxSize)
	}
	return validateMagicBytes(data, ext)
}

func validateMagicBytes(data []byte, ext string) error {
	if ext == ".svg" {
		prefix := data
		if len(prefix) > 1024 {
			prefix = prefix[:1024]
		}
		if !bytes.Contains(prefix, []byte("<svg")) {
			return fmt.Errorf("content does not appear to be a valid SVG (missing <svg tag)")
		}
		return nil
	}

	detected := http.DetectContentType(data)
	got := ExtForMIME(detected)
	if ext == ".jpeg" {
		ext = ".jpg"
	}
	if got != ext {
		return fmt.Errorf("content does not match extension %s (detected: %s)", ext, detected)
	}
	return nil
}

// DecodeDataURI parses a data:[<mediatype>];base64,<data> URI and returns the
// bytes and the extension of its media type.
func DecodeDataURI(uri string) ([]byte, string, error) {
	rest := strings.TrimPrefix(uri, "data:")
	meta, encoded, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", fmt.Errorf("invalid data URI: missing comma separator")
	}
	if !strings.Contains(meta, ";base64") {
		return nil, "", fmt.Errorf("only base64 data URIs are supported")
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, "", fmt.Errorf("invalid base64 data: %w", err)
		}
	}

	ext := ExtForMIME(strings.TrimSuffix(meta, ";base64"))
	if ext == "" {
		return nil, "", fmt.Errorf("unsupported MIME type in data URI: %s", meta)
	}
	return data, ext, nil
}
