package publish

import (
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"strings"

	"github.com/starford/postsync/internal/media"
	"github.com/starford/postsync/internal/models"
)

// imageRe matches ![alt](target) and ![alt](target "title").
var imageRe = regexp.MustCompile(`!\[([^\]]*)\]\(\s*([^)\s]+)((?:\s+"[^"]*")?)\s*\)`)

type image struct {
	source     string // reference as written in the body
	remotePath string
	data       []byte
}

// isLocal reports whether target points into media storage rather than at a
// URL or a site path.
func isLocal(target string) bool {
	if strings.HasPrefix(target, "/") || strings.HasPrefix(target, "#") {
		return false
	}
	if i := strings.Index(target, ":"); i > 0 && !strings.ContainsAny(target[:i], "/.") {
		return false // scheme
	}
	return true
}

// extractImages reads every local image referenced by body and rewrites the
// references to their site URL under ImageURLPrefix. Unreadable images are reported in
// res and keep their original reference.
func (p *Pipeline) extractImages(body string, res *models.PublishResult) (string, []image) {
	var images []image
	seen := map[string]string{}
	failed := map[string]bool{}

	out := imageRe.ReplaceAllStringFunc(body, func(m string) string {
		sub := imageRe.FindStringSubmatch(m)
		alt, target, title := sub[1], sub[2], sub[3]
		if !isLocal(target) || failed[target] {
			return m
		}
		ref, ok := seen[target]
		if !ok {
			data, err := p.readImage(target)
			if err != nil {
				failed[target] = true
				res.ImageErrors = append(res.ImageErrors, fmt.Sprintf("Failed to read image %s: %v", target, err))
				p.logger.Warn("publish: image skipped", slog.String("target", target), slog.String("error", err.Error()))
				return m
			}
			name := media.RemoteName(target)
			ref = path.Join(p.cfg.ImageURLPrefix, name)
			seen[target] = ref
			images = append(images, image{source: target, remotePath: path.Join(p.cfg.ImageDir, name), data: data})
		}
		return "![" + alt + "](" + ref + title + ")"
	})
	return out, images
}

func (p *Pipeline) readImage(target string) ([]byte, error) {
	if p.media == nil {
		return nil, fmt.Errorf("no media storage configured")
	}
	data, err := p.media.Read(strings.TrimPrefix(path.Clean(target), "./"))
	if err != nil {
		return nil, err
	}
	if err := media.Validate(target, data); err != nil {
		return nil, err
	}
	return data, nil
}
