// Package slug derives stable file identities for posts from their titles.
package slug

import (
	"path"
	"sort"
	"strconv"
	"strings"
)

// Placeholder is used when a title has no slug-safe characters.
const Placeholder = "untitled"

// Ext is the extension of post files in the remote content directory.
const Ext = ".md"

// Slugify lowercases title, turns whitespace into hyphens and drops every
// character outside [a-z0-9-]. Runs of hyphens collapse to one and leading or
// trailing hyphens are trimmed.
func Slugify(title string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		case r == '-' || r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '_':
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	s := strings.Trim(b.String(), "-")
	if s == "" {
		return Placeholder
	}
	return s
}

// StripSuffix removes a trailing run of digits. A slug made only of digits
// is returned unchanged.
func StripSuffix(s string) string {
	trimmed := strings.TrimRight(s, "0123456789")
	if trimmed == "" {
		return s
	}
	return trimmed
}

// Disambiguate returns base if no existing slug claims it, either exactly or
// once its numeric suffix is stripped. Otherwise it appends the smallest
// counter from 2 upwards that is not taken. The bool reports whether a
// counter was added.
func Disambiguate(base string, existing []string) (string, bool) {
	taken := make(map[string]struct{}, len(existing))
	conflict := false
	for _, e := range existing {
		taken[e] = struct{}{}
		if e == base || StripSuffix(e) == base {
			conflict = true
		}
	}
	if !conflict {
		return base, false
	}
	for n := 2; ; n++ {
		candidate := base + strconv.Itoa(n)
		if _, ok := taken[candidate]; !ok {
			return candidate, true
		}
	}
}

// FromFilename returns the slug of a post file name: "b.md" -> "b".
func FromFilename(name string) string {
	return strings.TrimSuffix(path.Base(name), Ext)
}

// Filename returns the post file name for slug.
func Filename(s string) string {
	return s + Ext
}

// IsPostFile reports whether name looks like a post file.
func IsPostFile(name string) bool {
	return strings.HasSuffix(name, Ext) && len(name) > len(Ext)
}

// Unnamed returns a placeholder slug for a document with an empty title.
func Unnamed(id string) string {
	if len(id) > 8 {
		id = id[:8]
	}
	return "unnamed-" + id
}

// MatchTitle finds the slug in candidates (slug -> title) whose title equals
// title ignoring case and surrounding whitespace. Slugs are checked in sorted
// order so the result is deterministic.
func MatchTitle(title string, candidates map[string]string) (string, bool) {
	want := strings.TrimSpace(title)
	if want == "" {
		return "", false
	}
	keys := make([]string, 0, len(candidates))
	for k := range candidates {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if strings.EqualFold(strings.TrimSpace(candidates[k]), want) {
			return k, true
		}
	}
	return "", false
}
