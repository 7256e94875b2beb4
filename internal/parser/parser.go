// Package parser reads and writes the front matter block of a post.
package parser

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/postsync/internal/apperr"
	"github.com/starford/postsync/internal/models"
)

const delim = "---"

// Result holds the output of parsing a post.
type Result struct {
	Metadata models.Metadata
	Body     string
}

// frontMatter is the YAML shape of the block. "tags" is accepted as an
// alias of "tools" for files written by other tools.
type frontMatter struct {
	Title   string     `yaml:"title"`
	Summary string     `yaml:"summary"`
	Date    string     `yaml:"date"`
	Draft   bool       `yaml:"draft"`
	Tools   stringList `yaml:"tools"`
	Tags    stringList `yaml:"tags"`
}

// stringList accepts a YAML sequence or a single scalar.
type stringList []string

func (l *stringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		if value.Tag == "!!null" || strings.TrimSpace(value.Value) == "" {
			*l = nil
			return nil
		}
		*l = stringList{value.Value}
		return nil
	case yaml.SequenceNode:
		out := make(stringList, 0, len(value.Content))
		for _, item := range value.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("list item at line %d is not a scalar", item.Line)
			}
			out = append(out, item.Value)
		}
		*l = out
		return nil
	default:
		return fmt.Errorf("expected a list at line %d", value.Line)
	}
}

// Parse splits raw post bytes into metadata and body. It fails with
// apperr.ErrMalformedDocument when the opening or closing delimiter is
// missing or the block is not valid YAML.
func Parse(data []byte) (*Result, error) {
	block, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, err
	}

	var fm frontMatter
	if err := yaml.Unmarshal(block, &fm); err != nil {
		return nil, fmt.Errorf("%w: front matter: %v", apperr.ErrMalformedDocument, err)
	}

	tags := fm.Tools
	if len(tags) == 0 {
		tags = fm.Tags
	}

	return &Result{
		Metadata: models.Metadata{
			Title:    fm.Title,
			Summary:  fm.Summary,
			Date:     fm.Date,
			Tags:     dedupe(tags),
			Archived: fm.Draft,
		},
		Body: body,
	}, nil
}

// splitFrontmatter returns the YAML between the first two delimiter lines
// and the body after the closing one, minus the single separating blank line.
func splitFrontmatter(data []byte) ([]byte, string, error) {
	rest := bytes.TrimLeft(data, "\r\n")

	line, after, ok := cutLine(rest)
	if !isDelim(line) {
		return nil, "", fmt.Errorf("%w: missing opening %q", apperr.ErrMalformedDocument, delim)
	}
	rest = after

	var block []byte
	for {
		line, after, ok = cutLine(rest)
		if isDelim(line) {
			break
		}
		if !ok {
			return nil, "", fmt.Errorf("%w: missing closing %q", apperr.ErrMalformedDocument, delim)
		}
		block = append(block, line...)
		block = append(block, '\n')
		rest = after
	}

	body := after
	switch {
	case bytes.HasPrefix(body, []byte("\r\n")):
		body = body[2:]
	case bytes.HasPrefix(body, []byte("\n")):
		body = body[1:]
	}
	return block, string(body), nil
}

// cutLine returns the first line of b without its terminator, the remainder,
// and whether a terminator was found.
func cutLine(b []byte) ([]byte, []byte, bool) {
	i := bytes.IndexByte(b, '\n')
	if i < 0 {
		return bytes.TrimRight(b, "\r"), nil, false
	}
	return bytes.TrimRight(b[:i], "\r"), b[i+1:], true
}

func isDelim(line []byte) bool {
	return string(bytes.TrimRight(line, " \t")) == delim
}

// Serialize renders the canonical post: ordered keys title, summary, date,
// draft, tools, then one blank line and the body. Tags are normalized the
// way Parse normalizes them.
func Serialize(m models.Metadata, body string) []byte {
	var b strings.Builder
	b.WriteString(delim + "\n")
	b.WriteString("title: " + quote(m.Title) + "\n")
	b.WriteString("summary: " + quote(m.Summary) + "\n")
	b.WriteString("date: " + quote(m.Date) + "\n")
	b.WriteString("draft: " + strconv.FormatBool(m.Archived) + "\n")
	b.WriteString("tools: " + quoteList(dedupe(m.Tags)) + "\n")
	b.WriteString(delim + "\n\n")
	b.WriteString(body)
	return []byte(b.String())
}

// quote produces a YAML double-quoted scalar. Go escapes are a subset of
// the YAML double-quoted escapes.
func quote(s string) string {
	return strconv.Quote(s)
}

func quoteList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = quote(s)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// dedupe trims items and drops empties and repeats, keeping first-seen order.
func dedupe(items []string) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, s := range items {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
