package chat

import (
	"html"
	"mime"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

const (
	maxUsernameLen = 32
	maxRoomNameLen = 64
	maxFilenameLen = 128
)

// Every user-supplied string is reduced to plain text. Markup is stripped but
// the text itself is kept verbatim; clients render it as text, never as HTML.
var textPolicy = bluemonday.StrictPolicy()

func cleanText(s string) string {
	if s == "" {
		return ""
	}
	stripped := textPolicy.Sanitize(s)
	return strings.TrimSpace(html.UnescapeString(stripped))
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:max]))
}

func cleanUsername(s string) string {
	return truncate(cleanText(s), maxUsernameLen)
}

func cleanRoomName(s string) string {
	return truncate(cleanText(s), maxRoomNameLen)
}

func cleanFilename(s string) string {
	s = strings.ReplaceAll(s, "\\", "/")
	s = path.Base(strings.TrimSpace(s))
	if s == "." || s == ".." || s == "/" {
		s = ""
	}
	s = truncate(cleanText(s), maxFilenameLen)
	if s == "" {
		return "file"
	}
	return s
}

// parseDataURL validates an inline file payload of the form
// data:<mediatype>[;base64],<data> and returns its media type.
func parseDataURL(content string) (string, bool) {
	if !strings.HasPrefix(content, "data:") {
		return "", false
	}
	comma := strings.IndexByte(content, ',')
	if comma < 0 {
		return "", false
	}
	meta := content[len("data:"):comma]
	meta = strings.TrimSuffix(meta, ";base64")
	if meta == "" {
		return "text/plain", true
	}
	mediaType, _, err := mime.ParseMediaType(meta)
	if err != nil {
		return "", false
	}
	return mediaType, true
}
