package storage

import (
	"strings"
	"time"

	"chatrelay/model"

	"github.com/mattn/go-runewidth"
	"github.com/sahilm/fuzzy"
)

// previewWidth is the display width of a search preview, in terminal cells.
const previewWidth = 100

// MessageMatch represents a message search result
type MessageMatch struct {
	SessionID    string     `json:"session_uuid"`
	SessionTitle string     `json:"session_title"`
	MessageID    int64      `json:"message_id"`
	Role         model.Role `json:"role"`
	Preview      string     `json:"preview"`
	CreatedAt    time.Time  `json:"created_at"`
}

// buildPreview returns a display-width-bounded excerpt of content that
// starts shortly before the first occurrence of query.
func buildPreview(content, query string) string {
	content = strings.Join(strings.Fields(content), " ")

	runes := []rune(content)
	if idx := strings.Index(strings.ToLower(content), strings.ToLower(query)); idx > 0 && idx <= len(content) {
		start := len([]rune(content[:idx]))
		const lead = 20
		if start > lead {
			runes = append([]rune("..."), runes[start-lead:]...)
		}
	}

	return runewidth.Truncate(string(runes), previewWidth, "...")
}

// escapeLike escapes the LIKE wildcards in s. Queries using it must declare
// ESCAPE '\'.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

type sessionTitles []model.Session

func (s sessionTitles) String(i int) string { return s[i].Title }
func (s sessionTitles) Len() int            { return len(s) }

// FilterSessions ranks sessions by fuzzy match of query against their
// titles, best match first. An empty query returns sessions unchanged.
func FilterSessions(sessions []model.Session, query string) []model.Session {
	query = strings.TrimSpace(query)
	if query == "" {
		return sessions
	}

	matches := fuzzy.FindFrom(query, sessionTitles(sessions))
	result := make([]model.Session, len(matches))
	for i, m := range matches {
		result[i] = sessions[m.Index]
	}
	return result
}
