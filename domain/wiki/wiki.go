// Package wiki defines the replicated content units: wikis and the
// tiddlers they contain.
package wiki

import (
	"encoding/json"
	"regexp"
	"time"

	"github.com/google/uuid"
	"tiddlysync/domain/room"
)

// Wiki is a user content collection, optionally assigned to exactly one
// room. Peers in that room are entitled to sync it.
type Wiki struct {
	ID       uuid.UUID `json:"wiki_id"`
	Name     string    `json:"wiki_name"`
	IsFolder bool      `json:"is_folder"`
	RoomCode room.Code `json:"room_code,omitempty"`
}

// InRoom reports whether w is currently assigned to a room.
func (w Wiki) InRoom() bool {
	return w.RoomCode != ""
}

// Tiddler is the atomic replicated unit: a named JSON field bag plus a
// modification timestamp.
type Tiddler struct {
	Title    string          `json:"title"`
	Fields   json.RawMessage `json:"fields"`
	Modified time.Time       `json:"modified"`
}

// Fingerprint is the compact (title, modified) tuple used to diff an
// entire wiki in one message, per spec.md section 4.4.
type Fingerprint struct {
	Title          string `json:"title"`
	ModifiedString string `json:"modified"`
	Deleted        bool   `json:"deleted,omitempty"`
}

// internalTitlePatterns match TiddlyWiki-style internal/ephemeral titles
// that must never be replicated: $:/StoryList, $:/HistoryList,
// $:/temp/*, $:/state/*, and similar system namespaces.
var internalTitlePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\$:/StoryList$`),
	regexp.MustCompile(`^\$:/HistoryList$`),
	regexp.MustCompile(`^\$:/temp/`),
	regexp.MustCompile(`^\$:/state/`),
	regexp.MustCompile(`^\$:/status/`),
	regexp.MustCompile(`^\$:/UploadName$`),
}

// ShouldSync reports whether a tiddler with the given title is eligible
// for replication. Internal/state tiddlers are excluded so that purely
// local UI state (open story list, edit drafts, transient widget state)
// never crosses the wire.
func ShouldSync(title string) bool {
	for _, pattern := range internalTitlePatterns {
		if pattern.MatchString(title) {
			return false
		}
	}
	return true
}
