// Package tombstone records tiddler deletions so late-arriving writes do
// not resurrect them.
package tombstone

import (
	"time"

	"tiddlysync/domain/vectorclock"
)

// Tombstone is a persistent note that (WikiID, Title) was deleted at
// Clock, retained until DeletedAt ages past the retention window.
type Tombstone struct {
	WikiID    string            `json:"wiki_id"`
	Title     string            `json:"title"`
	Clock     vectorclock.Clock `json:"clock"`
	DeletedAt time.Time         `json:"deleted_at"`
}

// Expired reports whether t is older than retention, relative to now.
func (t Tombstone) Expired(now time.Time, retention time.Duration) bool {
	return now.Sub(t.DeletedAt) > retention
}
