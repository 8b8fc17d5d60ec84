package tombstone

import (
	"testing"
	"time"
)

func TestExpired(t *testing.T) {
	now := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	retention := 30 * 24 * time.Hour

	fresh := Tombstone{DeletedAt: now.Add(-29 * 24 * time.Hour)}
	if fresh.Expired(now, retention) {
		t.Fatal("tombstone within retention window reported expired")
	}

	old := Tombstone{DeletedAt: now.Add(-31 * 24 * time.Hour)}
	if !old.Expired(now, retention) {
		t.Fatal("tombstone past retention window reported not expired")
	}
}
