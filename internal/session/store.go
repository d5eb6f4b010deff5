// Package session keeps the per-browser list view state: one live controller
// per (session, page) in memory, with snapshots persisted to a Store so state
// survives a restart or moves between replicas until its TTL expires.
package session

import (
	"context"

	"github.com/pitabwire/caseview/internal/listview"
)

// Store persists controller snapshots keyed by session and page.
type Store interface {
	// Get returns the snapshot for the page, or found=false when none is
	// stored or it has expired.
	Get(ctx context.Context, sessionID, pageID string) (state listview.State, found bool, err error)

	// Put saves the snapshot, restarting its TTL.
	Put(ctx context.Context, sessionID, pageID string, state listview.State) error

	// Delete removes the snapshot. Deleting a missing key is not an error.
	Delete(ctx context.Context, sessionID, pageID string) error
}

// Key builds the storage key for a page of a session.
func Key(prefix, sessionID, pageID string) string {
	return prefix + sessionID + ":" + pageID
}
