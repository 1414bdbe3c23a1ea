package usbwriter

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewSessionID returns a new write session identifier.
//
// Identifiers are ULIDs: lexically sortable by creation time, so the history
// table and log lines order naturally. The "ws_" prefix keeps them apart from
// other identifiers in logs.
func NewSessionID(now time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return "ws_" + ulid.MustNew(ulid.Timestamp(now), entropy).String()
}
