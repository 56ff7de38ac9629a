// Package erasure tracks pending data-deletion requests for the two-step,
// time-boxed /delete → /delete confirm protocol.
//
// A pending request is a short-lived marker keyed by the user's WhatsApp ID,
// holding the request timestamp. Markers expire after Window; a repeated
// /delete overwrites the previous marker. Two backends are provided: Redis
// (the production choice, SETEX semantics) and SQLite (for deployments
// without Redis, expiry checked on read).
package erasure

import (
	"errors"
	"time"
)

// Window is how long a delete request stays confirmable.
const Window = 300 * time.Second

// ErrNotFound is returned by Get when no unexpired marker exists for the key.
// Any other error from a store means the backend itself is unavailable, which
// callers handle with the documented immediate-deletion fallback.
var ErrNotFound = errors.New("erasure: no pending request")

// Key returns the marker key for a WhatsApp ID.
func Key(whatsappID string) string {
	return "delete_request:" + whatsappID
}
