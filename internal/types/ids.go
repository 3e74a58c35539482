package types

import (
	"time"

	"github.com/google/uuid"
)

// NewRowID generates a UUIDv7 surrogate row identifier.
// IDs are time-ordered and monotonic within a process.
// Panics on clock regression (uuid.Must).
func NewRowID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// ParseRowID validates a surrogate row identifier.
func ParseRowID(s string) (string, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", err
	}
	return s, nil
}

// RowIDTime extracts the insert timestamp embedded in a UUIDv7 row ID.
// Returns zero time for invalid UUIDs; caller should check IsZero().
func RowIDTime(id string) time.Time {
	u, err := uuid.Parse(id)
	if err != nil {
		return time.Time{}
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec)
}
