package domain

import (
	"database/sql/driver"
	"fmt"
)

// Status is the position of a job in its lifecycle. The ordinal encoding is
// load-bearing: jobs only move to strictly larger values (reschedule and
// delete are the two documented exceptions), and everything at or past
// StatusSuccessful is terminal.
type Status int

const (
	StatusPending Status = iota
	StatusAssigned
	StatusRecording
	StatusUploading
	StatusSuccessful
	StatusFailed
	StatusDeleted
)

var statusNames = [...]string{
	StatusPending:    "pending",
	StatusAssigned:   "assigned",
	StatusRecording:  "recording",
	StatusUploading:  "uploading",
	StatusSuccessful: "successful",
	StatusFailed:     "failed",
	StatusDeleted:    "deleted",
}

// Finished reports whether the status is terminal.
func (s Status) Finished() bool {
	return s >= StatusSuccessful
}

// Active reports whether a job in this status is held by a worker.
func (s Status) Active() bool {
	return s >= StatusAssigned && s <= StatusUploading
}

// Valid reports whether s is one of the defined statuses.
func (s Status) Valid() bool {
	return s >= StatusPending && s <= StatusDeleted
}

// String returns the lowercase display name used on the wire and in Postgres.
func (s Status) String() string {
	if !s.Valid() {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

// Value stores the display name, keeping the status column readable in psql.
func (s Status) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: status ordinal %d", ErrInvalidInput, int(s))
	}
	return s.String(), nil
}

// Scan reads a status back from its stored display name.
func (s *Status) Scan(src any) error {
	switch v := src.(type) {
	case string:
		parsed, err := ParseStatus(v)
		if err != nil {
			return err
		}
		*s = parsed
		return nil
	case []byte:
		return s.Scan(string(v))
	default:
		return fmt.Errorf("%w: cannot scan %T into Status", ErrInvalidInput, src)
	}
}

// ParseStatus converts a display name back into a Status.
func ParseStatus(name string) (Status, error) {
	for i, n := range statusNames {
		if n == name {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, name)
}
