package curation

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/trend-curator/internal/filter"
)

var (
	// ErrRunInProgress is returned when a run for the same config already holds the lock.
	ErrRunInProgress = eris.New("curation: run already in progress")
	// ErrInsufficientCredits is returned by manual triggers below the credit minimum.
	ErrInsufficientCredits = eris.New("curation: insufficient credits")
	// ErrConfigExists is returned when a project already owns a scan config.
	ErrConfigExists = eris.New("curation: project already has a scan config")
	// ErrInvalidConfig wraps validation failures on create and update.
	ErrInvalidConfig = eris.New("curation: invalid scan config")
	// ErrForbidden is returned when a caller touches another user's config.
	ErrForbidden = eris.New("curation: config belongs to another user")
)

// truncateError renders err for storage, cut to n runes.
func truncateError(err error, n int) string {
	msg := err.Error()
	if n <= 0 {
		return msg
	}
	return filter.Truncate(msg, n)
}
