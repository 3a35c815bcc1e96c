package types

import "errors"

// Index errors. Callers classify with errors.Is; RequiresRebuild groups the
// ones that can only be recovered by discarding the index.
var (
	// ErrEnumeratorCorruption is returned when an enumerator's backing store
	// is inconsistent or unreadable
	ErrEnumeratorCorruption = errors.New("enumerator corrupted")
	// ErrStorageIO is returned when a table or enumerator write fails
	ErrStorageIO = errors.New("storage I/O failure")
	// ErrVersionMismatch is returned when the persisted schema stamp is not
	// compatible with the running code
	ErrVersionMismatch = errors.New("index version mismatch")
	// ErrCorrupted is returned when the previous update session never ended
	ErrCorrupted = errors.New("index left in an unfinished session")
	// ErrNeedsFullRebuild is returned when an incremental update cannot
	// guarantee the same result as a rebuild
	ErrNeedsFullRebuild = errors.New("full rebuild required")

	// ErrClosed is returned for any operation after Close
	ErrClosed = errors.New("storage closed")
	// ErrNotFound is returned when an id was never allocated
	ErrNotFound = errors.New("not found")
	// ErrSessionActive is returned when a second update session is started
	ErrSessionActive = errors.New("update session already active")
	// ErrInvalidKey is returned for keys or postings that do not fit a table
	ErrInvalidKey = errors.New("invalid index key")
)

// RequiresRebuild reports whether err can only be recovered by discarding
// the index and rebuilding it from the current project state.
func RequiresRebuild(err error) bool {
	return errors.Is(err, ErrEnumeratorCorruption) ||
		errors.Is(err, ErrStorageIO) ||
		errors.Is(err, ErrVersionMismatch) ||
		errors.Is(err, ErrCorrupted) ||
		errors.Is(err, ErrNeedsFullRebuild)
}
