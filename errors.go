package shepherd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xraph/shepherd/id"
)

var (
	// Store errors.
	ErrNoStore                = errors.New("shepherd: no store configured")
	ErrStoreClosed            = errors.New("shepherd: store closed")
	ErrMigrationFailed        = errors.New("shepherd: migration failed")
	ErrStorageUnavailable     = errors.New("shepherd: storage unavailable")
	ErrConcurrentModification = errors.New("shepherd: concurrent modification")

	// Not found errors.
	ErrJobNotFound          = errors.New("shepherd: job not found")
	ErrRecurringJobNotFound = errors.New("shepherd: recurring job not found")
	ErrServerNotFound       = errors.New("shepherd: server not found")
	ErrMetadataNotFound     = errors.New("shepherd: metadata not found")

	// State errors.
	ErrIllegalTransition = errors.New("shepherd: illegal state transition")
	ErrNoRunner          = errors.New("shepherd: no runner can run job")
	ErrInvalidSchedule   = errors.New("shepherd: invalid schedule")
	ErrInvalidConfig     = errors.New("shepherd: invalid configuration")

	// Cluster errors.
	ErrServerTimedOut = errors.New("shepherd: server timed out")
	ErrServerStopped  = errors.New("shepherd: server stopped")
)

// ConcurrentModificationError reports the jobs whose save lost the version
// race. It matches ErrConcurrentModification with errors.Is.
type ConcurrentModificationError struct {
	JobIDs []id.JobID
}

// NewConcurrentModificationError returns an error naming the given jobs.
func NewConcurrentModificationError(ids ...id.JobID) *ConcurrentModificationError {
	return &ConcurrentModificationError{JobIDs: ids}
}

func (e *ConcurrentModificationError) Error() string {
	names := make([]string, len(e.JobIDs))
	for i, jobID := range e.JobIDs {
		names[i] = jobID.String()
	}
	return fmt.Sprintf("shepherd: concurrent modification of %d job(s): %s", len(e.JobIDs), strings.Join(names, ", "))
}

// Is reports whether target is ErrConcurrentModification.
func (e *ConcurrentModificationError) Is(target error) bool {
	return target == ErrConcurrentModification
}

// Contains reports whether the given job is among the conflicting ones.
func (e *ConcurrentModificationError) Contains(jobID id.JobID) bool {
	for _, c := range e.JobIDs {
		if c == jobID {
			return true
		}
	}
	return false
}

// ConflictingJobs extracts the conflicting job IDs from err. It returns nil
// when err is not a ConcurrentModificationError.
func ConflictingJobs(err error) []id.JobID {
	var cme *ConcurrentModificationError
	if errors.As(err, &cme) {
		return cme.JobIDs
	}
	return nil
}

// Unavailable wraps err so that it matches ErrStorageUnavailable.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
}

// PartialSaveError reports a batch save that stopped part-way through.
// Jobs named in Unsaved were not written; every other job of the batch was
// committed and had its version bumped. It unwraps to the cause.
type PartialSaveError struct {
	Unsaved []id.JobID
	Err     error
}

func (e *PartialSaveError) Error() string {
	return fmt.Sprintf("shepherd: %d job(s) not saved: %v", len(e.Unsaved), e.Err)
}

func (e *PartialSaveError) Unwrap() error { return e.Err }

// UnsavedJobs returns the jobs err reports as not written: the unsaved jobs
// of a PartialSaveError or the conflicting jobs of a
// ConcurrentModificationError. It returns nil otherwise.
func UnsavedJobs(err error) []id.JobID {
	var pse *PartialSaveError
	if errors.As(err, &pse) {
		return pse.Unsaved
	}
	return ConflictingJobs(err)
}
