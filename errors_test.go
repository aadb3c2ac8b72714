package shepherd_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/xraph/shepherd"
	"github.com/xraph/shepherd/id"
)

func TestConcurrentModificationErrorMatchesSentinel(t *testing.T) {
	a, b := id.NewJobID(), id.NewJobID()
	err := fmt.Errorf("save batch: %w", shepherd.NewConcurrentModificationError(a, b))

	if !errors.Is(err, shepherd.ErrConcurrentModification) {
		t.Fatal("expected errors.Is to match ErrConcurrentModification")
	}

	got := shepherd.ConflictingJobs(err)
	if len(got) != 2 || got[0] != a || got[1] != b {
		t.Errorf("unexpected conflicting jobs: %v", got)
	}

	var cme *shepherd.ConcurrentModificationError
	if !errors.As(err, &cme) {
		t.Fatal("expected errors.As to succeed")
	}
	if !cme.Contains(a) || cme.Contains(id.NewJobID()) {
		t.Error("Contains returned the wrong answer")
	}
}

func TestConflictingJobsOnOtherError(t *testing.T) {
	if got := shepherd.ConflictingJobs(errors.New("boom")); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}

func TestUnavailable(t *testing.T) {
	cause := errors.New("connection refused")
	err := shepherd.Unavailable(cause)

	if !errors.Is(err, shepherd.ErrStorageUnavailable) {
		t.Error("expected ErrStorageUnavailable")
	}
	if !errors.Is(err, cause) {
		t.Error("expected the cause to stay reachable")
	}
	if shepherd.Unavailable(nil) != nil {
		t.Error("expected nil for a nil cause")
	}
}

func TestPartialSaveError(t *testing.T) {
	a, b := id.NewJobID(), id.NewJobID()
	err := fmt.Errorf("claim: %w", &shepherd.PartialSaveError{
		Unsaved: []id.JobID{a, b},
		Err:     shepherd.Unavailable(errors.New("connection reset")),
	})

	if !errors.Is(err, shepherd.ErrStorageUnavailable) {
		t.Error("expected the cause to be reachable")
	}
	if errors.Is(err, shepherd.ErrConcurrentModification) {
		t.Error("a partial save is not a conflict")
	}
	if got := shepherd.UnsavedJobs(err); len(got) != 2 || got[0] != a || got[1] != b {
		t.Errorf("UnsavedJobs = %v", got)
	}
	if got := shepherd.UnsavedJobs(shepherd.NewConcurrentModificationError(a)); len(got) != 1 || got[0] != a {
		t.Errorf("UnsavedJobs of a conflict = %v", got)
	}
}
