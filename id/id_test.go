package id_test

import (
	"strings"
	"testing"

	"github.com/xraph/shepherd/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() id.ID
		prefix string
	}{
		{"JobID", id.NewJobID, "job_"},
		{"ServerID", id.NewServerID, "srv_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn().String()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		newFn   func() id.ID
		parseFn func(string) (id.ID, error)
	}{
		{"JobID", id.NewJobID, id.ParseJobID},
		{"ServerID", id.NewServerID, id.ParseServerID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := tt.newFn()
			parsed, err := tt.parseFn(original.String())
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if parsed != original {
				t.Errorf("round-trip mismatch: %q != %q", parsed, original)
			}
		})
	}
}

func TestCrossTypeRejection(t *testing.T) {
	if _, err := id.ParseJobID(id.NewServerID().String()); err == nil {
		t.Error("expected ParseJobID to reject a server ID")
	}
	if _, err := id.ParseServerID(id.NewJobID().String()); err == nil {
		t.Error("expected ParseServerID to reject a job ID")
	}
}

func TestParseInvalid(t *testing.T) {
	for _, s := range []string{"", "job", "_0190d6a4c1e27b3a9f0e5d4c3b2a1908", "job_nothex"} {
		if _, err := id.Parse(s); err == nil {
			t.Errorf("expected error parsing %q", s)
		}
	}
}

func TestFromNameIsDeterministic(t *testing.T) {
	a := id.FromName(id.PrefixJob, "nightly-report@2026-01-01T00:00:00Z")
	b := id.FromName(id.PrefixJob, "nightly-report@2026-01-01T00:00:00Z")
	c := id.FromName(id.PrefixJob, "nightly-report@2026-01-02T00:00:00Z")

	if a != b {
		t.Errorf("expected equal IDs, got %q and %q", a, b)
	}
	if a == c {
		t.Error("expected different names to produce different IDs")
	}
	if a.Prefix() != id.PrefixJob {
		t.Errorf("expected prefix %q, got %q", id.PrefixJob, a.Prefix())
	}
}

func TestCompareOrdersByCreation(t *testing.T) {
	first := id.NewServerID()
	second := id.NewServerID()
	if id.Compare(first, second) >= 0 {
		t.Errorf("expected %q < %q", first, second)
	}
	if id.Compare(first, first) != 0 {
		t.Error("expected an ID to compare equal to itself")
	}
}

func TestNilID(t *testing.T) {
	var i id.ID
	if !i.IsNil() {
		t.Error("zero-value ID should be nil")
	}
	if i.String() != "" {
		t.Errorf("expected empty string, got %q", i.String())
	}
}

func TestMarshalUnmarshalText(t *testing.T) {
	original := id.NewJobID()
	data, err := original.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText failed: %v", err)
	}

	var restored id.ID
	if unmarshalErr := restored.UnmarshalText(data); unmarshalErr != nil {
		t.Fatalf("UnmarshalText failed: %v", unmarshalErr)
	}
	if restored != original {
		t.Errorf("mismatch: %q != %q", restored, original)
	}

	var nilID id.ID
	data, _ = nilID.MarshalText()
	var restored2 id.ID
	if err := restored2.UnmarshalText(data); err != nil {
		t.Fatalf("UnmarshalText(nil) failed: %v", err)
	}
	if !restored2.IsNil() {
		t.Error("expected nil after round-trip of nil ID")
	}
}

func TestValueScan(t *testing.T) {
	original := id.NewServerID()
	val, err := original.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}

	var scanned id.ID
	if scanErr := scanned.Scan(val); scanErr != nil {
		t.Fatalf("Scan failed: %v", scanErr)
	}
	if scanned != original {
		t.Errorf("mismatch: %q != %q", scanned, original)
	}

	var nilID id.ID
	val, _ = nilID.Value()
	if val != nil {
		t.Errorf("expected nil value for nil ID, got %v", val)
	}
	if err := scanned.Scan(nil); err != nil || !scanned.IsNil() {
		t.Errorf("expected nil after scan of nil, err=%v", err)
	}
	if err := scanned.Scan(42); err == nil {
		t.Error("expected error scanning an int")
	}
}

func TestUniqueness(t *testing.T) {
	seen := make(map[id.ID]bool)
	for range 1000 {
		i := id.NewJobID()
		if seen[i] {
			t.Fatalf("duplicate ID %q", i)
		}
		seen[i] = true
	}
}
