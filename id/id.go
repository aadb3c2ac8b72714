// Package id defines prefixed, UUID-backed identity types for Shepherd
// entities.
//
// Every identifier is a single ID struct carrying a prefix that names the
// entity type. Generated IDs are time-ordered UUIDv7 values rendered as
// "prefix_hex". Deterministic IDs (UUIDv5) are derived from a name, which is
// how recurring job instances get the same identity on every server.
package id

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Prefix identifies the entity type encoded in an ID.
type Prefix string

// Prefix constants for all Shepherd entity types.
const (
	PrefixJob    Prefix = "job"
	PrefixServer Prefix = "srv"
)

// namespace seeds deterministic IDs.
var namespace = uuid.MustParse("6f0b8e4c-2f38-4d8a-9b3e-5c1d7a2e9f40")

// ID is the primary identifier type for all Shepherd entities. It is
// comparable and may be used as a map key.
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type ID struct {
	prefix Prefix
	inner  uuid.UUID
	valid  bool
}

// Nil is the zero-value ID.
var Nil ID

// New generates a new time-ordered ID with the given prefix.
// It panics if the prefix is empty or contains an underscore (programming error).
func New(prefix Prefix) ID {
	mustValidPrefix(prefix)

	u, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source fails.
		u = uuid.New()
	}

	return ID{prefix: prefix, inner: u, valid: true}
}

// FromName derives a deterministic ID from name. The same prefix and name
// always produce the same ID.
func FromName(prefix Prefix, name string) ID {
	mustValidPrefix(prefix)

	return ID{prefix: prefix, inner: uuid.NewSHA1(namespace, []byte(string(prefix)+":"+name)), valid: true}
}

func mustValidPrefix(prefix Prefix) {
	if prefix == "" || strings.ContainsRune(string(prefix), '_') {
		panic(fmt.Sprintf("id: invalid prefix %q", prefix))
	}
}

// Parse parses a string such as "job_0190d6a4c1e27b3a9f0e5d4c3b2a1908" into an ID.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}

	prefix, suffix, ok := strings.Cut(s, "_")
	if !ok || prefix == "" {
		return Nil, fmt.Errorf("id: parse %q: missing prefix", s)
	}

	u, err := uuid.Parse(suffix)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}

	return ID{prefix: Prefix(prefix), inner: u, valid: true}, nil
}

// ParseWithPrefix parses s and validates that its prefix matches expected.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}

	if parsed.Prefix() != expected {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.Prefix())
	}

	return parsed, nil
}

// MustParse is like Parse but panics on error. Use for hardcoded ID values.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("id: must parse %q: %v", s, err))
	}

	return parsed
}

// JobID identifies a job (prefix: "job").
type JobID = ID

// ServerID identifies a background job server (prefix: "srv").
type ServerID = ID

// NewJobID generates a new unique job ID.
func NewJobID() ID { return New(PrefixJob) }

// NewServerID generates a new unique server ID.
func NewServerID() ID { return New(PrefixServer) }

// ParseJobID parses a string and validates the "job" prefix.
func ParseJobID(s string) (ID, error) { return ParseWithPrefix(s, PrefixJob) }

// ParseServerID parses a string and validates the "srv" prefix.
func ParseServerID(s string) (ID, error) { return ParseWithPrefix(s, PrefixServer) }

// String returns "prefix_hex", or an empty string for the Nil ID.
func (i ID) String() string {
	if !i.valid {
		return ""
	}

	return string(i.prefix) + "_" + strings.ReplaceAll(i.inner.String(), "-", "")
}

// Prefix returns the prefix component of this ID.
func (i ID) Prefix() Prefix {
	return i.prefix
}

// IsNil reports whether this ID is the zero value.
func (i ID) IsNil() bool {
	return !i.valid
}

// Compare orders IDs by their string form. Generated IDs therefore sort by
// creation time.
func Compare(a, b ID) int {
	return strings.Compare(a.String(), b.String())
}

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil

		return nil
	}

	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}

	*i = parsed

	return nil
}

// Value implements driver.Valuer for database storage.
// Returns nil for the Nil ID so that optional columns store NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // nil is the canonical NULL for driver.Valuer
	}

	return i.String(), nil
}

// Scan implements sql.Scanner for database retrieval.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil

		return nil
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}
