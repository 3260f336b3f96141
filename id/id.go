// Package id defines TypeID-based identifiers for connector entities.
//
// Every entity uses a single ID struct with a prefix naming the entity kind.
// IDs are K-sortable (UUIDv7-based), globally unique, and URL-safe in the
// format "prefix_suffix".
package id

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity kind encoded in an ID.
type Prefix string

// Prefix constants for all connector entity kinds.
const (
	PrefixNegotiation   Prefix = "neg"
	PrefixTransfer      Prefix = "tp"
	PrefixPolicyMonitor Prefix = "pm"
	PrefixInstance      Prefix = "inst"
)

// ID is the primary identifier type for all connector entities.
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero-value ID.
var Nil ID

// New generates a new globally unique ID with the given prefix.
// It panics if prefix is not a valid TypeID prefix (programming error).
func New(prefix Prefix) ID {
	if prefix == "" {
		panic("id: empty prefix")
	}
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}

	return ID{inner: tid, valid: true}
}

// Parse parses a TypeID string (e.g., "neg_01h2xcejqtf2nbrexx3vqjhp41")
// into an ID. Prefix-less TypeIDs are rejected: every connector entity
// has a kind.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}

	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	if tid.Prefix() == "" {
		return Nil, fmt.Errorf("id: parse %q: %w", s, errMissingPrefix)
	}

	return ID{inner: tid, valid: true}, nil
}

var errMissingPrefix = errors.New("missing prefix")

// ParseWithPrefix parses an ID string and validates that its prefix
// matches the expected value.
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

// NewNegotiationID generates a new contract negotiation ID.
func NewNegotiationID() ID { return New(PrefixNegotiation) }

// NewTransferID generates a new transfer process ID.
func NewTransferID() ID { return New(PrefixTransfer) }

// NewPolicyMonitorID generates a new policy monitor ID.
func NewPolicyMonitorID() ID { return New(PrefixPolicyMonitor) }

// NewInstanceID generates a new engine instance ID, used as a lease holder.
func NewInstanceID() ID { return New(PrefixInstance) }

// String returns the full TypeID string representation (prefix_suffix).
// Returns an empty string for the Nil ID.
func (i ID) String() string {
	if !i.valid {
		return ""
	}

	return i.inner.String()
}

// Prefix returns the prefix component of this ID.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}

	return Prefix(i.inner.Prefix())
}

// Compare orders IDs by their string form, which for IDs of one prefix is
// creation order. It matches the ORDER BY id of the SQL backends.
func (i ID) Compare(other ID) int {
	return strings.Compare(i.String(), other.String())
}

// IsNil reports whether this ID is the zero value.
func (i ID) IsNil() bool {
	return !i.valid
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
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // nil is the canonical NULL for driver.Valuer
	}

	return i.String(), nil
}

// Scan implements sql.Scanner for database retrieval.
func (i *ID) Scan(src any) error {
	if src == nil {
		*i = Nil

		return nil
	}

	switch v := src.(type) {
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}
