// Package id generates prefixed ULID identifiers for the network pipeline.
//
// Identifiers are:
//   - Lexicographically sortable: creation order survives string sorting
//   - Prefixed: req_*, job_*, lsn_*, sess_* make logs and events readable
//   - Typed: separate string types keep request and job ids apart
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ============================================================================
// Typed IDs
// ============================================================================

// RequestID identifies an engine request or an originated request
type RequestID string

// JobID identifies one job serving a request
type JobID string

// ListenerID identifies a delegate observer
type ListenerID string

// SessionID identifies a networking context; it doubles as the emulation client id
type SessionID string

const (
	RequestPrefix  = "req"
	JobPrefix      = "job"
	ListenerPrefix = "lsn"
	SessionPrefix  = "sess"
)

// ============================================================================
// ULID Generator
// ============================================================================

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropyMu sync.Mutex
	entropy   io.Reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand
func NewGenerator() *Generator {
	return &Generator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// ============================================================================
// Typed Generators
// ============================================================================

func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

func NewJobID() JobID {
	return JobID(Default().GenerateWithPrefix(JobPrefix))
}

func NewListenerID() ListenerID {
	return ListenerID(Default().GenerateWithPrefix(ListenerPrefix))
}

func NewSessionID() SessionID {
	return SessionID(Default().GenerateWithPrefix(SessionPrefix))
}

func (id RequestID) String() string  { return string(id) }
func (id JobID) String() string      { return string(id) }
func (id ListenerID) String() string { return string(id) }
func (id SessionID) String() string  { return string(id) }

// ============================================================================
// Parsing
// ============================================================================

// IsValid checks whether s is a ULID, with or without a prefix
func IsValid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

// Parse parses a ULID, stripping a "prefix_" if present
func Parse(s string) (ulid.ULID, error) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '_' {
			s = s[i+1:]
			break
		}
	}
	return ulid.Parse(s)
}

// Timestamp extracts the creation time from an id
func Timestamp(s string) (time.Time, error) {
	parsed, err := Parse(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
