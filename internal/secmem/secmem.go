// Package secmem holds sensitive in-memory values (lease secrets, Noise
// private keys read from config) with best-effort zeroing and redacted
// default formatting, so a stray log.Printf("%+v", cfg) never leaks one.
package secmem

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/wavry-oss/rift/internal/logging"
)

var log = logging.L("secmem")

// SecureString holds sensitive data with best-effort memory zeroing.
// Go's GC may copy or retain the backing array, so this is defense in
// depth, not a guarantee. Call Zero() in shutdown paths to overwrite the
// value in place. Every formatting path (String, GoString, MarshalJSON,
// MarshalText) is redacted; Reveal is the one explicit plaintext escape
// hatch.
type SecureString struct {
	mu         sync.Mutex
	data       []byte
	warnedOnce atomic.Bool
}

// NewSecureString creates a SecureString from the given string.
func NewSecureString(s string) *SecureString {
	b := make([]byte, len(s))
	copy(b, s)
	return &SecureString{data: b}
}

// Reveal returns the plaintext value, or "" once the value has been
// zeroed. The first Reveal call after Zero logs a warning, since reading
// a zeroed secret usually indicates a use-after-shutdown bug.
func (s *SecureString) Reveal() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		if !s.warnedOnce.Swap(true) {
			log.Warn("secure string revealed after it was zeroed")
		}
		return ""
	}
	return string(s.data)
}

// IsZeroed reports whether Zero has already been called.
func (s *SecureString) IsZeroed() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data == nil
}

// String implements fmt.Stringer with a redacted placeholder so the
// plaintext never appears in an accidental %s/%v log line.
func (s *SecureString) String() string {
	return "[REDACTED]"
}

// GoString returns a redacted representation to prevent accidental
// logging via fmt.Printf("%#v", token).
func (s *SecureString) GoString() string {
	return "[REDACTED]"
}

// MarshalJSON always marshals to the redacted placeholder.
func (s *SecureString) MarshalJSON() ([]byte, error) {
	return json.Marshal("[REDACTED]")
}

// MarshalText always marshals to the redacted placeholder.
func (s *SecureString) MarshalText() ([]byte, error) {
	return []byte("[REDACTED]"), nil
}

// UnmarshalJSON always fails: a SecureString is produced via
// NewSecureString, never decoded from a config file or wire payload
// directly, so any attempt to unmarshal into one is a programming error.
func (s *SecureString) UnmarshalJSON([]byte) error {
	return errors.New("secmem: SecureString cannot be unmarshaled directly")
}

// Zero overwrites the backing byte slice with zeros.
func (s *SecureString) Zero() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return
	}
	for i := range s.data {
		s.data[i] = 0
	}
	s.data = nil
}
