// Package securemem keeps sensitive values such as the shared dispatch token in
// memguard-protected memory so they stay out of swap and core dumps.
package securemem

import (
	"crypto/subtle"

	"github.com/awnumar/memguard"
)

// String is a secure string wrapper that stores sensitive data in locked memory.
type String struct {
	buf     *memguard.LockedBuffer
	invalid bool
}

// NewString creates a new secure string from the given plaintext.
func NewString(plaintext string) *String {
	return NewStringFromBytes([]byte(plaintext))
}

// NewStringFromBytes creates a new secure string from the given bytes.
// memguard wipes the input slice.
func NewStringFromBytes(data []byte) *String {
	if len(data) == 0 {
		// memguard refuses zero-sized buffers
		return &String{}
	}
	return &String{
		buf: memguard.NewBufferFromBytes(data),
	}
}

// String returns a plaintext copy living in regular memory.
func (s *String) String() string {
	if !s.usable() {
		return ""
	}
	return string(s.buf.Bytes())
}

// IsEmpty returns true if the string is empty or destroyed.
func (s *String) IsEmpty() bool {
	return s.Len() == 0
}

// Len returns the length of the string.
func (s *String) Len() int {
	if !s.usable() {
		return 0
	}
	return len(s.buf.Bytes())
}

// Equal reports whether the secure string equals other. The comparison is an
// exact byte comparison done in constant time.
func (s *String) Equal(other string) bool {
	if !s.usable() {
		return other == ""
	}
	return subtle.ConstantTimeCompare(s.buf.Bytes(), []byte(other)) == 1
}

// Destroy wipes the string. The value must not be used afterwards.
func (s *String) Destroy() {
	if s == nil || s.invalid {
		return
	}
	if s.buf != nil {
		s.buf.Destroy()
		s.buf = nil
	}
	s.invalid = true
}

func (s *String) usable() bool {
	return s != nil && !s.invalid && s.buf != nil
}

// Purge destroys every memguard buffer of the process. Called once during teardown.
func Purge() {
	memguard.Purge()
}
