// Package id provides identity generation for birdwatch entities: the
// deterministic job id derived from a request name, a short random worker
// id, and uuid-based event ids.
package id

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// CanonicalJobID derives the deduplication key for a job from its request
// name: lowercase, with each run of whitespace collapsed to a single
// hyphen. Leading/trailing whitespace is trimmed before collapsing so a
// name does not produce a leading or trailing hyphen.
func CanonicalJobID(name string) string {
	trimmed := strings.TrimSpace(name)
	lowered := strings.ToLower(trimmed)
	return whitespaceRun.ReplaceAllString(lowered, "-")
}

// NewWorkerID generates a short worker identifier: the prefix "w-"
// followed by four hex characters, per spec.
func NewWorkerID() string {
	var buf [2]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failure is effectively unrecoverable; fall back to a
		// fixed suffix rather than panic, so a degraded entropy source
		// doesn't crash worker startup.
		return "w-0000"
	}
	return "w-" + hex.EncodeToString(buf[:])
}

// NewEventID generates a new event identifier.
func NewEventID() string {
	return uuid.NewString()
}
