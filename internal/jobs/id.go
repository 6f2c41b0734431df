// Package jobs generates opaque job keys and parses the routes that carry them.
package jobs

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/rs/zerolog/log"
)

// KeyPrefix is prepended to every generated job key.
const KeyPrefix = "job-"

// GenerateID creates a cryptographically random job key with the given prefix.
// The prefix should include a trailing dash, e.g. "job-".
func GenerateID(prefix string) string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		log.Fatal().Err(err).Msgf("Failed to generate random %s job ID", prefix)
	}
	return prefix + hex.EncodeToString(b)
}

// ValidKey reports whether key looks like a key produced by GenerateID(prefix).
func ValidKey(key, prefix string) bool {
	rest, ok := strings.CutPrefix(key, prefix)
	if !ok || len(rest) != 32 {
		return false
	}
	_, err := hex.DecodeString(rest)
	return err == nil
}
