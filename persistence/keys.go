package persistence

import (
	"fmt"
	"strconv"
)

// DefaultTimestampPadWidth is the fixed width a millisecond timestamp
// is zero-padded to so that lexicographic order over the encoded key
// matches numeric order. 13 digits covers ms epoch time through the
// year 2286.
const DefaultTimestampPadWidth = 13

// EncodeOrderedKey builds the `pad(timestamp, W) || "-" || suffix` key
// used by both the queue's secondary index and the observer's event log.
func EncodeOrderedKey(width int, timestampMs int64, suffix string) string {
	return fmt.Sprintf("%0*d-%s", width, timestampMs, suffix)
}

// StartKeyForTimestamp builds the scan lower bound for a given
// timestamp, i.e. the smallest key any entry at or after that timestamp
// could have.
func StartKeyForTimestamp(width int, timestampMs int64) string {
	if timestampMs < 0 {
		timestampMs = 0
	}
	return fmt.Sprintf("%0*d", width, timestampMs)
}

// SplitOrderedKey reverses EncodeOrderedKey, recovering the timestamp and
// suffix. The timestamp occupies exactly the first `width` characters;
// the separator is the character immediately after it.
func SplitOrderedKey(width int, key string) (timestampMs int64, suffix string, err error) {
	if len(key) < width+1 {
		return 0, "", fmt.Errorf("persistence: key %q shorter than pad width %d", key, width)
	}
	tsPart := key[:width]
	sep := key[width]
	if sep != '-' {
		return 0, "", fmt.Errorf("persistence: key %q missing separator at offset %d", key, width)
	}
	ts, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("persistence: key %q has non-numeric timestamp: %w", key, err)
	}
	return ts, key[width+1:], nil
}
