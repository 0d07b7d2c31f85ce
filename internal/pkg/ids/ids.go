// Package ids generates prefixed, time-sortable identifiers such as
// "task_1rK5iq3fZ0aB7cD9eF1gH2".
package ids

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// randomLength is the number of random base62 characters after the timestamp
const randomLength = 18

// EncodeTimestamp encodes Unix seconds as a 6-character base62 string.
// Output sorts lexicographically in time order.
func EncodeTimestamp(seconds int64) string {
	n := seconds
	result := make([]byte, 6)
	for i := 5; i >= 0; i-- {
		result[i] = base62Alphabet[n%62]
		n /= 62
	}
	return string(result)
}

// randomBase62 draws random characters from v4 UUIDs, rejecting values >= 62
// so every character is uniformly distributed.
func randomBase62(length int) string {
	var sb strings.Builder
	sb.Grow(length)
	for sb.Len() < length {
		u := uuid.New()
		for _, b := range u {
			v := b & 0x3f
			if v < 62 {
				sb.WriteByte(base62Alphabet[v])
				if sb.Len() == length {
					break
				}
			}
		}
	}
	return sb.String()
}

// New returns prefix + "_" + timestamp + random suffix
func New(prefix string) string {
	return NewAt(prefix, time.Now())
}

// NewAt is New with an explicit timestamp
func NewAt(prefix string, at time.Time) string {
	return prefix + "_" + EncodeTimestamp(at.Unix()) + randomBase62(randomLength)
}
