package analysis

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

const DefaultFingerprintPrefix = 100

// Fingerprint derives the cache key of an image payload from its first prefix bytes and
// its total length. It is a cost-avoidance key, not an integrity check: two different
// images sharing a prefix and a length collide. A prefix <= 0 digests the whole payload.
func Fingerprint(payload []byte, prefix int) string {
	head := payload
	if prefix > 0 && len(head) > prefix {
		head = head[:prefix]
	}
	return fmt.Sprintf("%016x-%d", xxhash.Sum64(head), len(payload))
}
