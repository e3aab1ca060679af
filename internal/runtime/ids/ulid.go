package ids

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// DefaultTokenPrefix is prepended to correlation tokens when no prefix is configured.
const DefaultTokenPrefix = "task"

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// CreateULID returns a time-sortable ULID encoded as a 26-character string.
func CreateULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return id.String()
}

// NewCorrelationToken returns "<prefix>_<ULID>". The monotonic entropy source
// guarantees uniqueness within the process even for calls in the same millisecond.
func NewCorrelationToken(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultTokenPrefix
	}
	return prefix + "_" + CreateULID()
}

// InstanceQueue derives a queue name that is unique to this process, used for
// per-instance reply queues.
func InstanceQueue(base string) string {
	return base + "." + uuid.NewString()
}
