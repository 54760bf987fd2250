// Package identity hands out the sender identifiers that receivers expect to
// stay stable for a while: AirPlay session and device ids keyed per receiver.
package identity

import (
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	ttlworker "github.com/FloatTech/ttl"
	"github.com/google/uuid"
)

// DefaultTTL is how long an identifier is reused after its last lookup.
const DefaultTTL = 3600 * time.Second

var (
	once     sync.Once
	sessions *ttlworker.Cache[string, string]
	deviceID string
	// mu covers the lookup and the insert of SessionID together.
	mu sync.Mutex
)

func cache() *ttlworker.Cache[string, string] {
	once.Do(func() {
		sessions = ttlworker.NewCache[string, string](DefaultTTL)
		deviceID = newDeviceID()
	})
	return sessions
}

// SessionID returns the session id for key, creating one on first use or
// after the previous one expired.
func SessionID(key string) string {
	c := cache()
	mu.Lock()
	defer mu.Unlock()
	if id := c.Get(key); id != "" {
		return id
	}
	id := strings.ToUpper(uuid.NewString())
	c.Set(key, id)
	return id
}

// Forget drops the session id for key so the next lookup creates a new one.
func Forget(key string) {
	c := cache()
	mu.Lock()
	defer mu.Unlock()
	c.Delete(key)
}

// DeviceID returns the process wide sender device id, a MAC style string.
func DeviceID() string {
	cache()
	return deviceID
}

func newDeviceID() string {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		u := uuid.New()
		copy(b[:], u[:6])
	}
	// Locally administered unicast.
	b[0] = b[0]&0xFC | 0x02
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", b[0], b[1], b[2], b[3], b[4], b[5])
}
