package channels

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxTrackedChats caps the limiter map so rotating chat ids cannot exhaust
// memory.
const maxTrackedChats = 4096

// ChatLimiter rate-limits inbound work per chat. Each chat gets a token
// bucket; the zero-value limits are one message per two seconds with a
// burst of five.
type ChatLimiter struct {
	mu       sync.Mutex
	limiters map[string]*chatEntry
	limit    rate.Limit
	burst    int
}

type chatEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewChatLimiter() *ChatLimiter {
	return &ChatLimiter{
		limiters: make(map[string]*chatEntry),
		limit:    rate.Every(2 * time.Second),
		burst:    5,
	}
}

// Allow reports whether a message from the chat may proceed now.
func (l *ChatLimiter) Allow(jid string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.limiters) >= maxTrackedChats {
		l.evictStale()
	}
	e, ok := l.limiters[jid]
	if !ok {
		e = &chatEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[jid] = e
	}
	e.lastSeen = time.Now()
	return e.limiter.Allow()
}

// evictStale drops entries idle for over an hour, then oldest-first until
// under the cap. Caller holds l.mu.
func (l *ChatLimiter) evictStale() {
	cutoff := time.Now().Add(-time.Hour)
	for k, e := range l.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(l.limiters, k)
		}
	}
	for len(l.limiters) >= maxTrackedChats {
		var oldest string
		var oldestSeen time.Time
		for k, e := range l.limiters {
			if oldest == "" || e.lastSeen.Before(oldestSeen) {
				oldest = k
				oldestSeen = e.lastSeen
			}
		}
		delete(l.limiters, oldest)
	}
}
