package dispatcher

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Limit throttles traffic to one counterparty.
type Limit struct {
	// Counterparty is the address the limit applies to. Only its scheme
	// and host are significant. It is ignored for the default limit.
	Counterparty string

	// Rate is the sustained messages per second. Zero disables rate
	// limiting.
	Rate float64

	// Burst is the token-bucket burst size. Defaults to 1 if Rate is set
	// but Burst is zero.
	Burst int

	// MaxInFlight caps concurrent sends. Zero means no cap.
	MaxInFlight int
}

// peerState tracks runtime state for a single counterparty.
type peerState struct {
	limit    Limit
	bucket   *rate.Limiter
	inflight *semaphore.Weighted
	active   int
	pinned   bool // explicit limit, never evicted
	lastUsed time.Time
}

func newPeerState(l Limit, pinned bool) *peerState {
	ps := &peerState{limit: l, pinned: pinned}
	if l.Rate > 0 {
		burst := l.Burst
		if burst <= 0 {
			burst = 1
		}
		ps.bucket = rate.NewLimiter(rate.Limit(l.Rate), burst)
	}
	if l.MaxInFlight > 0 {
		ps.inflight = semaphore.NewWeighted(int64(l.MaxInFlight))
	}
	return ps
}

// refill returns how long an unused bucket takes to fill back to its burst.
func (ps *peerState) refill() time.Duration {
	if ps.bucket == nil {
		return 0
	}
	return time.Duration(float64(ps.bucket.Burst()) / ps.limit.Rate * float64(time.Second))
}

// DefaultPeerIdleTTL is how long a counterparty on the default limit may
// stay unused before its state is dropped.
const DefaultPeerIdleTTL = 10 * time.Minute

// Limiter enforces per-counterparty rate limits and in-flight caps.
// Counterparties are keyed by scheme and host. Every counterparty without
// an explicit Limit gets its own bucket configured from the default; that
// state is evicted once idle for the idle TTL and its bucket is full
// again, so eviction never loosens the limit. It is safe for concurrent use.
type Limiter struct {
	mu        sync.Mutex
	def       Limit
	peers     map[string]*peerState
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// NewLimiter creates a Limiter with a default limit and per-counterparty
// overrides.
func NewLimiter(def Limit, overrides ...Limit) *Limiter {
	l := &Limiter{
		def:     def,
		peers:   make(map[string]*peerState, len(overrides)),
		idleTTL: DefaultPeerIdleTTL,
		now:     time.Now,
	}
	l.lastSweep = l.now()
	for _, o := range overrides {
		l.peers[peerKey(o.Counterparty)] = newPeerState(o, true)
	}
	return l
}

// SetIdleTTL changes how long default-limit counterparties are kept while
// unused.
func (l *Limiter) SetIdleTTL(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.idleTTL = d
}

// peerKey reduces a counterparty address to scheme://host. Addresses that
// do not parse as absolute URLs are used as is.
func peerKey(counterparty string) string {
	u, err := url.Parse(counterparty)
	if err != nil || u.Host == "" {
		return counterparty
	}
	return u.Scheme + "://" + u.Host
}

func (l *Limiter) peer(counterparty string) *peerState {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	key := peerKey(counterparty)
	ps := l.peers[key]
	if ps == nil {
		l.sweepLocked(now)
		def := l.def
		def.Counterparty = key
		ps = newPeerState(def, false)
		l.peers[key] = ps
	}
	ps.lastUsed = now
	return ps
}

// sweepLocked drops idle default-limit peers, at most once per idle TTL.
func (l *Limiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < l.idleTTL {
		return
	}
	l.lastSweep = now
	for key, ps := range l.peers {
		if ps.pinned || ps.active > 0 {
			continue
		}
		if idle := now.Sub(ps.lastUsed); idle >= l.idleTTL && idle >= ps.refill() {
			delete(l.peers, key)
		}
	}
}

// Peers returns the number of counterparties with tracked state.
func (l *Limiter) Peers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.peers)
}

// Acquire blocks until a message may be sent to counterparty or ctx is
// done. On success the caller MUST call the returned release func when the
// send completes.
func (l *Limiter) Acquire(ctx context.Context, counterparty string) (func(), error) {
	ps := l.peer(counterparty)

	if ps.bucket != nil {
		if err := ps.bucket.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit %s: %w", counterparty, err)
		}
	}
	if ps.inflight != nil {
		if err := ps.inflight.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("in-flight cap %s: %w", counterparty, err)
		}
	}

	l.mu.Lock()
	ps.active++
	ps.lastUsed = l.now()
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			if ps.active > 0 {
				ps.active--
			}
			ps.lastUsed = l.now()
			l.mu.Unlock()
			if ps.inflight != nil {
				ps.inflight.Release(1)
			}
		})
	}, nil
}

// SetLimit replaces the limit for lim.Counterparty. Sends already holding
// a slot release it against the previous limit.
func (l *Limiter) SetLimit(lim Limit) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.peers[peerKey(lim.Counterparty)] = newPeerState(lim, true)
}

// InFlight returns the number of sends currently holding a slot for
// counterparty under its current limit.
func (l *Limiter) InFlight(counterparty string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ps := l.peers[peerKey(counterparty)]; ps != nil {
		return ps.active
	}
	return 0
}
