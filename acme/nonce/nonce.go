// Package nonce implements the namespaced nonce pool described as the
// hardest piece of this client: it amortizes anti-replay nonce acquisition
// across concurrent signed requests, coalescing refills per namespace with
// golang.org/x/sync/singleflight, enforcing a bounded pool with lazy expiry,
// and satisfying waiters in FIFO order.
package nonce

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/acmego/acmeclient/acme/problems"
)

// FetchFunc retrieves one fresh nonce from the CA, typically a HEAD
// newNonce request wrapped by the rate limiter (C2). It should return the
// raw Replay-Nonce header value.
type FetchFunc func(ctx context.Context) (string, error)

// Config tunes a Manager. Zero values take the documented defaults.
type Config struct {
	Fetch FetchFunc

	// MaxAge is how long a pooled nonce remains eligible to be handed out.
	// Default 120s.
	MaxAge time.Duration
	// MaxPool caps pooled nonces per namespace; oldest entries are dropped
	// on overflow. Default 32.
	MaxPool int
	// PrefetchLowWater, if > 0, triggers a refill once the pool drops below
	// it even with no waiters. Default 0 (disabled).
	PrefetchLowWater int
	// PrefetchHighWater is the refill loop's stopping point once prefetching.
	// Must be >= PrefetchLowWater when prefetch is enabled.
	PrefetchHighWater int
	// TakeTimeout bounds how long a single take() call waits for a nonce.
	// Default 30s.
	TakeTimeout time.Duration
	// RefillWatchdog bounds a single refill cycle. Default 10s.
	RefillWatchdog time.Duration
}

func (c *Config) setDefaults() {
	if c.MaxAge <= 0 {
		c.MaxAge = 120 * time.Second
	}
	if c.MaxPool <= 0 {
		c.MaxPool = 32
	}
	if c.TakeTimeout <= 0 {
		c.TakeTimeout = 30 * time.Second
	}
	if c.RefillWatchdog <= 0 {
		c.RefillWatchdog = 10 * time.Second
	}
}

type entry struct {
	value string
	ts    time.Time
}

type waiter struct {
	ch chan waitResult
}

type waitResult struct {
	value string
	err   error
}

type namespaceState struct {
	mu      sync.Mutex
	pool    []entry
	seen    map[string]struct{}
	waiters []*waiter
}

// Manager is a namespaced nonce pool. The zero value is not usable; use New.
type Manager struct {
	conf  Config
	group singleflight.Group

	mu         sync.Mutex
	namespaces map[string]*namespaceState
	cleanedUp  bool
}

// New builds a Manager from Config.
func New(conf Config) *Manager {
	conf.setDefaults()
	return &Manager{
		conf:       conf,
		namespaces: map[string]*namespaceState{},
	}
}

func (m *Manager) stateFor(namespace string) (*namespaceState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cleanedUp {
		return nil, problems.ErrNonceManagerCleanedUp
	}
	ns, ok := m.namespaces[namespace]
	if !ok {
		ns = &namespaceState{seen: map[string]struct{}{}}
		m.namespaces[namespace] = ns
	}
	return ns, nil
}

// dropExpiredLocked discards pooled entries older than MaxAge. Callers must
// hold ns.mu.
func (m *Manager) dropExpiredLocked(ns *namespaceState) {
	if len(ns.pool) == 0 {
		return
	}
	now := time.Now()
	fresh := ns.pool[:0]
	for _, e := range ns.pool {
		if now.Sub(e.ts) > m.conf.MaxAge {
			delete(ns.seen, e.value)
			continue
		}
		fresh = append(fresh, e)
	}
	ns.pool = fresh
}

// insertLocked adds value to the pool if not already present, enforcing
// MaxPool by dropping the oldest entry on overflow. Callers must hold ns.mu.
func (m *Manager) insertLocked(ns *namespaceState, value string) {
	if _, dup := ns.seen[value]; dup {
		return
	}
	ns.seen[value] = struct{}{}
	ns.pool = append(ns.pool, entry{value: value, ts: time.Now()})
	for len(ns.pool) > m.conf.MaxPool {
		oldest := ns.pool[0]
		delete(ns.seen, oldest.value)
		ns.pool = ns.pool[1:]
	}
}

// takeLocked pops the freshest non-expired nonce, if any. Callers must hold
// ns.mu and must have already called dropExpiredLocked.
func (m *Manager) takeLocked(ns *namespaceState) (string, bool) {
	if len(ns.pool) == 0 {
		return "", false
	}
	last := len(ns.pool) - 1
	e := ns.pool[last]
	ns.pool = ns.pool[:last]
	delete(ns.seen, e.value)
	return e.value, true
}

// drainWaitersLocked satisfies as many queued waiters, in FIFO order, as
// there are pooled nonces. Callers must hold ns.mu.
func (m *Manager) drainWaitersLocked(ns *namespaceState) {
	for len(ns.waiters) > 0 {
		value, ok := m.takeLocked(ns)
		if !ok {
			return
		}
		w := ns.waiters[0]
		ns.waiters = ns.waiters[1:]
		w.ch <- waitResult{value: value}
		close(w.ch)
	}
}

// rejectWaitersLocked fails every currently queued waiter with err. Callers
// must hold ns.mu.
func (m *Manager) rejectWaitersLocked(ns *namespaceState, err error) {
	for _, w := range ns.waiters {
		w.ch <- waitResult{err: err}
		close(w.ch)
	}
	ns.waiters = nil
}

// Take returns the freshest pooled nonce for namespace, triggering (and
// possibly waiting on) a refill if the pool is empty.
func (m *Manager) Take(ctx context.Context, namespace string) (string, error) {
	ns, err := m.stateFor(namespace)
	if err != nil {
		return "", err
	}

	ns.mu.Lock()
	m.dropExpiredLocked(ns)
	if value, ok := m.takeLocked(ns); ok {
		ns.mu.Unlock()
		return value, nil
	}

	w := &waiter{ch: make(chan waitResult, 1)}
	ns.waiters = append(ns.waiters, w)
	ns.mu.Unlock()

	go m.ensureRefilling(namespace)

	timeout := time.NewTimer(m.conf.TakeTimeout)
	defer timeout.Stop()

	select {
	case res := <-w.ch:
		if res.err != nil {
			return "", res.err
		}
		return res.value, nil
	case <-timeout.C:
		return m.dequeueAndFail(ns, w, problems.ErrNonceTimeout)
	case <-ctx.Done():
		return m.dequeueAndFail(ns, w, ctx.Err())
	}
}

// removeWaiterLocked removes w from ns.waiters if still present, reporting
// whether it found (and removed) it. Callers must hold ns.mu.
func (m *Manager) removeWaiterLocked(ns *namespaceState, w *waiter) bool {
	for i, cur := range ns.waiters {
		if cur == w {
			ns.waiters = append(ns.waiters[:i], ns.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// dequeueAndFail cleanly dequeues w on a Take timeout or cancellation,
// preventing a nonce handed to it by a later drain/reject from being lost
// (and a dead waiter from blocking FIFO delivery to live ones). If w was
// concurrently satisfied before it could be removed, its result was already
// sent by the same critical section that removed it from the queue, so it
// is honored instead of failErr.
func (m *Manager) dequeueAndFail(ns *namespaceState, w *waiter, failErr error) (string, error) {
	ns.mu.Lock()
	removed := m.removeWaiterLocked(ns, w)
	ns.mu.Unlock()
	if !removed {
		res := <-w.ch
		if res.err != nil {
			return "", res.err
		}
		return res.value, nil
	}
	return "", failErr
}

// Harvest inserts any Replay-Nonce values carried by header into namespace's
// pool and attempts to satisfy queued waiters.
func (m *Manager) Harvest(namespace string, header http.Header) {
	values := header.Values("Replay-Nonce")
	if len(values) == 0 {
		return
	}
	ns, err := m.stateFor(namespace)
	if err != nil {
		return
	}
	ns.mu.Lock()
	defer ns.mu.Unlock()
	for _, v := range values {
		if v == "" {
			continue
		}
		m.insertLocked(ns, v)
	}
	m.drainWaitersLocked(ns)
}

// ensureRefilling runs the refill loop for namespace, coalesced across
// concurrent callers via singleflight so at most one loop is in flight per
// namespace at a time.
func (m *Manager) ensureRefilling(namespace string) {
	m.group.Do(namespace, func() (any, error) {
		m.refill(namespace)
		return nil, nil
	})
}

func (m *Manager) refill(namespace string) {
	ns, err := m.stateFor(namespace)
	if err != nil {
		return
	}

	hardCap := m.conf.MaxPool
	if hardCap < 8 {
		hardCap = 8
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.conf.RefillWatchdog)
	defer cancel()

	for iteration := 0; iteration < hardCap; iteration++ {
		ns.mu.Lock()
		m.dropExpiredLocked(ns)
		queueNeed := len(ns.waiters) > 0
		poolLen := len(ns.pool)
		need := queueNeed || (m.conf.PrefetchLowWater > 0 && poolLen < m.conf.PrefetchLowWater)
		if !need {
			ns.mu.Unlock()
			return
		}
		if m.conf.PrefetchHighWater > 0 && poolLen >= m.conf.PrefetchHighWater {
			ns.mu.Unlock()
			return
		}
		if poolLen >= m.conf.MaxPool {
			ns.mu.Unlock()
			return
		}
		ns.mu.Unlock()

		value, err := m.conf.Fetch(ctx)
		if err != nil {
			ns.mu.Lock()
			m.rejectWaitersLocked(ns, mapRefillError(ctx, err))
			ns.mu.Unlock()
			return
		}

		ns.mu.Lock()
		m.insertLocked(ns, value)
		m.drainWaitersLocked(ns)
		ns.mu.Unlock()
	}

	ns.mu.Lock()
	m.rejectWaitersLocked(ns, problems.ErrRefillTimeout)
	ns.mu.Unlock()
}

func mapRefillError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return problems.ErrRefillTimeout
	}
	if p, ok := err.(*problems.Problem); ok && p.Kind == problems.RateLimited.Kind {
		return err
	}
	return err
}

// WithNonceRetry takes a nonce, invokes f, and retries on a badNonce problem
// response up to maxAttempts times. A transport-level error from f
// propagates immediately; any other problem type is returned for the caller
// to map.
func (m *Manager) WithNonceRetry(ctx context.Context, namespace string, maxAttempts int, f func(nonceValue string) (*Response, error)) (*Response, error) {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	var last *Response
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		nonceValue, err := m.Take(ctx, namespace)
		if err != nil {
			return nil, err
		}

		resp, err := f(nonceValue)
		if err != nil {
			return nil, err
		}

		m.Harvest(namespace, resp.Header)
		last = resp

		if resp.IsProblem && problems.IsBadNonceType(resp.ProblemType) && attempt < maxAttempts {
			continue
		}
		return resp, nil
	}
	return last, nil
}

// Response is the minimal shape WithNonceRetry needs to decide whether to
// retry, decoupling this package from acme/transport.
type Response struct {
	Header      http.Header
	IsProblem   bool
	ProblemType string
}

// Cleanup rejects all outstanding waiters across every namespace with a
// cancellation error and empties all pools. Idempotent; the manager is
// unusable afterward and subsequent Take calls fail fast.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	if m.cleanedUp {
		m.mu.Unlock()
		return
	}
	m.cleanedUp = true
	namespaces := m.namespaces
	m.namespaces = map[string]*namespaceState{}
	m.mu.Unlock()

	for name, ns := range namespaces {
		ns.mu.Lock()
		m.rejectWaitersLocked(ns, fmt.Errorf("nonce: namespace %q: %w", name, problems.ErrNonceManagerCleanedUp))
		ns.pool = nil
		ns.seen = map[string]struct{}{}
		ns.mu.Unlock()
	}
}
