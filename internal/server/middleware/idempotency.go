package middleware

import (
	"bytes"
	"net/http"
	"sync"
	"time"
)

// IdempotencyHeader carries the client-chosen key of a retryable POST.
const IdempotencyHeader = "Idempotency-Key"

// IdempotencyCache remembers the response to each idempotency key for a TTL
// so a retried purchase or transfer replays the first answer instead of
// submitting a second settlement. It is safe for concurrent use.
type IdempotencyCache struct {
	entries   map[string]*idempotentEntry
	ttl       time.Duration
	lastSweep time.Time
	mu        sync.Mutex
}

type idempotentEntry struct {
	seen   time.Time
	done   bool
	status int
	header http.Header
	body   []byte
}

// NewIdempotencyCache creates a cache that keeps responses for ttl.
func NewIdempotencyCache(ttl time.Duration) *IdempotencyCache {
	return &IdempotencyCache{
		entries:   make(map[string]*idempotentEntry),
		ttl:       ttl,
		lastSweep: time.Now(),
	}
}

// begin returns the stored entry for key, or records key as in flight and
// returns nil.
func (c *IdempotencyCache) begin(key string) *idempotentEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if now.Sub(c.lastSweep) >= c.ttl {
		c.sweepLocked(now)
	}
	if e, ok := c.entries[key]; ok && now.Sub(e.seen) < c.ttl {
		return e
	}
	c.entries[key] = &idempotentEntry{seen: now}
	return nil
}

func (c *IdempotencyCache) finish(key string, status int, header http.Header, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// 5xx answers are not final; the client may retry with the same key.
	if status >= http.StatusInternalServerError {
		delete(c.entries, key)
		return
	}
	if e, ok := c.entries[key]; ok {
		e.done = true
		e.status = status
		e.header = header
		e.body = body
	}
}

// Cleanup removes entries older than the TTL.
func (c *IdempotencyCache) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked(time.Now())
}

func (c *IdempotencyCache) sweepLocked(now time.Time) {
	for key, e := range c.entries {
		if now.Sub(e.seen) >= c.ttl {
			delete(c.entries, key)
		}
	}
	c.lastSweep = now
}

// Idempotency replays the stored response for a repeated Idempotency-Key on
// the same route and client. Requests without the header pass through. A
// repeat that arrives while the first is still running gets 409.
func Idempotency(cache *IdempotencyCache) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if cache == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			idem := r.Header.Get(IdempotencyHeader)
			if idem == "" {
				next.ServeHTTP(w, r)
				return
			}
			key := clientKey(r) + " " + r.Method + " " + r.URL.Path + " " + idem

			if e := cache.begin(key); e != nil {
				if !e.done {
					writeJSONError(w, http.StatusConflict, "request with this idempotency key is in progress")
					return
				}
				for k, vs := range e.header {
					w.Header()[k] = vs
				}
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(e.status)
				w.Write(e.body)
				return
			}

			rec := &recordingWriter{ResponseWriter: w, status: http.StatusOK}
			completed := false
			defer func() {
				// A panicking handler must not leave the key stuck in flight.
				if !completed {
					cache.finish(key, http.StatusInternalServerError, nil, nil)
				}
			}()
			next.ServeHTTP(rec, r)
			completed = true

			header := make(http.Header)
			if ct := w.Header().Get("Content-Type"); ct != "" {
				header.Set("Content-Type", ct)
			}
			cache.finish(key, rec.status, header, rec.body.Bytes())
		})
	}
}

// recordingWriter copies the status and body it forwards.
type recordingWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (rw *recordingWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *recordingWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}
