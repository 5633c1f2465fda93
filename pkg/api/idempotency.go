package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"
)

var (
	// ErrIdempotencyInFlight: another request with the same key is running.
	ErrIdempotencyInFlight = errors.New("api: idempotent request in flight")
	// ErrIdempotencyMismatch: the key was first used with a different body.
	ErrIdempotencyMismatch = errors.New("api: idempotency key reused with a different request")
)

// StoredResponse is a completed response kept for replay.
type StoredResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// IdempotencyStore reserves keys while their request runs and keeps the
// successful responses for replay.
type IdempotencyStore interface {
	// Begin reserves key for a request whose body hashes to digest. It
	// returns the stored response when the request already completed.
	Begin(key, digest string) (*StoredResponse, error)
	// Finish stores resp under key, or drops the reservation when resp is nil.
	Finish(key string, resp *StoredResponse)
}

type idempotencyEntry struct {
	digest  string
	resp    *StoredResponse // nil while the request runs
	created time.Time
}

// MemoryIdempotencyStore is an in-process IdempotencyStore.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]*idempotencyEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewIdempotencyStore creates an in-memory store. Expired entries are
// evicted until ctx is done.
func NewIdempotencyStore(ctx context.Context, ttl time.Duration) *MemoryIdempotencyStore {
	s := &MemoryIdempotencyStore{
		entries: make(map[string]*idempotencyEntry),
		ttl:     ttl,
		now:     time.Now,
	}
	go s.cleanup(ctx)
	return s
}

func (s *MemoryIdempotencyStore) cleanup(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.evict()
		}
	}
}

func (s *MemoryIdempotencyStore) evict() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, e := range s.entries {
		if e.resp != nil && now.Sub(e.created) >= s.ttl {
			delete(s.entries, k)
		}
	}
}

func (s *MemoryIdempotencyStore) Begin(key, digest string) (*StoredResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if ok && e.resp != nil && s.now().Sub(e.created) >= s.ttl {
		ok = false
	}
	switch {
	case !ok:
		s.entries[key] = &idempotencyEntry{digest: digest, created: s.now()}
		return nil, nil
	case e.digest != digest:
		return nil, ErrIdempotencyMismatch
	case e.resp == nil:
		return nil, ErrIdempotencyInFlight
	default:
		return e.resp, nil
	}
}

func (s *MemoryIdempotencyStore) Finish(key string, resp *StoredResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return
	}
	if resp == nil {
		delete(s.entries, key)
		return
	}
	e.resp, e.created = resp, s.now()
}

// responseCapture wraps http.ResponseWriter to capture the response.
type responseCapture struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (rc *responseCapture) WriteHeader(code int) {
	rc.statusCode = code
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	rc.body.Write(b)
	return rc.ResponseWriter.Write(b)
}

// idempotencyKey scopes the client key by method, path and the user_id of
// a JSON body, so two users sending the same key never share a response.
// digest is the body hash used to detect key reuse.
func idempotencyKey(r *http.Request, clientKey string, body []byte) (key, digest string) {
	var subject struct {
		UserID string `json:"user_id"`
	}
	_ = json.Unmarshal(body, &subject)
	sum := sha256.Sum256(body)
	return r.Method + " " + r.URL.Path + " " + subject.UserID + " " + clientKey, hex.EncodeToString(sum[:])
}

// IdempotencyMiddleware runs a mutating request carrying an Idempotency-Key
// at most once, so a retried reading is not charged twice. A completed 2xx
// response is replayed to duplicates; a duplicate arriving while the first
// request runs gets 409, and a key reused with another body gets 422.
// Failed requests release the key.
func IdempotencyMiddleware(store IdempotencyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodPatch {
				next.ServeHTTP(w, r)
				return
			}
			clientKey := r.Header.Get("Idempotency-Key")
			if clientKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
			if err != nil {
				WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "Unreadable request body")
				return
			}
			if len(body) > maxBodyBytes {
				// Too large to key; the handler rejects it.
				r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), r.Body))
				next.ServeHTTP(w, r)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			key, digest := idempotencyKey(r, clientKey, body)
			stored, err := store.Begin(key, digest)
			switch {
			case errors.Is(err, ErrIdempotencyInFlight):
				writeProblem(w, &ProblemDetail{
					Type: problemType(http.StatusConflict), Title: "Conflict", Status: http.StatusConflict,
					Detail: err.Error(), Instance: r.URL.Path, Code: "idempotency_in_flight",
					TraceID: w.Header().Get("X-Request-ID"),
				})
				return
			case errors.Is(err, ErrIdempotencyMismatch):
				writeProblem(w, &ProblemDetail{
					Type: problemType(http.StatusUnprocessableEntity), Title: "Unprocessable Entity", Status: http.StatusUnprocessableEntity,
					Detail: err.Error(), Instance: r.URL.Path, Code: "idempotency_mismatch",
					TraceID: w.Header().Get("X-Request-ID"),
				})
				return
			case stored != nil:
				for k, vals := range stored.Headers {
					if k == "X-Request-Id" {
						continue
					}
					for _, v := range vals {
						w.Header().Set(k, v)
					}
				}
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(stored.StatusCode)
				_, _ = w.Write(stored.Body)
				return
			}

			capture := &responseCapture{ResponseWriter: w, statusCode: http.StatusOK}
			completed := false
			defer func() {
				if completed && capture.statusCode >= 200 && capture.statusCode < 300 {
					store.Finish(key, &StoredResponse{
						StatusCode: capture.statusCode,
						Headers:    w.Header().Clone(),
						Body:       bytes.Clone(capture.body.Bytes()),
					})
					return
				}
				store.Finish(key, nil)
			}()
			next.ServeHTTP(capture, r)
			completed = true
		})
	}
}
