package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"

	"budget/internal/cache"
	"budget/internal/identity"
	applog "budget/internal/log"
)

const (
	// IdempotencyHeader is the standard HTTP header for idempotency keys
	IdempotencyHeader = "Idempotency-Key"

	// IdempotencyCacheTTL is the default lifetime of a stored response.
	IdempotencyCacheTTL = 24 * time.Hour

	// lockGrace is how long a key stays locked past the request deadline.
	lockGrace = 5 * time.Second

	responseKeyPrefix = "idempotency:"
	lockKeyPrefix     = "lock:"

	maxIdempotencyKeyLength = 255
)

// storedResponse is the replayable outcome of a completed request.
type storedResponse struct {
	Status   int    `json:"status"`
	Location string `json:"location,omitempty"`
	Body     []byte `json:"body"`
}

// IdempotencyStore remembers successful responses per key and serializes
// concurrent requests carrying the same key.
type IdempotencyStore interface {
	Lookup(ctx context.Context, key string) (storedResponse, bool, error)
	Save(ctx context.Context, key string, resp storedResponse) error
	// Lock reports false when another request holds key. The lock lapses
	// after ttl if it is never released.
	Lock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// RedisIdempotencyStore shares keys across server instances.
type RedisIdempotencyStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisIdempotencyStore(rdb *redis.Client, ttl time.Duration) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{rdb: rdb, ttl: ttl}
}

func (s *RedisIdempotencyStore) Lookup(ctx context.Context, key string) (storedResponse, bool, error) {
	raw, err := s.rdb.Get(ctx, responseKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return storedResponse{}, false, nil
	}
	if err != nil {
		return storedResponse{}, false, fmt.Errorf("get idempotent response: %w", err)
	}
	var resp storedResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return storedResponse{}, false, fmt.Errorf("decode idempotent response: %w", err)
	}
	return resp, true, nil
}

func (s *RedisIdempotencyStore) Save(ctx context.Context, key string, resp storedResponse) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode idempotent response: %w", err)
	}
	return s.rdb.Set(ctx, responseKeyPrefix+key, raw, s.ttl).Err()
}

func (s *RedisIdempotencyStore) Lock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, lockKeyPrefix+key, "processing", ttl).Result()
}

func (s *RedisIdempotencyStore) Unlock(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, lockKeyPrefix+key).Err()
}

// MemoryIdempotencyStore keeps keys in process. It is used when no Redis is
// configured and only deduplicates requests reaching the same instance.
type MemoryIdempotencyStore struct {
	responses *cache.LRUCache[storedResponse]
	locks     *cache.LRUCache[struct{}]
	ttl       time.Duration
}

func NewMemoryIdempotencyStore(maxKeys int, ttl time.Duration) *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		responses: cache.NewLRUCache[storedResponse](maxKeys),
		locks:     cache.NewLRUCache[struct{}](maxKeys),
		ttl:       ttl,
	}
}

func (s *MemoryIdempotencyStore) Lookup(_ context.Context, key string) (storedResponse, bool, error) {
	resp, ok := s.responses.Get(key)
	return resp, ok, nil
}

func (s *MemoryIdempotencyStore) Save(_ context.Context, key string, resp storedResponse) error {
	s.responses.Set(key, resp, s.ttl)
	return nil
}

func (s *MemoryIdempotencyStore) Lock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	return s.locks.Add(key, struct{}{}, ttl), nil
}

func (s *MemoryIdempotencyStore) Unlock(_ context.Context, key string) error {
	s.locks.Delete(key)
	return nil
}

// recordingWriter captures the status and body written by the handler.
type recordingWriter struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (rw *recordingWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *recordingWriter) Write(b []byte) (int, error) {
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}

// Idempotency replays the stored response for a repeated Idempotency-Key and
// rejects a repeat that arrives while the first is still running. Keys are
// scoped per user, so it must run after authentication. Requests without the
// header pass through unchanged. Only 2xx responses are stored, so a failed
// request can be retried with the same key.
//
// The handler runs with a deadline of timeout, and the key stays locked a
// little longer than that, so a duplicate cannot slip in while the first
// request is still writing.
func Idempotency(store IdempotencyStore, timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyHeader)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxIdempotencyKeyLength {
				writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "idempotency key too long"})
				return
			}
			userID, ok := identity.UserID(r.Context())
			if !ok {
				writeError(w, r, identity.ErrUnauthenticated)
				return
			}

			ctx := r.Context()
			logger := applog.FromContext(ctx)
			scoped := fmt.Sprintf("%d:%s", userID, key)

			replay := func() bool {
				resp, found, err := store.Lookup(ctx, scoped)
				if err != nil {
					logger.ErrorContext(ctx, "Idempotency lookup failed", applog.FieldError, err)
					writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "idempotency store unavailable"})
					return true
				}
				if !found {
					return false
				}
				logger.DebugContext(ctx, "Replaying idempotent response", applog.FieldUserID, userID)
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Idempotent-Replayed", "true")
				if resp.Location != "" {
					w.Header().Set("Location", resp.Location)
				}
				w.WriteHeader(resp.Status)
				_, _ = w.Write(resp.Body)
				return true
			}
			if replay() {
				return
			}

			acquired, err := store.Lock(ctx, scoped, timeout+lockGrace)
			if err != nil {
				logger.ErrorContext(ctx, "Idempotency lock failed", applog.FieldError, err)
				writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "idempotency store unavailable"})
				return
			}
			if !acquired {
				writeJSON(w, http.StatusConflict, errorResponse{Error: "a request with this idempotency key is in progress"})
				return
			}
			// Release with a fresh context so a cancelled request still frees the key.
			defer func() {
				if err := store.Unlock(context.WithoutCancel(ctx), scoped); err != nil {
					logger.WarnContext(ctx, "Idempotency unlock failed", applog.FieldError, err)
				}
			}()
			// A previous holder may have saved its response between lookup and lock.
			if replay() {
				return
			}

			handlerCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			rec := &recordingWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(handlerCtx))

			if rec.statusCode >= 200 && rec.statusCode < 300 {
				resp := storedResponse{
					Status:   rec.statusCode,
					Location: rec.Header().Get("Location"),
					Body:     rec.body.Bytes(),
				}
				if err := store.Save(context.WithoutCancel(ctx), scoped, resp); err != nil {
					logger.WarnContext(ctx, "Idempotency save failed", applog.FieldError, err)
				}
			}
		})
	}
}
