package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeRedis is an in-memory stand-in for the RedisClient interface. It
// honors TTLs by timestamp comparison on read rather than by eviction.
type fakeRedis struct {
	mu     sync.Mutex
	data   map[string][]byte
	sets   map[string]map[string]struct{}
	expiry map[string]time.Time
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		data:   make(map[string][]byte),
		sets:   make(map[string]map[string]struct{}),
		expiry: make(map[string]time.Time),
	}
}

func (f *fakeRedis) live(key string) bool {
	if deadline, ok := f.expiry[key]; ok && time.Now().After(deadline) {
		return false
	}
	return true
}

func (f *fakeRedis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	if ttl > 0 {
		f.expiry[key] = time.Now().Add(ttl)
	}
	return nil
}

func (f *fakeRedis) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	value, ok := f.data[key]
	if !ok || !f.live(key) {
		return nil, errors.New("redis: nil")
	}
	return value, nil
}

func (f *fakeRedis) Delete(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, key := range keys {
		delete(f.data, key)
		delete(f.sets, key)
		delete(f.expiry, key)
	}
	return nil
}

func (f *fakeRedis) SAdd(ctx context.Context, key string, members ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.sets[key]
	if !ok {
		set = make(map[string]struct{})
		f.sets[key] = set
	}
	for _, m := range members {
		set[m] = struct{}{}
	}
	return nil
}

func (f *fakeRedis) SMembers(ctx context.Context, key string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.live(key) {
		return nil, nil
	}
	members := make([]string, 0, len(f.sets[key]))
	for m := range f.sets[key] {
		members = append(members, m)
	}
	return members, nil
}

func (f *fakeRedis) SRem(ctx context.Context, key string, members ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range members {
		delete(f.sets[key], m)
	}
	return nil
}

func (f *fakeRedis) Expire(ctx context.Context, key string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expiry[key] = time.Now().Add(ttl)
	return nil
}

func (f *fakeRedis) Close() error { return nil }

func testSession(token, operatorID string, orgID int64) *Session {
	now := time.Now()
	return &Session{
		Token:          token,
		OperatorID:     operatorID,
		Username:       "op-" + operatorID,
		OrganizationID: orgID,
		Role:           RoleOperator,
		CreatedAt:      now,
		ExpiresAt:      now.Add(24 * time.Hour),
		LastActiveAt:   now,
	}
}

func TestMemorySessionStorage_StoreAndGet(t *testing.T) {
	storage := NewMemorySessionStorage()
	defer storage.Close()
	ctx := context.Background()

	session := testSession("token-abc", "op-1", 7)
	if err := storage.Store(ctx, session); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	got, err := storage.Get(ctx, "token-abc")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.OperatorID != "op-1" {
		t.Errorf("OperatorID = %s, want op-1", got.OperatorID)
	}
	if got.OrganizationID != 7 {
		t.Errorf("OrganizationID = %d, want 7", got.OrganizationID)
	}
}

func TestMemorySessionStorage_GetMissing(t *testing.T) {
	storage := NewMemorySessionStorage()
	defer storage.Close()

	_, err := storage.Get(context.Background(), "nope")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestMemorySessionStorage_GetExpired(t *testing.T) {
	storage := NewMemorySessionStorage()
	defer storage.Close()
	ctx := context.Background()

	session := testSession("token-exp", "op-1", 7)
	session.ExpiresAt = time.Now().Add(-time.Minute)
	storage.Store(ctx, session)

	_, err := storage.Get(ctx, "token-exp")
	if !errors.Is(err, ErrSessionExpired) {
		t.Errorf("expected ErrSessionExpired, got %v", err)
	}
}

func TestMemorySessionStorage_Delete(t *testing.T) {
	storage := NewMemorySessionStorage()
	defer storage.Close()
	ctx := context.Background()

	storage.Store(ctx, testSession("token-del", "op-1", 7))
	if err := storage.Delete(ctx, "token-del"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if _, err := storage.Get(ctx, "token-del"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound after delete, got %v", err)
	}

	// Deleting again is a no-op
	if err := storage.Delete(ctx, "token-del"); err != nil {
		t.Errorf("second Delete() error = %v", err)
	}
}

func TestMemorySessionStorage_DeleteByOperatorID(t *testing.T) {
	storage := NewMemorySessionStorage()
	defer storage.Close()
	ctx := context.Background()

	storage.Store(ctx, testSession("t1", "op-1", 7))
	storage.Store(ctx, testSession("t2", "op-1", 7))
	storage.Store(ctx, testSession("t3", "op-2", 7))

	if err := storage.DeleteByOperatorID(ctx, "op-1"); err != nil {
		t.Fatalf("DeleteByOperatorID() error = %v", err)
	}

	if _, err := storage.Get(ctx, "t1"); err == nil {
		t.Error("expected t1 to be deleted")
	}
	if _, err := storage.Get(ctx, "t2"); err == nil {
		t.Error("expected t2 to be deleted")
	}
	if _, err := storage.Get(ctx, "t3"); err != nil {
		t.Errorf("expected t3 to survive, got %v", err)
	}
}

func TestMemorySessionStorage_GetByOperatorID(t *testing.T) {
	storage := NewMemorySessionStorage()
	defer storage.Close()
	ctx := context.Background()

	storage.Store(ctx, testSession("t1", "op-1", 7))
	storage.Store(ctx, testSession("t2", "op-1", 7))

	expired := testSession("t3", "op-1", 7)
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	storage.Store(ctx, expired)

	sessions, err := storage.GetByOperatorID(ctx, "op-1")
	if err != nil {
		t.Fatalf("GetByOperatorID() error = %v", err)
	}
	if len(sessions) != 2 {
		t.Errorf("expected 2 active sessions, got %d", len(sessions))
	}
}

func TestMemorySessionStorage_UpdateActivity(t *testing.T) {
	storage := NewMemorySessionStorage()
	defer storage.Close()
	ctx := context.Background()

	storage.Store(ctx, testSession("t1", "op-1", 7))

	later := time.Now().Add(time.Hour)
	if err := storage.UpdateActivity(ctx, "t1", later); err != nil {
		t.Fatalf("UpdateActivity() error = %v", err)
	}

	got, _ := storage.Get(ctx, "t1")
	if !got.LastActiveAt.Equal(later) {
		t.Errorf("LastActiveAt = %v, want %v", got.LastActiveAt, later)
	}

	if err := storage.UpdateActivity(ctx, "missing", later); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound for missing token, got %v", err)
	}
}

func TestMemorySessionStorage_PurgeExpired(t *testing.T) {
	storage := NewMemorySessionStorage()
	defer storage.Close()
	ctx := context.Background()

	storage.Store(ctx, testSession("live", "op-1", 7))

	expired := testSession("dead", "op-1", 7)
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	storage.Store(ctx, expired)

	storage.purgeExpired()

	if _, err := storage.Get(ctx, "live"); err != nil {
		t.Errorf("expected live session to survive purge, got %v", err)
	}
	if _, err := storage.Get(ctx, "dead"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected expired session to be purged, got %v", err)
	}
}

func TestRedisSessionStorage_RoundTrip(t *testing.T) {
	client := newFakeRedis()
	storage := NewRedisSessionStorage(client, "", 0)
	ctx := context.Background()

	session := testSession("token-r", "op-9", 3)
	if err := storage.Store(ctx, session); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	got, err := storage.Get(ctx, "token-r")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.OrganizationID != 3 {
		t.Errorf("OrganizationID = %d, want 3", got.OrganizationID)
	}

	if err := storage.Delete(ctx, "token-r"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := storage.Get(ctx, "token-r"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound after delete, got %v", err)
	}
}

func TestRedisSessionStorage_DeleteByOperatorID(t *testing.T) {
	client := newFakeRedis()
	storage := NewRedisSessionStorage(client, "", 0)
	ctx := context.Background()

	storage.Store(ctx, testSession("t1", "op-1", 3))
	storage.Store(ctx, testSession("t2", "op-1", 3))

	if err := storage.DeleteByOperatorID(ctx, "op-1"); err != nil {
		t.Fatalf("DeleteByOperatorID() error = %v", err)
	}

	if _, err := storage.Get(ctx, "t1"); err == nil {
		t.Error("expected t1 to be deleted")
	}
	if _, err := storage.Get(ctx, "t2"); err == nil {
		t.Error("expected t2 to be deleted")
	}
}

func TestRedisSessionStorage_RejectsExpired(t *testing.T) {
	client := newFakeRedis()
	storage := NewRedisSessionStorage(client, "", 0)

	session := testSession("t1", "op-1", 3)
	session.ExpiresAt = time.Now().Add(-time.Minute)

	if err := storage.Store(context.Background(), session); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("expected ErrSessionExpired, got %v", err)
	}
}
