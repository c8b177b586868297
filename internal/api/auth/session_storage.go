package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// SessionStorage persists operator sessions for the management API.
type SessionStorage interface {
	Store(ctx context.Context, session *Session) error
	Get(ctx context.Context, token string) (*Session, error)
	Delete(ctx context.Context, token string) error
	DeleteByOperatorID(ctx context.Context, operatorID string) error
	GetByOperatorID(ctx context.Context, operatorID string) ([]*Session, error)
	UpdateActivity(ctx context.Context, token string, lastActive time.Time) error
	Close() error
}

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
)

const memoryPurgeInterval = 5 * time.Minute

// MemorySessionStorage keeps sessions in process memory. It is the
// fallback when no Redis address is configured and is fine for a
// single server, but sessions do not survive a restart.
type MemorySessionStorage struct {
	mu         sync.RWMutex
	byToken    map[string]*Session
	byOperator map[string][]string
	done       chan struct{}
}

func NewMemorySessionStorage() *MemorySessionStorage {
	m := &MemorySessionStorage{
		byToken:    make(map[string]*Session),
		byOperator: make(map[string][]string),
		done:       make(chan struct{}),
	}
	go m.purgeLoop()
	return m
}

func (m *MemorySessionStorage) purgeLoop() {
	ticker := time.NewTicker(memoryPurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.purgeExpired()
		}
	}
}

func (m *MemorySessionStorage) Store(ctx context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.byToken[session.Token] = session
	if session.OperatorID != "" {
		m.byOperator[session.OperatorID] = append(m.byOperator[session.OperatorID], session.Token)
	}
	return nil
}

func (m *MemorySessionStorage) Get(ctx context.Context, token string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.byToken[token]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if time.Now().After(session.ExpiresAt) {
		return nil, ErrSessionExpired
	}
	return session, nil
}

func (m *MemorySessionStorage) Delete(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remove(token)
	return nil
}

// remove drops a token from both indexes. Caller holds the write lock.
func (m *MemorySessionStorage) remove(token string) {
	session, ok := m.byToken[token]
	if !ok {
		return
	}
	delete(m.byToken, token)
	if session.OperatorID == "" {
		return
	}
	tokens := m.byOperator[session.OperatorID]
	for i, t := range tokens {
		if t == token {
			m.byOperator[session.OperatorID] = append(tokens[:i], tokens[i+1:]...)
			return
		}
	}
}

func (m *MemorySessionStorage) DeleteByOperatorID(ctx context.Context, operatorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, token := range m.byOperator[operatorID] {
		delete(m.byToken, token)
	}
	delete(m.byOperator, operatorID)
	return nil
}

func (m *MemorySessionStorage) GetByOperatorID(ctx context.Context, operatorID string) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	var sessions []*Session
	for _, token := range m.byOperator[operatorID] {
		if session, ok := m.byToken[token]; ok && now.Before(session.ExpiresAt) {
			sessions = append(sessions, session)
		}
	}
	return sessions, nil
}

func (m *MemorySessionStorage) UpdateActivity(ctx context.Context, token string, lastActive time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.byToken[token]
	if !ok {
		return ErrSessionNotFound
	}
	session.LastActiveAt = lastActive
	return nil
}

func (m *MemorySessionStorage) Close() error {
	close(m.done)
	return nil
}

// purgeExpired evicts sessions past their expiry so the maps do not
// grow without bound.
func (m *MemorySessionStorage) purgeExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var expired []string
	for token, session := range m.byToken {
		if now.After(session.ExpiresAt) {
			expired = append(expired, token)
		}
	}
	for _, token := range expired {
		m.remove(token)
	}
}

// RedisClient is the subset of Redis commands session storage needs.
// GoRedisClient implements it against a real server; tests supply an
// in-memory fake.
type RedisClient interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, keys ...string) error
	SAdd(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SRem(ctx context.Context, key string, members ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Close() error
}

// RedisSessionStorage stores sessions in Redis so that multiple server
// instances share one session space. Each session lives under a token
// key with a TTL matching its expiry, and a per-operator set indexes
// tokens for bulk revocation.
type RedisSessionStorage struct {
	client RedisClient
	prefix string
	ttl    time.Duration
}

func NewRedisSessionStorage(client RedisClient, prefix string, ttl time.Duration) *RedisSessionStorage {
	if prefix == "" {
		prefix = "argus:session"
	}
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &RedisSessionStorage{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisSessionStorage) tokenKey(token string) string {
	return fmt.Sprintf("%s:token:%s", r.prefix, token)
}

func (r *RedisSessionStorage) operatorKey(operatorID string) string {
	return fmt.Sprintf("%s:op:%s", r.prefix, operatorID)
}

func (r *RedisSessionStorage) Store(ctx context.Context, session *Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return ErrSessionExpired
	}

	if err := r.client.Set(ctx, r.tokenKey(session.Token), data, ttl); err != nil {
		return fmt.Errorf("store session: %w", err)
	}

	if session.OperatorID != "" {
		opKey := r.operatorKey(session.OperatorID)
		if err := r.client.SAdd(ctx, opKey, session.Token); err != nil {
			return fmt.Errorf("index session by operator: %w", err)
		}
		if err := r.client.Expire(ctx, opKey, ttl); err != nil {
			return fmt.Errorf("expire operator index: %w", err)
		}
	}
	return nil
}

func (r *RedisSessionStorage) Get(ctx context.Context, token string) (*Session, error) {
	data, err := r.client.Get(ctx, r.tokenKey(token))
	if err != nil {
		return nil, ErrSessionNotFound
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}

	// Redis TTL should have evicted it already, but trust the timestamp.
	if time.Now().After(session.ExpiresAt) {
		return nil, ErrSessionExpired
	}
	return &session, nil
}

func (r *RedisSessionStorage) Delete(ctx context.Context, token string) error {
	session, err := r.Get(ctx, token)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return err
	}

	if err := r.client.Delete(ctx, r.tokenKey(token)); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if session.OperatorID != "" {
		if err := r.client.SRem(ctx, r.operatorKey(session.OperatorID), token); err != nil {
			return fmt.Errorf("unindex session: %w", err)
		}
	}
	return nil
}

func (r *RedisSessionStorage) DeleteByOperatorID(ctx context.Context, operatorID string) error {
	opKey := r.operatorKey(operatorID)
	tokens, err := r.client.SMembers(ctx, opKey)
	if err != nil {
		return fmt.Errorf("list operator sessions: %w", err)
	}

	if len(tokens) > 0 {
		keys := make([]string, len(tokens))
		for i, token := range tokens {
			keys[i] = r.tokenKey(token)
		}
		if err := r.client.Delete(ctx, keys...); err != nil {
			return fmt.Errorf("delete operator sessions: %w", err)
		}
	}
	if err := r.client.Delete(ctx, opKey); err != nil {
		return fmt.Errorf("delete operator index: %w", err)
	}
	return nil
}

func (r *RedisSessionStorage) GetByOperatorID(ctx context.Context, operatorID string) ([]*Session, error) {
	tokens, err := r.client.SMembers(ctx, r.operatorKey(operatorID))
	if err != nil {
		return nil, fmt.Errorf("list operator sessions: %w", err)
	}

	sessions := make([]*Session, 0, len(tokens))
	for _, token := range tokens {
		session, err := r.Get(ctx, token)
		if err != nil {
			// Expired or already revoked between SMembers and Get.
			continue
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

func (r *RedisSessionStorage) UpdateActivity(ctx context.Context, token string, lastActive time.Time) error {
	session, err := r.Get(ctx, token)
	if err != nil {
		return err
	}
	session.LastActiveAt = lastActive
	return r.Store(ctx, session)
}

func (r *RedisSessionStorage) Close() error {
	return r.client.Close()
}
