// Package sessionstore is the typed Session layer over a kvstore.Store
// (§4.3): sessions are serialized to JSON under key "session:<id>" and
// evicted lazily on read once past their expiry.
package sessionstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wallet-connect-x/walletrelay/internal/metrics"
	"github.com/wallet-connect-x/walletrelay/pkg/kvstore"
	"github.com/wallet-connect-x/walletrelay/pkg/protocol"
	"github.com/wallet-connect-x/walletrelay/pkg/protocolerr"
)

const sessionKeyPrefix = "session:"

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

// SessionStore persists protocol.Session records through a kvstore.Store.
type SessionStore struct {
	kv kvstore.Store
}

// New wraps kv as a SessionStore.
func New(kv kvstore.Store) *SessionStore {
	return &SessionStore{kv: kv}
}

// Set persists session, overwriting any prior record with the same ID.
func (s *SessionStore) Set(ctx context.Context, session *protocol.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("sessionstore: marshal session %s: %w", session.ID, err)
	}
	if err := s.kv.Set(ctx, sessionKey(session.ID), string(data)); err != nil {
		return fmt.Errorf("sessionstore: set session %s: %w", session.ID, err)
	}
	return nil
}

// Get returns the session by id, evicting and returning SESSION_NOT_FOUND if
// it is absent or has expired.
func (s *SessionStore) Get(ctx context.Context, id string) (*protocol.Session, error) {
	raw, ok, err := s.kv.Get(ctx, sessionKey(id))
	if err != nil {
		return nil, fmt.Errorf("sessionstore: get session %s: %w", id, err)
	}
	if !ok {
		return nil, protocolerr.New(protocolerr.SessionNotFound, "SessionStore.get")
	}

	var session protocol.Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, fmt.Errorf("sessionstore: unmarshal session %s: %w", id, err)
	}

	if session.Expired(time.Now()) {
		_ = s.kv.Delete(ctx, sessionKey(id))
		metrics.SessionsExpired.Inc()
		return nil, protocolerr.New(protocolerr.SessionNotFound, "SessionStore.get")
	}

	return &session, nil
}

// Delete removes the session unconditionally; a missing session is not an
// error.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if err := s.kv.Delete(ctx, sessionKey(id)); err != nil {
		return fmt.Errorf("sessionstore: delete session %s: %w", id, err)
	}
	return nil
}

// List enumerates every non-expired session, evicting any expired record it
// encounters along the way.
func (s *SessionStore) List(ctx context.Context) ([]*protocol.Session, error) {
	keys, err := s.kv.Keys(ctx, sessionKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: list: %w", err)
	}

	sessions := make([]*protocol.Session, 0, len(keys))
	for _, key := range keys {
		id := key[len(sessionKeyPrefix):]
		session, err := s.Get(ctx, id)
		if err != nil {
			if protocolerr.Is(err, protocolerr.SessionNotFound) {
				continue
			}
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}
