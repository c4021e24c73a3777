// Package session persists authenticated browser profiles per provider so
// flows can skip login and MFA while the session is inside its validity window.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

const metadataFile = "session.json"

// Session is a provider-scoped authenticated browser profile. The profile
// directory is handed to the browser as its user data dir; CreatedAt anchors
// the validity window.
type Session struct {
	ProviderID string    `json:"provider_id"`
	ProfileDir string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// Valid reports whether the session is still inside the validity window.
func (s *Session) Valid(window time.Duration, now time.Time) bool {
	if s == nil {
		return false
	}
	return now.Sub(s.CreatedAt) < window
}

// Store owns the durable session state under a base directory:
// <base>/<provider>/profile plus <base>/<provider>/session.json.
// At most one flow execution may hold a given provider's session at a time;
// Acquire/Release enforce that across concurrent flows.
type Store struct {
	baseDir  string
	validity time.Duration

	mu    sync.Mutex
	locks map[string]*semaphore.Weighted
}

// NewStore creates a store rooted at baseDir with the given validity window.
func NewStore(baseDir string, validity time.Duration) *Store {
	return &Store{
		baseDir:  baseDir,
		validity: validity,
		locks:    make(map[string]*semaphore.Weighted),
	}
}

// Validity returns the configured validity window.
func (st *Store) Validity() time.Duration {
	return st.validity
}

func (st *Store) providerDir(providerID string) string {
	return filepath.Join(st.baseDir, providerID)
}

// Get returns the stored session for a provider, or nil when none exists.
// Expired sessions are still returned; callers decide via Valid whether the
// flow must include the login steps.
func (st *Store) Get(providerID string) (*Session, error) {
	dir := st.providerDir(providerID)
	data, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session metadata for %s: %w", providerID, err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to parse session metadata for %s: %w", providerID, err)
	}
	sess.ProviderID = providerID
	sess.ProfileDir = filepath.Join(dir, "profile")
	return &sess, nil
}

// Put creates (or resets) the session entry for a provider, anchoring its
// validity at now, and returns it. The profile directory is created so the
// browser can populate it.
func (st *Store) Put(providerID string) (*Session, error) {
	dir := st.providerDir(providerID)
	profileDir := filepath.Join(dir, "profile")
	if err := os.MkdirAll(profileDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create profile dir for %s: %w", providerID, err)
	}

	sess := &Session{
		ProviderID: providerID,
		ProfileDir: profileDir,
		CreatedAt:  time.Now(),
	}
	if err := st.writeMetadata(providerID, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Ensure returns the stored session for a provider, creating a zero-anchor
// placeholder when none exists. The placeholder is invalid, so the next flow
// still runs its login steps, but the profile directory already exists for
// the browser to populate.
func (st *Store) Ensure(providerID string) (*Session, error) {
	sess, err := st.Get(providerID)
	if err != nil || sess != nil {
		return sess, err
	}

	dir := st.providerDir(providerID)
	profileDir := filepath.Join(dir, "profile")
	if err := os.MkdirAll(profileDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create profile dir for %s: %w", providerID, err)
	}
	sess = &Session{ProviderID: providerID, ProfileDir: profileDir}
	if err := st.writeMetadata(providerID, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Refresh re-anchors the validity window at now. Called after a successful
// MFA completion.
func (st *Store) Refresh(providerID string) error {
	sess, err := st.Get(providerID)
	if err != nil {
		return err
	}
	if sess == nil {
		_, err = st.Put(providerID)
		return err
	}
	sess.CreatedAt = time.Now()
	return st.writeMetadata(providerID, sess)
}

// Invalidate drops the session metadata and profile for a provider.
func (st *Store) Invalidate(providerID string) error {
	if err := os.RemoveAll(st.providerDir(providerID)); err != nil {
		return fmt.Errorf("failed to invalidate session for %s: %w", providerID, err)
	}
	return nil
}

func (st *Store) writeMetadata(providerID string, sess *Session) error {
	dir := st.providerDir(providerID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create session dir for %s: %w", providerID, err)
	}
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session metadata for %s: %w", providerID, err)
	}
	if err := os.WriteFile(filepath.Join(dir, metadataFile), data, 0o644); err != nil {
		return fmt.Errorf("failed to write session metadata for %s: %w", providerID, err)
	}
	return nil
}

func (st *Store) lock(providerID string) *semaphore.Weighted {
	st.mu.Lock()
	defer st.mu.Unlock()
	sem, ok := st.locks[providerID]
	if !ok {
		sem = semaphore.NewWeighted(1)
		st.locks[providerID] = sem
	}
	return sem
}

// Acquire takes exclusive use of a provider's profile, blocking until it is
// free or the context is done.
func (st *Store) Acquire(ctx context.Context, providerID string) error {
	if err := st.lock(providerID).Acquire(ctx, 1); err != nil {
		return fmt.Errorf("failed to acquire session for %s: %w", providerID, err)
	}
	return nil
}

// Release returns a provider's profile acquired with Acquire.
func (st *Store) Release(providerID string) {
	st.lock(providerID).Release(1)
}
