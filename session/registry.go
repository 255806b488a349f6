// Package session tracks the live connection of each user.
package session

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrAlreadyConnected is returned by Register under the Reject policy.
var ErrAlreadyConnected = errors.New("user already connected")

// Handle is a connection that can be written to from any goroutine.
type Handle interface {
	Send(v any) error
}

// Policy decides what Register does when the user_id is taken.
type Policy int

const (
	// Replace evicts the previous handle. The evicted session keeps serving
	// its own requests but no longer receives pushes.
	Replace Policy = iota
	// Reject refuses the new handle with ErrAlreadyConnected.
	Reject
)

// Registry maps user IDs to live handles. The lock is held only around map
// access, never while writing to a connection.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]Handle
	policy  Policy
	logger  logrus.FieldLogger
}

func NewRegistry(policy Policy, logger logrus.FieldLogger) *Registry {
	return &Registry{
		handles: make(map[string]Handle),
		policy:  policy,
		logger:  logger,
	}
}

func (r *Registry) Register(userID string, h Handle) error {
	r.mu.Lock()
	prev, exists := r.handles[userID]
	if exists && r.policy == Reject {
		r.mu.Unlock()
		return ErrAlreadyConnected
	}
	r.handles[userID] = h
	r.mu.Unlock()

	if exists && prev != h {
		r.logger.WithField("user_id", userID).Info("Replaced existing connection")
	}
	return nil
}

// Unregister removes any handle for userID. Removing an absent entry is a
// no-op.
func (r *Registry) Unregister(userID string) {
	r.mu.Lock()
	delete(r.handles, userID)
	r.mu.Unlock()
}

// Release removes the entry for userID only if it still holds h, so a
// replaced session closing does not evict its successor. It reports whether
// an entry was removed.
func (r *Registry) Release(userID string, h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.handles[userID]; ok && cur == h {
		delete(r.handles, userID)
		return true
	}
	return false
}

func (r *Registry) Lookup(userID string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[userID]
	return h, ok
}

// Send writes v to userID's connection. Sending to a user without a live
// connection is a no-op, as is a write to a connection that has just
// closed; the owning session cleans up on its own.
func (r *Registry) Send(userID string, v any) {
	h, ok := r.Lookup(userID)
	if !ok {
		return
	}
	if err := h.Send(v); err != nil {
		r.logger.WithError(err).WithField("user_id", userID).Debug("Dropped push to closing connection")
	}
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}
