package creds

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/coalmine/coalmine/internal/model"
)

// ErrUnknownRole reports a role key the provider cannot vend.
var ErrUnknownRole = errors.New("creds: unknown role")

// Credentials is one scoped credential session. Token is opaque to the core;
// SessionName identifies the session on audit trails.
type Credentials struct {
	RoleKey     string
	SessionName string
	Token       string
}

// Provider vends scoped credentials. Permissions declared by executors and
// handlers are registered up front and carried to the provider opaquely;
// the core never interprets them.
type Provider interface {
	// Scoped returns credentials for roleKey under the given session name.
	Scoped(ctx context.Context, roleKey, sessionName string) (Credentials, error)
}

// Static is a Provider backed by a fixed role→token table built from
// configuration at startup. Roles may additionally declare the permissions
// they are expected to satisfy, for operator inspection only.
type Static struct {
	mu     sync.RWMutex
	tokens map[string]string
	perms  map[string][]model.Permission
}

// NewStatic creates an empty Static provider.
func NewStatic() *Static {
	return &Static{
		tokens: make(map[string]string),
		perms:  make(map[string][]model.Permission),
	}
}

// AddRole registers a role key with its token and declared permissions.
// Re-adding a role replaces it.
func (s *Static) AddRole(roleKey, token string, perms ...model.Permission) {
	s.mu.Lock()
	s.tokens[roleKey] = token
	s.perms[roleKey] = perms
	s.mu.Unlock()
}

// Scoped implements Provider. Unknown roles fail with ErrUnknownRole; an
// empty role key yields anonymous credentials so components without declared
// permissions keep working.
func (s *Static) Scoped(_ context.Context, roleKey, sessionName string) (Credentials, error) {
	if roleKey == "" {
		return Credentials{SessionName: sessionName}, nil
	}
	s.mu.RLock()
	token, ok := s.tokens[roleKey]
	s.mu.RUnlock()
	if !ok {
		return Credentials{}, fmt.Errorf("%w: %q", ErrUnknownRole, roleKey)
	}
	return Credentials{RoleKey: roleKey, SessionName: sessionName, Token: token}, nil
}

// HasRole reports whether roleKey is registered.
func (s *Static) HasRole(roleKey string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tokens[roleKey]
	return ok
}

// Permissions returns the permissions declared for roleKey.
func (s *Static) Permissions(roleKey string) []model.Permission {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Permission(nil), s.perms[roleKey]...)
}

// SessionName builds the env-qualified session identifier recorded on audit
// trails, e.g. "prod-notify-ops-slack".
func SessionName(env, activity, key string) string {
	return env + "-" + activity + "-" + key
}
