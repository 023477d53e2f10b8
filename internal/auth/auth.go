// Package auth supplies the credential the real-time channel and the
// backing-store client authenticate with.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Credential is a bearer token plus the local user it identifies.
// A zero Credential means the user is not authenticated.
type Credential struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
}

// Present reports whether the credential can be used to open a channel.
func (c Credential) Present() bool {
	return c.Token != "" && c.UserID != ""
}

// Source yields the current credential. Implementations return a zero
// Credential and nil error when no credential is available.
type Source interface {
	Credential(ctx context.Context) (Credential, error)
}

// Static is a Source with a fixed token.
type Static struct {
	Token  string
	UserID string
}

// Credential implements Source.
func (s Static) Credential(context.Context) (Credential, error) {
	return Resolve(s.Token, s.UserID, time.Now())
}

// File is a Source that rereads a token file on every call. A missing
// or empty file means no credential.
type File struct {
	Path   string
	UserID string
}

// Credential implements Source.
func (f File) Credential(context.Context) (Credential, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return Credential{}, nil
	}
	if err != nil {
		return Credential{}, fmt.Errorf("read token file: %w", err)
	}
	return Resolve(strings.TrimSpace(string(data)), f.UserID, time.Now())
}

// Resolve builds a Credential from a raw token. When the token is a JWT
// its subject supplies the user id unless userID overrides it, and an
// expired token resolves to no credential. Opaque tokens require userID.
func Resolve(token, userID string, now time.Time) (Credential, error) {
	if token == "" {
		return Credential{}, nil
	}
	cred := Credential{Token: token, UserID: userID}

	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		if cred.UserID == "" {
			cred.UserID = claims.Subject
		}
		if claims.ExpiresAt != nil {
			cred.ExpiresAt = claims.ExpiresAt.Time
			if !now.Before(cred.ExpiresAt) {
				return Credential{}, nil
			}
		}
	}
	if cred.UserID == "" {
		return Credential{}, errors.New("token carries no subject and no user id is configured")
	}
	return cred, nil
}

// Watcher polls a Source and reports credential changes.
type Watcher struct {
	src      Source
	interval time.Duration
	log      *zap.Logger

	mu      sync.RWMutex
	current Credential
}

// NewWatcher creates a Watcher polling src every interval.
func NewWatcher(src Source, interval time.Duration, log *zap.Logger) *Watcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{src: src, interval: interval, log: log}
}

// Current returns the last observed credential.
func (w *Watcher) Current() Credential {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Poll reads the source once and returns the credential plus whether it
// differs from the previous observation. Read errors keep the previous credential.
func (w *Watcher) Poll(ctx context.Context) (Credential, bool) {
	cred, err := w.src.Credential(ctx)
	if err != nil {
		w.log.Warn("credential read failed", zap.Error(err))
		return w.Current(), false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if cred == w.current {
		return cred, false
	}
	w.current = cred
	return cred, true
}

// Run polls until ctx is done, calling onChange with every new credential.
// The first observation is always delivered.
func (w *Watcher) Run(ctx context.Context, onChange func(Credential)) {
	cred, _ := w.Poll(ctx)
	onChange(cred)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if cred, changed := w.Poll(ctx); changed {
				onChange(cred)
			}
		}
	}
}
