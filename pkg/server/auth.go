package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/confwell/confwell/pkg/stores"
)

// TokenResolver resolves an SDK bearer token to the project and environment
// it reads.
type TokenResolver interface {
	Resolve(ctx context.Context, token string) (*stores.SDKKey, error)
}

// StoreTokenResolver resolves tokens against the durable store.
type StoreTokenResolver struct {
	store stores.Store
}

// NewStoreTokenResolver creates a resolver over the given store.
func NewStoreTokenResolver(store stores.Store) *StoreTokenResolver {
	return &StoreTokenResolver{store: store}
}

// Resolve implements TokenResolver.
func (r *StoreTokenResolver) Resolve(ctx context.Context, token string) (*stores.SDKKey, error) {
	return r.store.GetSDKKeyByToken(ctx, token)
}

// principal is the authenticated scope of one SDK request.
type principal struct {
	ProjectID     string
	EnvironmentID string
}

type principalContextKey struct{}

func principalFrom(ctx context.Context) principal {
	p, _ := ctx.Value(principalContextKey{}).(principal)
	return p
}

// sdkHandler is an SDK API handler running under an authenticated principal.
type sdkHandler func(w http.ResponseWriter, r *http.Request)

// authenticated wraps an SDK handler with bearer token resolution. The
// resolved (project, environment) pair lands in the request context.
func (s *Server) authenticated(next sdkHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}

		key, err := s.resolver.Resolve(r.Context(), token)
		if err != nil {
			if errors.Is(err, stores.ErrNotFound) {
				http.Error(w, "invalid token", http.StatusForbidden)
				return
			}
			s.log.WithError(err).Error("token resolution failed")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		ctx := context.WithValue(r.Context(), principalContextKey{}, principal{
			ProjectID:     key.ProjectID,
			EnvironmentID: key.EnvironmentID,
		})
		next(w, r.WithContext(ctx))
	})
}

// admin wraps an admin handler with static token auth. An empty configured
// token leaves the admin API open, for local development only.
func (s *Server) admin(next sdkHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.AdminToken != "" {
			token, ok := bearerToken(r)
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.AdminToken)) != 1 {
				http.Error(w, "invalid admin token", http.StatusForbidden)
				return
			}
		}
		next(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}
	token := strings.TrimSpace(auth[len(prefix):])
	return token, token != ""
}
