// Package auth resolves the calling user of an HTTP request. Identity is
// established upstream; this package only maps request credentials to a
// user id.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

const DefaultHeader = "X-User-ID"

type Caller struct {
	UserID string
}

type Resolver interface {
	Resolve(r *http.Request) (Caller, bool)
}

// HeaderResolver trusts a user id header set by a fronting proxy.
type HeaderResolver struct {
	Header string
}

func (h HeaderResolver) Resolve(r *http.Request) (Caller, bool) {
	header := h.Header
	if header == "" {
		header = DefaultHeader
	}
	userID := strings.TrimSpace(r.Header.Get(header))
	if userID == "" {
		return Caller{}, false
	}
	return Caller{UserID: userID}, true
}

// TokenResolver maps bearer tokens to user ids.
type TokenResolver struct {
	tokens map[string]string
}

// ParseTokens reads "token:user" pairs separated by commas.
func ParseTokens(raw string) (map[string]string, error) {
	tokens := map[string]string{}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		token, userID, ok := strings.Cut(entry, ":")
		token = strings.TrimSpace(token)
		userID = strings.TrimSpace(userID)
		if !ok || token == "" || userID == "" {
			return nil, fmt.Errorf("invalid auth token entry %q", entry)
		}
		tokens[token] = userID
	}
	return tokens, nil
}

func NewTokenResolver(tokens map[string]string) TokenResolver {
	copied := make(map[string]string, len(tokens))
	for token, userID := range tokens {
		copied[token] = userID
	}
	return TokenResolver{tokens: copied}
}

func (t TokenResolver) Resolve(r *http.Request) (Caller, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return Caller{}, false
	}
	userID, ok := t.tokens[strings.TrimSpace(token)]
	if !ok {
		return Caller{}, false
	}
	return Caller{UserID: userID}, true
}

type contextKey struct{}

func WithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, contextKey{}, caller)
}

func CallerFrom(ctx context.Context) (Caller, bool) {
	caller, ok := ctx.Value(contextKey{}).(Caller)
	return caller, ok && caller.UserID != ""
}

// Middleware attaches the resolved caller to the request context. Requests
// without credentials pass through; handlers decide whether identity is
// required.
func Middleware(resolver Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if caller, ok := resolver.Resolve(r); ok {
				r = r.WithContext(WithCaller(r.Context(), caller))
			}
			next.ServeHTTP(w, r)
		})
	}
}
