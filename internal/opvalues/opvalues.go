// Package opvalues is a per-operation key/value exchange: one root field
// publishes a value, sibling fields block until it arrives. A Store is
// scoped to a single operation via its context and never shared across
// operations; the HTTP middleware installs a fresh store per request.
package opvalues

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/graphql-go/graphql"
)

// Store holds one operation's published values. Safe for concurrent use by
// the operation's resolvers.
type Store struct {
	mu      sync.Mutex
	values  map[string]interface{}
	waiters map[string][]chan interface{}
}

// New returns an empty store.
func New() *Store {
	return &Store{
		values:  make(map[string]interface{}),
		waiters: make(map[string][]chan interface{}),
	}
}

// Set publishes value under key and wakes every blocked Get for it. A later
// Set for the same key overwrites the stored value.
func (s *Store) Set(key string, value interface{}) {
	s.mu.Lock()
	s.values[key] = value
	waiters := s.waiters[key]
	delete(s.waiters, key)
	s.mu.Unlock()

	for _, ch := range waiters {
		ch <- value
	}
}

// Get returns the value published under key, blocking until it is set or
// ctx ends.
func (s *Store) Get(ctx context.Context, key string) (interface{}, error) {
	s.mu.Lock()
	if v, ok := s.values[key]; ok {
		s.mu.Unlock()
		return v, nil
	}
	ch := make(chan interface{}, 1)
	s.waiters[key] = append(s.waiters[key], ch)
	s.mu.Unlock()

	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("opvalues: waiting for %q: %w", key, ctx.Err())
	}
}

type ctxKey struct{}

// With returns a context carrying s.
func With(ctx context.Context, s *Store) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// From returns the context's store, or nil when none is installed.
func From(ctx context.Context) *Store {
	s, _ := ctx.Value(ctxKey{}).(*Store)
	return s
}

// Publish wraps a resolver so its result is published to the operation's
// store under key once it resolves. Errors are not published, and
// operations without a store resolve unchanged.
func Publish(key string, resolve graphql.FieldResolveFn) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		result, err := resolve(p)
		if err != nil {
			return nil, err
		}
		if s := From(p.Context); s != nil {
			s.Set(key, result)
		}
		return result, nil
	}
}

// Middleware installs a fresh store on each request's context, scoping the
// exchange to one operation.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(With(r.Context(), New())))
	})
}
