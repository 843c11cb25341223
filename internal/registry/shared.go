// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// ErrResetNotAllowed is returned by ResetForTesting on a Shared service
// constructed without AllowReset.
var ErrResetNotAllowed = errors.New("reset not allowed: shared service was not created for tests")

type (
	// Owner identifies the registry scope an invalidation or pending
	// reification belongs to.
	Owner struct {
		Registry uuid.UUID
		Scope    Scope
	}

	// Token lets callers wait until an invalidated module is reloaded or a
	// pending specialization is reified. It resolves with ErrClosed when the
	// owning registry closes first.
	Token struct {
		ID uuid.UUID
		f  *Future[struct{}]
	}

	// SharedOptions configure NewShared.
	SharedOptions struct {
		// AllowReset enables ResetForTesting.
		AllowReset bool
	}

	// Shared is the process-wide state every registry attaches to: the
	// modules invalidated by upstream changes, the specializations waiting
	// for their dependencies, and the set of in-flight compiles. All maps
	// are guarded by one lock. Registries hold a reference from New until
	// Close.
	Shared struct {
		mu          sync.Mutex
		refs        int
		allowReset  bool
		invalidated map[Owner]map[string]*Token
		awaiting    map[Owner]map[string]*pendingReification
		compiles    FutureSet
	}

	pendingReification struct {
		token *Token
		needs []string
	}
)

func newToken() *Token {
	return &Token{ID: uuid.New(), f: newFuture[struct{}]()}
}

// Wait blocks until the token resolves or ctx is done.
func (t *Token) Wait(ctx context.Context) error {
	_, err := t.f.Wait(ctx)
	return err
}

// Done is closed when the token resolves.
func (t *Token) Done() <-chan struct{} { return t.f.Done() }

// NewShared creates a shared service with no attached registries.
func NewShared(opts SharedOptions) *Shared {
	return &Shared{
		allowReset:  opts.AllowReset,
		invalidated: make(map[Owner]map[string]*Token),
		awaiting:    make(map[Owner]map[string]*pendingReification),
	}
}

// acquire attaches a registry.
func (s *Shared) acquire() {
	s.mu.Lock()
	s.refs++
	s.mu.Unlock()
}

// release detaches registry id and drops every entry it owns.
func (s *Shared) release(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs--
	for owner, tokens := range s.invalidated {
		if owner.Registry != id {
			continue
		}
		for _, t := range tokens {
			t.f.resolve(struct{}{}, ErrClosed)
		}
		delete(s.invalidated, owner)
	}
	for owner, pending := range s.awaiting {
		if owner.Registry != id {
			continue
		}
		for _, p := range pending {
			p.token.f.resolve(struct{}{}, ErrClosed)
		}
		delete(s.awaiting, owner)
	}
}

// Refs returns the number of attached registries.
func (s *Shared) Refs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs
}

// Invalidate marks key as awaiting reload in owner's scope and returns its
// token. Invalidating an already invalidated key returns the existing token.
func (s *Shared) Invalidate(owner Owner, key string) *Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	tokens := s.invalidated[owner]
	if tokens == nil {
		tokens = make(map[string]*Token)
		s.invalidated[owner] = tokens
	}
	if t, ok := tokens[key]; ok {
		return t
	}
	t := newToken()
	tokens[key] = t
	return t
}

// Revalidate clears key's invalidation and releases its waiters.
func (s *Shared) Revalidate(owner Owner, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.invalidated[owner][key]; ok {
		t.f.resolve(struct{}{}, nil)
		delete(s.invalidated[owner], key)
	}
}

// InvalidationToken returns the token of an invalidated key.
func (s *Shared) InvalidationToken(owner Owner, key string) (*Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.invalidated[owner][key]
	return t, ok
}

// Invalidated returns the invalidated keys of owner, sorted.
func (s *Shared) Invalidated(owner Owner) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.invalidated[owner]))
}

// AwaitReification records that key can be specialized once every key in
// needs is loaded, and returns its token. Recording a key again updates
// its needs and keeps the token.
func (s *Shared) AwaitReification(owner Owner, key string, needs []string) *Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.awaiting[owner]
	if pending == nil {
		pending = make(map[string]*pendingReification)
		s.awaiting[owner] = pending
	}
	if p, ok := pending[key]; ok {
		p.needs = slices.Clone(needs)
		return p.token
	}
	p := &pendingReification{token: newToken(), needs: slices.Clone(needs)}
	pending[key] = p
	return p.token
}

// AwaitingReification returns owner's pending specializations and what each
// still needs.
func (s *Shared) AwaitingReification(owner Owner) map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]string, len(s.awaiting[owner]))
	for key, p := range s.awaiting[owner] {
		out[key] = slices.Clone(p.needs)
	}
	return out
}

// Reified removes key from owner's pending specializations and resolves its
// token with err.
func (s *Shared) Reified(owner Owner, key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.awaiting[owner][key]; ok {
		p.token.f.resolve(struct{}{}, err)
		delete(s.awaiting[owner], key)
	}
}

// trackCompile adds an in-flight compile to the process-wide set.
func (s *Shared) trackCompile(w waiter) {
	s.compiles.Add(w)
}

// WaitCompiles blocks until every compile in the process has finished.
func (s *Shared) WaitCompiles(ctx context.Context) error {
	return s.compiles.Wait(ctx)
}

// ResetForTesting drops every invalidation and pending reification,
// resolving their tokens with ErrClosed.
func (s *Shared) ResetForTesting() error {
	if !s.allowReset {
		return ErrResetNotAllowed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tokens := range s.invalidated {
		for _, t := range tokens {
			t.f.resolve(struct{}{}, ErrClosed)
		}
	}
	for _, pending := range s.awaiting {
		for _, p := range pending {
			p.token.f.resolve(struct{}{}, ErrClosed)
		}
	}
	clear(s.invalidated)
	clear(s.awaiting)
	return nil
}
