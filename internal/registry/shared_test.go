// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

func TestShared_Invalidation(t *testing.T) {
	t.Parallel()

	s := NewShared(SharedOptions{})
	owner := Owner{Registry: uuid.New(), Scope: ScopeUser}
	other := Owner{Registry: owner.Registry, Scope: ScopeSystem}

	tok := s.Invalidate(owner, "vendor.b")
	if again := s.Invalidate(owner, "vendor.b"); again != tok {
		t.Error("invalidating twice must return the same token")
	}
	s.Invalidate(owner, "vendor.a")
	if got := s.Invalidated(owner); !slices.Equal(got, []string{"vendor.a", "vendor.b"}) {
		t.Errorf("Invalidated() = %v", got)
	}
	if got := s.Invalidated(other); len(got) != 0 {
		t.Errorf("other scope sees %v", got)
	}

	select {
	case <-tok.Done():
		t.Fatal("token resolved before revalidation")
	default:
	}
	s.Revalidate(owner, "vendor.b")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := tok.Wait(ctx); err != nil {
		t.Errorf("Wait() error = %v", err)
	}
	if _, ok := s.InvalidationToken(owner, "vendor.b"); ok {
		t.Error("revalidated key still has a token")
	}
}

func TestShared_Reification(t *testing.T) {
	t.Parallel()

	s := NewShared(SharedOptions{})
	owner := Owner{Registry: uuid.New(), Scope: ScopeUser}

	tok := s.AwaitReification(owner, "vendor.gauss.float", []string{"float"})
	if again := s.AwaitReification(owner, "vendor.gauss.float", []string{"float", "int"}); again != tok {
		t.Error("re-recording must keep the token")
	}
	want := map[string][]string{"vendor.gauss.float": {"float", "int"}}
	if diff := cmp.Diff(want, s.AwaitingReification(owner)); diff != "" {
		t.Errorf("AwaitingReification() mismatch (-want +got):\n%s", diff)
	}

	boom := errors.New("boom")
	s.Reified(owner, "vendor.gauss.float", boom)
	if err := tok.Wait(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Wait() error = %v, want %v", err, boom)
	}
	if got := s.AwaitingReification(owner); len(got) != 0 {
		t.Errorf("AwaitingReification() = %v after Reified", got)
	}
}

func TestShared_ReleaseResolvesTokens(t *testing.T) {
	t.Parallel()

	s := NewShared(SharedOptions{})
	id := uuid.New()
	s.acquire()
	inv := s.Invalidate(Owner{Registry: id, Scope: ScopeUser}, "vendor.a")
	pending := s.AwaitReification(Owner{Registry: id, Scope: ScopeBuiltIn}, "vendor.g.t", nil)
	kept := s.Invalidate(Owner{Registry: uuid.New(), Scope: ScopeUser}, "vendor.a")

	s.release(id)
	if s.Refs() != 0 {
		t.Errorf("Refs() = %d, want 0", s.Refs())
	}
	for name, tok := range map[string]*Token{"invalidation": inv, "reification": pending} {
		if err := tok.Wait(context.Background()); !errors.Is(err, ErrClosed) {
			t.Errorf("%s token error = %v, want ErrClosed", name, err)
		}
	}
	select {
	case <-kept.Done():
		t.Error("another registry's token was resolved")
	default:
	}
}

func TestShared_ResetForTesting(t *testing.T) {
	t.Parallel()

	if err := NewShared(SharedOptions{}).ResetForTesting(); !errors.Is(err, ErrResetNotAllowed) {
		t.Errorf("ResetForTesting() error = %v, want ErrResetNotAllowed", err)
	}

	s := NewShared(SharedOptions{AllowReset: true})
	owner := Owner{Registry: uuid.New(), Scope: ScopeUser}
	tok := s.Invalidate(owner, "vendor.a")
	if err := s.ResetForTesting(); err != nil {
		t.Fatal(err)
	}
	if err := tok.Wait(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("token error = %v, want ErrClosed", err)
	}
	if got := s.Invalidated(owner); len(got) != 0 {
		t.Errorf("Invalidated() = %v after reset", got)
	}
}

func TestShared_WaitCompiles(t *testing.T) {
	t.Parallel()

	s := NewShared(SharedOptions{})
	f := newFuture[int]()
	s.trackCompile(f)
	go func() {
		time.Sleep(10 * time.Millisecond)
		f.resolve(1, nil)
	}()
	if err := s.WaitCompiles(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case <-f.Done():
	default:
		t.Error("WaitCompiles returned before the compile finished")
	}
}
