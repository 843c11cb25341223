// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"context"

	"github.com/invowk/modlink/pkg/diag"
	"github.com/invowk/modlink/pkg/module"
)

type (
	// Modification pairs the replaced and replacing module of a key.
	Modification struct {
		Old *module.Module
		New *module.Module
	}

	// Changes is one notification: the net effect of one wave of a batch on
	// the active modules.
	Changes struct {
		Added       map[string]*module.Module
		Modified    map[string]Modification
		Removed     map[string]*module.Module
		Diagnostics diag.List
	}

	// Observer is told about module changes. Notifications for one batch
	// arrive in dependency order: a module's own change comes before the
	// reloads of the modules depending on it. They are delivered once the
	// last dependent is reloaded, so every module they name is already in
	// its final state. Batches are delivered in submission order. ModulesChanged runs on the registry's queue and must
	// not wait on registry futures.
	Observer interface {
		ModulesChanged(ctx context.Context, changes Changes)
	}

	// ObserverFunc adapts a function to Observer.
	ObserverFunc func(ctx context.Context, changes Changes)

	// Result is what a Load or Rescan produced.
	Result struct {
		// Waves are the notifications delivered, in order.
		Waves []Changes
		// Diagnostics are every problem found while processing the batch.
		Diagnostics diag.List
	}
)

// ModulesChanged implements Observer.
func (f ObserverFunc) ModulesChanged(ctx context.Context, changes Changes) { f(ctx, changes) }

func newChanges() Changes {
	return Changes{
		Added:    make(map[string]*module.Module),
		Modified: make(map[string]Modification),
		Removed:  make(map[string]*module.Module),
	}
}

// Empty reports whether c carries no module changes.
func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Modified) == 0 && len(c.Removed) == 0
}

// Keys returns every key c touches, sorted.
func (c Changes) Keys() []string {
	keys := module.SortedKeys(c.Added)
	keys = append(keys, module.SortedKeys(c.Modified)...)
	keys = append(keys, module.SortedKeys(c.Removed)...)
	return module.SortedKeys(toSet(keys))
}

// diffActive compares two active views. A key whose module pointer changed
// is modified; reloading an unchanged file keeps the old pointer, so it
// produces no change.
func diffActive(before, after map[string]*module.Module) Changes {
	c := newChanges()
	for key, m := range after {
		old, ok := before[key]
		switch {
		case !ok:
			c.Added[key] = m
		case old != m:
			c.Modified[key] = Modification{Old: old, New: m}
		}
	}
	for key, m := range before {
		if _, ok := after[key]; !ok {
			c.Removed[key] = m
		}
	}
	return c
}

func toSet(keys []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}
