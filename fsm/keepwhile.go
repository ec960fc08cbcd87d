//                           _       _
// __      _____  __ ___   ___  __ _| |_ ___
// \ \ /\ / / _ \/ _` \ \ / / |/ _` | __/ _ \
//  \ V  V /  __/ (_| |\ V /| | (_| | ||  __/
//   \_/\_/ \___|\__,_| \_/ |_|\__,_|\__\___|
//
//  Copyright © 2016 - 2024 Weaviate B.V. All rights reserved.
//
//  CONTACT: hello@weaviate.io
//

package fsm

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/weaviate/arbor/pattern"
	"github.com/weaviate/arbor/proto/api"
)

// watchedCond is one keep-while entry: the owning watcher exists only
// while the node at path satisfies cond.
type watchedCond struct {
	path pattern.Path
	cond pattern.Condition
}

// watcherEntry is the full keep-while map of one watcher node. Conditions
// are kept sorted by watched path so snapshots and evaluation order are
// deterministic.
type watcherEntry struct {
	path  pattern.Path
	conds []watchedCond
}

// keepWhileTable is the bidirectional relation "watcher's existence is
// conditional on a predicate over watched". The forward map drives
// evaluation and snapshots; the reverse index finds the watchers affected
// by a dirty node without scanning the table.
type keepWhileTable struct {
	watchers map[string]*watcherEntry
	reverse  map[string]map[string]struct{} // watched key -> watcher keys
}

func newKeepWhileTable() *keepWhileTable {
	return &keepWhileTable{
		watchers: make(map[string]*watcherEntry),
		reverse:  make(map[string]map[string]struct{}),
	}
}

func (t *keepWhileTable) len() int { return len(t.watchers) }

// install records the keep-while map for a watcher, replacing any previous
// entry. Watched paths may be relative (leading THIS/PARENT anchors); they
// are resolved against the watcher's own path.
func (t *keepWhileTable) install(watcher pattern.Path, conds []api.KeepWhileCondition) error {
	entry := &watcherEntry{path: watcher.Clone()}
	for _, kwc := range conds {
		watched, err := resolveWatched(watcher, kwc.Path)
		if err != nil {
			return err
		}
		entry.conds = append(entry.conds, watchedCond{path: watched, cond: kwc.Condition})
	}
	sort.Slice(entry.conds, func(i, j int) bool {
		return entry.conds[i].path.Compare(entry.conds[j].path) < 0
	})

	key := watcher.Key()
	t.remove(key)
	t.watchers[key] = entry
	for i := range entry.conds {
		wk := entry.conds[i].path.Key()
		if t.reverse[wk] == nil {
			t.reverse[wk] = make(map[string]struct{})
		}
		t.reverse[wk][key] = struct{}{}
	}
	return nil
}

// resolveWatched normalizes a watched path. A path starting with a
// relative anchor is interpreted against the watcher's own path.
func resolveWatched(watcher pattern.Path, p pattern.Pattern) (pattern.Path, error) {
	if len(p) > 0 && (p[0].Kind == pattern.KindThis || p[0].Kind == pattern.KindParent) {
		p = append(watcher.Pattern(), p...)
	}
	normalized, err := p.Normalize()
	if err != nil {
		return nil, err
	}
	watched, ok := normalized.Concrete()
	if !ok {
		return nil, errors.Wrap(ErrInvalidPattern, "keep_while watched path must be concrete")
	}
	return watched, nil
}

// remove drops a watcher and its reverse index entries.
func (t *keepWhileTable) remove(key string) {
	entry, ok := t.watchers[key]
	if !ok {
		return
	}
	for i := range entry.conds {
		wk := entry.conds[i].path.Key()
		if set := t.reverse[wk]; set != nil {
			delete(set, key)
			if len(set) == 0 {
				delete(t.reverse, wk)
			}
		}
	}
	delete(t.watchers, key)
}

// dropWatchers removes the keep-while entries keyed by any of the given
// (deleted) paths.
func (t *keepWhileTable) dropWatchers(paths map[string]pattern.Path) {
	for key := range paths {
		t.remove(key)
	}
}

// affected returns the watchers holding an entry over any dirty path, in
// ascending watcher path order.
func (t *keepWhileTable) affected(dirty map[string]pattern.Path) []*watcherEntry {
	keys := make(map[string]struct{})
	for dirtyKey := range dirty {
		for watcherKey := range t.reverse[dirtyKey] {
			keys[watcherKey] = struct{}{}
		}
	}
	out := make([]*watcherEntry, 0, len(keys))
	for key := range keys {
		if entry, ok := t.watchers[key]; ok {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].path.Compare(out[j].path) < 0
	})
	return out
}

// sortedEntries returns all watchers in ascending path order, for
// snapshot emission.
func (t *keepWhileTable) sortedEntries() []*watcherEntry {
	out := make([]*watcherEntry, 0, len(t.watchers))
	for _, entry := range t.watchers {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].path.Compare(out[j].path) < 0
	})
	return out
}

// cascade drives the keep-while graph to a fixpoint after a mutation.
// Watchers whose predicates no longer hold are deleted; those deletions
// are mutations themselves and feed the next pass. Each pass strictly
// shrinks the table, so the pass count is bounded by its size.
//
// exempt holds watcher keys whose keep-while entry was installed by the
// triggering command; each is skipped on its first evaluation only
// (bootstrap exemption) and re-evaluated if dirtied again.
func (m *Machine) cascade(cx *changeSet, exempt map[string]struct{}) {
	dirty := cx.dirty
	maxPasses := m.kw.len() + 1
	for pass := 0; pass < maxPasses && len(dirty) > 0; pass++ {
		next := newChangeSet()
		deletedAny := false
		for _, w := range m.kw.affected(dirty) {
			key := w.path.Key()
			if _, ok := m.kw.watchers[key]; !ok {
				// dropped earlier in this pass by another deletion
				continue
			}
			if exempt != nil {
				if _, ok := exempt[key]; ok {
					delete(exempt, key)
					continue
				}
			}
			if m.evalWatcher(w) {
				continue
			}
			m.deletePath(w.path, next)
			m.kw.remove(key)
			m.kw.dropWatchers(next.deleted)
			deletedAny = true
		}
		if !deletedAny {
			return
		}
		dirty = next.dirty
	}
}

// evalWatcher checks every keep-while entry of a watcher against the
// current state. A watched node that no longer exists fails vacuously
// unless the predicate asserts absence. A malformed predicate evaluates
// as false; there is no error channel inside the cascade.
func (m *Machine) evalWatcher(w *watcherEntry) bool {
	for i := range w.conds {
		wc := &w.conds[i]
		node := m.root.Walk(wc.path)
		if node == nil {
			if wc.cond.Kind == pattern.CondNodeExists && !wc.cond.Exists {
				continue
			}
			return false
		}
		ok, err := wc.cond.Eval(wc.path.Last(), node)
		if err != nil || !ok {
			return false
		}
	}
	return true
}
