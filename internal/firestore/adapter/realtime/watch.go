package realtime

import (
	"context"
	"sync"
	"time"

	"rxfirestore/internal/firestore/domain/model"
	"rxfirestore/internal/firestore/domain/repository"
	"rxfirestore/internal/shared/reactive"
)

// Watch re-reads a target whenever the feed reports a relevant change.
// Wake-ups coalesce, so a burst of writes yields at least one read of the
// final state.
type Watch struct {
	wake        chan struct{}
	stop        chan struct{}
	once        sync.Once
	unsubscribe func()
	onRemove    func(*Watch)
}

// Remove stops the watch. It is safe to call more than once.
func (w *Watch) Remove() {
	w.once.Do(func() {
		close(w.stop)
		if w.unsubscribe != nil {
			w.unsubscribe()
		}
		if w.onRemove != nil {
			w.onRemove(w)
		}
	})
}

// Stopped reports whether Remove was called.
func (w *Watch) Stopped() bool {
	select {
	case <-w.stop:
		return true
	default:
		return false
	}
}

// StartWatch subscribes to collectionPath and calls refresh for the initial
// state and after each relevant event until refresh returns false or the
// watch is removed.
func StartWatch(ctx context.Context, feed repository.ChangeFeed, collectionPath string, relevant func(model.ChangeEvent) bool, refresh func(w *Watch) bool) (*Watch, error) {
	return startWatch(ctx, feed, collectionPath, relevant, refresh, nil)
}

func startWatch(ctx context.Context, feed repository.ChangeFeed, collectionPath string, relevant func(model.ChangeEvent) bool, refresh func(w *Watch) bool, group *WatchGroup) (*Watch, error) {
	w := &Watch{
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
	}
	w.wake <- struct{}{}

	unsubscribe, err := feed.Subscribe(ctx, collectionPath, func(event model.ChangeEvent) {
		if !relevant(event) {
			return
		}
		select {
		case w.wake <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return nil, err
	}
	w.unsubscribe = unsubscribe
	if group != nil {
		w.onRemove = group.remove
		group.add(w)
	}

	go func() {
		defer w.Remove()
		for {
			select {
			case <-w.stop:
				return
			case <-w.wake:
			}
			if !refresh(w) {
				return
			}
		}
	}()
	return w, nil
}

// WatchGroup tracks the live watches of a store so that closing the store
// stops them.
type WatchGroup struct {
	mu      sync.Mutex
	watches map[*Watch]struct{}
}

// NewWatchGroup creates an empty group.
func NewWatchGroup() *WatchGroup {
	return &WatchGroup{watches: make(map[*Watch]struct{})}
}

func (g *WatchGroup) add(w *Watch) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.watches[w] = struct{}{}
}

func (g *WatchGroup) remove(w *Watch) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.watches, w)
}

// Len returns the number of live watches.
func (g *WatchGroup) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.watches)
}

// RemoveAll stops every live watch.
func (g *WatchGroup) RemoveAll() {
	g.mu.Lock()
	active := make([]*Watch, 0, len(g.watches))
	for w := range g.watches {
		active = append(active, w)
	}
	g.mu.Unlock()

	for _, w := range active {
		w.Remove()
	}
}

func (g *WatchGroup) start(ctx context.Context, feed repository.ChangeFeed, collectionPath string, relevant func(model.ChangeEvent) bool, refresh func(w *Watch) bool) (*Watch, error) {
	return startWatch(ctx, feed, collectionPath, relevant, refresh, g)
}

// ListenDocument emits the snapshot returned by get now and after every
// change to ref, skipping reads whose existence and update time did not
// move.
func (g *WatchGroup) ListenDocument(ctx context.Context, feed repository.ChangeFeed, ref model.DocumentRef, get func(context.Context) (*model.DocumentSnapshot, error), notify reactive.Notify[model.DocumentSnapshot]) reactive.Registration {
	var (
		seen       bool
		lastExists bool
		lastUpdate time.Time
	)
	w, err := g.start(ctx, feed, ref.Parent().Path,
		func(event model.ChangeEvent) bool { return event.Path == ref.Path },
		func(w *Watch) bool {
			snap, err := get(ctx)
			if err != nil {
				if !w.Stopped() {
					notify(nil, err)
				}
				return false
			}
			if seen && snap.Exists() == lastExists && snap.UpdateTime().Equal(lastUpdate) {
				return true
			}
			seen, lastExists, lastUpdate = true, snap.Exists(), snap.UpdateTime()
			if w.Stopped() {
				return false
			}
			notify(snap, nil)
			return true
		})
	if err != nil {
		notify(nil, err)
		return reactive.RegistrationFunc(func() {})
	}
	return w
}

// ListenQuery emits the result of run now and whenever the matched paths or
// their update times change.
func (g *WatchGroup) ListenQuery(ctx context.Context, feed repository.ChangeFeed, q model.Query, run func(context.Context) (*model.QuerySnapshot, error), notify reactive.Notify[model.QuerySnapshot]) reactive.Registration {
	var last []version
	seen := false
	w, err := g.start(ctx, feed, q.Collection.Path,
		func(model.ChangeEvent) bool { return true },
		func(w *Watch) bool {
			snap, err := run(ctx)
			if err != nil {
				if !w.Stopped() {
					notify(nil, err)
				}
				return false
			}
			current := versions(snap)
			if seen && sameVersions(last, current) {
				return true
			}
			seen, last = true, current
			if w.Stopped() {
				return false
			}
			notify(snap, nil)
			return true
		})
	if err != nil {
		notify(nil, err)
		return reactive.RegistrationFunc(func() {})
	}
	return w
}

type version struct {
	path    string
	updated time.Time
}

func versions(snap *model.QuerySnapshot) []version {
	out := make([]version, len(snap.Documents))
	for i, doc := range snap.Documents {
		out[i] = version{path: doc.Ref().Path, updated: doc.UpdateTime()}
	}
	return out
}

func sameVersions(a, b []version) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].path != b[i].path || !a[i].updated.Equal(b[i].updated) {
			return false
		}
	}
	return true
}
