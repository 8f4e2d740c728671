package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"rxfirestore/internal/firestore/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDoc struct {
	mu   sync.Mutex
	snap *model.DocumentSnapshot
	err  error
}

func (f *fakeDoc) set(snap *model.DocumentSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap = snap
}

func (f *fakeDoc) get(context.Context) (*model.DocumentSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap, f.err
}

type received struct {
	mu    sync.Mutex
	snaps []*model.DocumentSnapshot
	errs  []error
}

func (r *received) notify(snap *model.DocumentSnapshot, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.errs = append(r.errs, err)
		return
	}
	r.snaps = append(r.snaps, snap)
}

func (r *received) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

func TestWatchGroup_ListenDocument(t *testing.T) {
	feed := NewLocalFeed(nil, nil)
	group := NewWatchGroup()
	ctx := context.Background()
	ref := model.Doc("users/alice")
	t0 := time.Now()

	doc := &fakeDoc{snap: model.MissingDocumentSnapshot(ref)}
	r := &received{}
	reg := group.ListenDocument(ctx, feed, ref, doc.get, r.notify)
	require.Eventually(t, func() bool { return r.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, group.Len())

	doc.set(model.NewDocumentSnapshot(ref, map[string]any{"age": 1}, t0, t0))
	require.NoError(t, feed.Publish(ctx, model.NewChangeEvent(model.EventTypeCreated, ref, nil)))
	require.Eventually(t, func() bool { return r.count() == 2 }, time.Second, 5*time.Millisecond)

	// Same version and unrelated paths produce nothing.
	require.NoError(t, feed.Publish(ctx, model.NewChangeEvent(model.EventTypeUpdated, ref, nil)))
	require.NoError(t, feed.Publish(ctx, model.NewChangeEvent(model.EventTypeCreated, model.Doc("users/bob"), nil)))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, r.count())

	reg.Remove()
	reg.Remove()
	assert.Zero(t, group.Len())
}

func TestWatchGroup_ReadErrorEndsWatch(t *testing.T) {
	feed := NewLocalFeed(nil, nil)
	group := NewWatchGroup()
	boom := errors.New("boom")

	doc := &fakeDoc{err: boom}
	r := &received{}
	group.ListenDocument(context.Background(), feed, model.Doc("users/alice"), doc.get, r.notify)

	require.Eventually(t, func() bool { return group.Len() == 0 }, time.Second, 5*time.Millisecond)
	r.mu.Lock()
	defer r.mu.Unlock()
	require.Len(t, r.errs, 1)
	assert.Same(t, boom, r.errs[0])
}

func TestWatchGroup_ClosedFeedFailsListen(t *testing.T) {
	feed := NewLocalFeed(nil, nil)
	require.NoError(t, feed.Close())
	group := NewWatchGroup()

	r := &received{}
	group.ListenQuery(context.Background(), feed, model.Collection("users").Query(),
		func(context.Context) (*model.QuerySnapshot, error) { return &model.QuerySnapshot{}, nil },
		func(_ *model.QuerySnapshot, err error) { r.notify(nil, err) })

	require.Len(t, r.errs, 1)
	assert.ErrorIs(t, r.errs[0], ErrFeedClosed)
	assert.Zero(t, group.Len())
}

func TestWatchGroup_RemoveAll(t *testing.T) {
	feed := NewLocalFeed(nil, nil)
	group := NewWatchGroup()
	q := model.Collection("users").Query()

	for i := 0; i < 3; i++ {
		group.ListenQuery(context.Background(), feed, q,
			func(context.Context) (*model.QuerySnapshot, error) { return &model.QuerySnapshot{Query: q}, nil },
			func(*model.QuerySnapshot, error) {})
	}
	assert.Equal(t, 3, group.Len())

	group.RemoveAll()
	assert.Zero(t, group.Len())
}

func TestSameVersions(t *testing.T) {
	t0 := time.Now()
	a := model.NewDocumentSnapshot(model.Doc("users/a"), nil, t0, t0)
	b := model.NewDocumentSnapshot(model.Doc("users/b"), nil, t0, t0)
	b2 := model.NewDocumentSnapshot(model.Doc("users/b"), nil, t0, t0.Add(time.Millisecond))

	one := versions(&model.QuerySnapshot{Documents: []*model.DocumentSnapshot{a, b}})
	assert.True(t, sameVersions(one, versions(&model.QuerySnapshot{Documents: []*model.DocumentSnapshot{a, b}})))
	assert.False(t, sameVersions(one, versions(&model.QuerySnapshot{Documents: []*model.DocumentSnapshot{b, a}})))
	assert.False(t, sameVersions(one, versions(&model.QuerySnapshot{Documents: []*model.DocumentSnapshot{a, b2}})))
	assert.False(t, sameVersions(one, versions(&model.QuerySnapshot{Documents: []*model.DocumentSnapshot{a}})))
}
