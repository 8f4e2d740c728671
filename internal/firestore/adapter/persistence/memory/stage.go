package memory

import (
	"time"

	"rxfirestore/internal/firestore/domain/model"
	apperrors "rxfirestore/internal/shared/errors"
)

// stage buffers writes over the committed documents. A nil pending record
// marks a delete.
type stage struct {
	store   *Store
	now     time.Time
	pending map[string]*record
	order   []string
}

func newStage(s *Store, now time.Time) *stage {
	return &stage{store: s, now: now, pending: make(map[string]*record)}
}

func (st *stage) read(path string) *record {
	if rec, ok := st.pending[path]; ok {
		return rec
	}
	return st.store.docs[path]
}

func (st *stage) put(path string, rec *record) {
	if _, ok := st.pending[path]; !ok {
		st.order = append(st.order, path)
	}
	st.pending[path] = rec
}

func (st *stage) apply(op model.WriteOperation) error {
	if err := op.Validate(); err != nil {
		return err
	}
	path := op.Ref.Path
	existing := st.read(path)

	switch op.Type {
	case model.WriteTypeDelete:
		st.put(path, nil)
		return nil

	case model.WriteTypeUpdate:
		if existing == nil {
			return apperrors.NewNotFoundError("document " + path).WithComponent("memory_store")
		}
		data, err := model.ApplyUpdate(existing.data, op.Data)
		if err != nil {
			return err
		}
		st.put(path, &record{ref: op.Ref, data: data, createTime: existing.createTime, updateTime: st.now})
		return nil

	default:
		var current map[string]any
		created := st.now
		if existing != nil {
			current = existing.data
			created = existing.createTime
		}
		data, err := model.ApplySet(current, op.Data, op.Options)
		if err != nil {
			return err
		}
		st.put(path, &record{ref: op.Ref, data: data, createTime: created, updateTime: st.now})
		return nil
	}
}

// commit moves pending records into the store and returns one change
// event per document whose existence or content changed.
func (st *stage) commit() []model.ChangeEvent {
	var events []model.ChangeEvent
	for _, path := range st.order {
		prev := st.store.docs[path]
		next := st.pending[path]
		switch {
		case next == nil && prev == nil:
		case next == nil:
			delete(st.store.docs, path)
			events = append(events, model.NewChangeEvent(model.EventTypeDeleted, prev.ref, nil))
		case prev == nil:
			st.store.docs[path] = next
			events = append(events, model.NewChangeEvent(model.EventTypeCreated, next.ref, next.data))
		default:
			st.store.docs[path] = next
			events = append(events, model.NewChangeEvent(model.EventTypeUpdated, next.ref, next.data))
		}
	}
	return events
}
