package usecase

import (
	"sync/atomic"

	"rxfirestore/internal/firestore/domain/model"
	"rxfirestore/internal/firestore/domain/repository"
	"rxfirestore/internal/shared/logger"
	"rxfirestore/internal/shared/reactive"
)

// FirestoreUsecase hands out reactive adapters bound to one backend. It
// holds no state besides the backend and the logger, so handles may be
// created freely and shared.
type FirestoreUsecase struct {
	backend repository.Backend
	logger  logger.Logger
}

// NewFirestoreUsecase creates a new instance of FirestoreUsecase.
func NewFirestoreUsecase(backend repository.Backend, log logger.Logger) *FirestoreUsecase {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &FirestoreUsecase{
		backend: backend,
		logger:  log.WithComponent("firestore_usecase"),
	}
}

// Doc returns the adapter for one document.
func (uc *FirestoreUsecase) Doc(ref model.DocumentRef) *DocumentUsecase {
	return &DocumentUsecase{
		ref:     ref,
		backend: uc.backend,
		logger:  uc.logger.WithFields(map[string]interface{}{"document": ref.Path}),
	}
}

// Collection returns the adapter for one collection.
func (uc *FirestoreUsecase) Collection(ref model.CollectionRef) *CollectionUsecase {
	return &CollectionUsecase{
		ref:     ref,
		backend: uc.backend,
		root:    uc,
		logger:  uc.logger.WithFields(map[string]interface{}{"collection": ref.Path}),
	}
}

// Query returns the adapter for a filtered view of a collection.
func (uc *FirestoreUsecase) Query(q model.Query) *QueryUsecase {
	return &QueryUsecase{
		query:   q,
		backend: uc.backend,
		logger:  uc.logger.WithFields(map[string]interface{}{"query": q.Collection.Path}),
	}
}

// Batch starts a new write batch.
func (uc *FirestoreUsecase) Batch() *BatchUsecase {
	return &BatchUsecase{
		batch:  uc.backend.Batch(),
		logger: uc.logger,
	}
}

// traced wraps a completion so that repeated or empty completions coming
// from a misbehaving backend are logged. Delivery rules stay with the
// reactive bridge.
func traced[T any](log logger.Logger, op string, complete reactive.Completion[T]) reactive.Completion[T] {
	var settled atomic.Bool
	return func(value *T, err error) {
		if value == nil && err == nil {
			log.Warnf("%s completed without a value or an error", op)
			return
		}
		if !settled.CompareAndSwap(false, true) {
			log.Debugf("ignoring repeated %s completion", op)
			return
		}
		if value == nil {
			log.WithFields(map[string]interface{}{"error": err.Error()}).Debugf("%s failed", op)
		}
		complete(value, err)
	}
}

func tracedErr(log logger.Logger, op string, complete reactive.ErrCompletion) reactive.ErrCompletion {
	var settled atomic.Bool
	return func(err error) {
		if !settled.CompareAndSwap(false, true) {
			log.Debugf("ignoring repeated %s completion", op)
			return
		}
		if err != nil {
			log.WithFields(map[string]interface{}{"error": err.Error()}).Debugf("%s failed", op)
		}
		complete(err)
	}
}

// loggedRegistration logs when a listener is released.
func loggedRegistration(log logger.Logger, reg reactive.Registration) reactive.Registration {
	if reg == nil {
		return nil
	}
	return reactive.RegistrationFunc(func() {
		log.Debug("Releasing listener")
		reg.Remove()
	})
}
