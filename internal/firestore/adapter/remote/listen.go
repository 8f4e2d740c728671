package remote

import (
	"context"
	"net/http"
	"sync"
	"time"

	"rxfirestore/internal/firestore/domain/model"
	apperrors "rxfirestore/internal/shared/errors"
	"rxfirestore/internal/shared/reactive"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
)

// socketListen is one listen over its own WebSocket. Remove sends an
// unsubscribe frame and closes the socket.
type socketListen struct {
	backend *Backend
	id      string
	ctx     context.Context
	cancel  context.CancelFunc

	// mu serializes writes and guards conn.
	mu   sync.Mutex
	conn *websocket.Conn
	once sync.Once
}

func (l *socketListen) Remove() {
	l.once.Do(func() {
		l.cancel()
		l.mu.Lock()
		if l.conn != nil {
			_ = l.conn.SetWriteDeadline(time.Now().Add(time.Second))
			_ = l.conn.WriteJSON(model.SubscriptionRequest{Action: model.ActionUnsubscribe, ID: l.id})
			_ = l.conn.Close()
		}
		l.mu.Unlock()

		l.backend.mu.Lock()
		delete(l.backend.listens, l)
		l.backend.mu.Unlock()
	})
}

func (l *socketListen) stopped() bool {
	return l.ctx.Err() != nil
}

// open dials the gateway and sends the subscribe frame.
func (l *socketListen) open(req model.SubscriptionRequest) error {
	header := http.Header{}
	if l.backend.token != "" {
		header.Set("Authorization", "Bearer "+l.backend.token)
	}
	conn, resp, err := l.backend.dialer.DialContext(l.ctx, l.backend.wsURL, header)
	if err != nil {
		if resp != nil {
			return payloadError(resp.StatusCode, model.ErrorPayload{Message: "listen handshake rejected"})
		}
		return apperrors.NewBackendError("listen dial failed").WithCause(err).WithComponent(component)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped() {
		_ = conn.Close()
		return nil
	}
	l.conn = conn
	if err := conn.WriteJSON(req); err != nil {
		return apperrors.NewBackendError("listen subscribe failed").WithCause(err).WithComponent(component)
	}
	return nil
}

// listen runs req on a new socket and hands every frame for it to frame
// until the listen ends. frame returns false to end the listen.
func (b *Backend) listen(req model.SubscriptionRequest, fail func(error), frame func(model.SubscriptionMessage) bool) reactive.Registration {
	ctx, cancel := context.WithCancel(context.Background())
	req.ID = uuid.NewString()
	l := &socketListen{backend: b, id: req.ID, ctx: ctx, cancel: cancel}

	b.mu.Lock()
	if b.closed.Load() {
		b.mu.Unlock()
		cancel()
		fail(errClosed())
		return reactive.RegistrationFunc(func() {})
	}
	b.listens[l] = struct{}{}
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		defer l.Remove()

		if err := l.open(req); err != nil {
			if !l.stopped() {
				fail(err)
			}
			return
		}
		if l.stopped() {
			return
		}
		for {
			var msg model.SubscriptionMessage
			err := l.conn.ReadJSON(&msg)
			if l.stopped() {
				return
			}
			if err != nil {
				fail(apperrors.NewBackendError("listen connection lost").WithCause(err).WithComponent(component))
				return
			}
			if msg.ID != req.ID {
				continue
			}
			switch msg.Type {
			case model.MessageError:
				payload := model.ErrorPayload{Message: "listen failed"}
				if msg.Error != nil {
					payload = *msg.Error
				}
				fail(payloadError(http.StatusInternalServerError, payload))
				return
			case model.MessageUnsubscribed:
				return
			case model.MessageSnapshot:
				if !frame(msg) {
					return
				}
			}
		}
	}()
	return l
}

// ListenDocument opens a document listen on the gateway.
func (b *Backend) ListenDocument(ctx context.Context, ref model.DocumentRef, opts *model.ListenOptions, notify reactive.Notify[model.DocumentSnapshot]) reactive.Registration {
	req := model.SubscriptionRequest{Action: model.ActionSubscribe, Document: ref.Path}
	if opts != nil {
		req.IncludeMetadataChanges = opts.IncludeMetadataChanges
	}
	fail := func(err error) { notify(nil, err) }
	return b.listen(req, fail, func(msg model.SubscriptionMessage) bool {
		if msg.Document == nil {
			fail(apperrors.NewBackendError("snapshot frame without a document").WithComponent(component))
			return false
		}
		notify(msg.Document, nil)
		return true
	})
}

// ListenQuery opens a query listen on the gateway.
func (b *Backend) ListenQuery(ctx context.Context, q model.Query, opts *model.ListenOptions, notify reactive.Notify[model.QuerySnapshot]) reactive.Registration {
	req := model.SubscriptionRequest{Action: model.ActionSubscribe, Query: &q}
	if opts != nil {
		req.IncludeMetadataChanges = opts.IncludeMetadataChanges
	}
	fail := func(err error) { notify(nil, err) }
	return b.listen(req, fail, func(msg model.SubscriptionMessage) bool {
		if msg.Query == nil {
			fail(apperrors.NewBackendError("snapshot frame without a query result").WithComponent(component))
			return false
		}
		notify(msg.Query, nil)
		return true
	})
}
