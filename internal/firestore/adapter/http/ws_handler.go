package http

import (
	"context"
	"encoding/json"
	"sync"

	"rxfirestore/internal/firestore/domain/model"
	"rxfirestore/internal/firestore/usecase"
	"rxfirestore/internal/shared/contextkeys"
	apperrors "rxfirestore/internal/shared/errors"
	"rxfirestore/internal/shared/logger"
	"rxfirestore/internal/shared/reactive"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// WebSocketHandler serves document and query listens. Each subscription on
// a connection is one Stream subscription, disposed on unsubscribe or when
// the connection closes.
type WebSocketHandler struct {
	firestore  *usecase.FirestoreUsecase
	log        logger.Logger
	sendBuffer int
}

// NewWebSocketHandler creates a WebSocketHandler. sendBuffer is the number
// of frames queued per connection before the client is dropped as too
// slow.
func NewWebSocketHandler(firestoreUC *usecase.FirestoreUsecase, sendBuffer int, log logger.Logger) *WebSocketHandler {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if sendBuffer <= 0 {
		sendBuffer = 10
	}
	return &WebSocketHandler{
		firestore:  firestoreUC,
		log:        log.WithComponent("ws_gateway"),
		sendBuffer: sendBuffer,
	}
}

// RegisterRoutes registers the listen endpoint at path behind middleware.
func (h *WebSocketHandler) RegisterRoutes(router fiber.Router, path string, middleware ...fiber.Handler) {
	handlers := append([]fiber.Handler{}, middleware...)
	handlers = append(handlers, func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}, websocket.New(h.handleConnection))
	router.Get(path, handlers...)
}

// listenSession is the state of one WebSocket connection.
type listenSession struct {
	handler *WebSocketHandler
	conn    *websocket.Conn
	log     logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	send   chan model.SubscriptionMessage

	// closeMu guards conn after the handler has returned it to the pool.
	closeMu  sync.Mutex
	released bool

	mu   sync.Mutex
	subs map[string]reactive.Disposable
}

func (h *WebSocketHandler) handleConnection(conn *websocket.Conn) {
	ctx := context.WithValue(context.Background(), contextkeys.RequestIDKey, uuid.NewString())
	if user, ok := conn.Locals("user_id").(string); ok {
		ctx = context.WithValue(ctx, contextkeys.UserIDKey, user)
	}
	ctx, cancel := context.WithCancel(ctx)

	s := &listenSession{
		handler: h,
		conn:    conn,
		log:     h.log.WithContext(ctx),
		ctx:     ctx,
		cancel:  cancel,
		send:    make(chan model.SubscriptionMessage, h.sendBuffer),
		subs:    make(map[string]reactive.Disposable),
	}
	s.log.Info("WebSocket connection established")

	written := make(chan struct{})
	go func() {
		defer close(written)
		s.writeLoop()
	}()

	s.readLoop()

	cancel()
	s.disposeAll()
	<-written

	s.closeMu.Lock()
	s.released = true
	s.closeMu.Unlock()
	s.log.Info("WebSocket connection closed")
}

func (s *listenSession) readLoop() {
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warnf("WebSocket read failed: %v", err)
			}
			return
		}

		var req model.SubscriptionRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			s.fail("", apperrors.NewValidationError("invalid subscription message").WithCause(err))
			continue
		}

		switch req.Action {
		case model.ActionSubscribe:
			s.subscribe(req)
		case model.ActionUnsubscribe:
			s.unsubscribe(req.ID)
		default:
			s.fail(req.ID, apperrors.NewValidationError("unknown action: "+req.Action))
		}
	}
}

func (s *listenSession) writeLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.send:
			if err := s.conn.WriteJSON(msg); err != nil {
				s.log.Debugf("WebSocket write failed: %v", err)
				s.close()
				return
			}
		}
	}
}

// deliver queues a frame without blocking. A full queue drops the client.
func (s *listenSession) deliver(msg model.SubscriptionMessage) {
	select {
	case <-s.ctx.Done():
	case s.send <- msg:
	default:
		s.log.Warn("WebSocket client is too slow, closing connection")
		s.close()
	}
}

// close ends the session; the blocked read then returns.
func (s *listenSession) close() {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.released {
		return
	}
	s.cancel()
	_ = s.conn.Close()
}

func (s *listenSession) fail(id string, err error) {
	payload := NewErrorPayload(err)
	s.deliver(model.SubscriptionMessage{Type: model.MessageError, ID: id, Error: &payload})
}

// failed ends subscription id after its stream reported err.
func (s *listenSession) failed(id string) func(error) {
	return func(err error) {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
		s.log.WithFields(map[string]interface{}{"subscription": id}).Debugf("Listen failed: %v", err)
		s.fail(id, err)
	}
}

func (s *listenSession) subscribe(req model.SubscriptionRequest) {
	if req.ID == "" {
		s.fail("", apperrors.NewValidationError("subscription id is required"))
		return
	}
	if (req.Document == "") == (req.Query == nil) {
		s.fail(req.ID, apperrors.NewValidationError("exactly one of document or query is required"))
		return
	}

	// The entry is reserved first: a stream may fail synchronously inside
	// Subscribe and remove it.
	s.mu.Lock()
	if _, taken := s.subs[req.ID]; taken {
		s.mu.Unlock()
		s.fail(req.ID, apperrors.NewConflictError("subscription id already in use"))
		return
	}
	s.subs[req.ID] = nil
	s.mu.Unlock()

	opts := &model.ListenOptions{IncludeMetadataChanges: req.IncludeMetadataChanges}
	firestoreUC := s.handler.firestore
	var sub reactive.Disposable
	if req.Query != nil {
		sub = firestoreUC.Query(*req.Query).Listen(opts).Subscribe(s.ctx, func(snap model.QuerySnapshot) {
			s.deliver(model.SubscriptionMessage{Type: model.MessageSnapshot, ID: req.ID, Query: &snap})
		}, s.failed(req.ID))
	} else {
		sub = firestoreUC.Doc(model.Doc(req.Document)).Listen(opts).Subscribe(s.ctx, func(snap model.DocumentSnapshot) {
			s.deliver(model.SubscriptionMessage{Type: model.MessageSnapshot, ID: req.ID, Document: &snap})
		}, s.failed(req.ID))
	}

	s.mu.Lock()
	_, live := s.subs[req.ID]
	if live {
		s.subs[req.ID] = sub
	}
	s.mu.Unlock()
	if !live {
		sub.Dispose()
	}
}

func (s *listenSession) unsubscribe(id string) {
	s.mu.Lock()
	sub, ok := s.subs[id]
	delete(s.subs, id)
	s.mu.Unlock()

	if !ok {
		s.fail(id, apperrors.NewNotFoundError("subscription "+id))
		return
	}
	if sub != nil {
		sub.Dispose()
	}
	s.deliver(model.SubscriptionMessage{Type: model.MessageUnsubscribed, ID: id})
}

func (s *listenSession) disposeAll() {
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[string]reactive.Disposable)
	s.mu.Unlock()

	for _, sub := range subs {
		if sub != nil {
			sub.Dispose()
		}
	}
}
