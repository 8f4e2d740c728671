// Package remote implements the callback backend contract against a running
// gateway: HTTP for one-shot calls and one WebSocket per listen.
package remote

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"rxfirestore/internal/firestore/config"
	"rxfirestore/internal/firestore/domain/model"
	"rxfirestore/internal/firestore/domain/repository"
	apperrors "rxfirestore/internal/shared/errors"
	"rxfirestore/internal/shared/logger"
	"rxfirestore/internal/shared/reactive"

	"github.com/fasthttp/websocket"
	"github.com/valyala/fasthttp"
)

const component = "remote_backend"

// Backend talks to cmd/server. Transactions cannot span HTTP requests and
// are reported as unsupported.
type Backend struct {
	baseURL string
	wsURL   string
	token   string
	timeout time.Duration

	client *fasthttp.Client
	dialer *websocket.Dialer
	logger logger.Logger

	mu      sync.Mutex
	listens map[*socketListen]struct{}
	wg      sync.WaitGroup
	closed  atomic.Bool
}

var _ repository.Backend = (*Backend)(nil)

// New creates a backend for the gateway at cfg.URL. wsPath is the gateway's
// listen endpoint.
func New(cfg config.RemoteConfig, wsPath string, log logger.Logger) (*Backend, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil || base.Host == "" {
		return nil, apperrors.NewValidationError("invalid gateway url " + cfg.URL).WithComponent(component)
	}

	ws := *base
	switch base.Scheme {
	case "http":
		ws.Scheme = "ws"
	case "https":
		ws.Scheme = "wss"
	default:
		return nil, apperrors.NewValidationError("gateway url must use http or https").WithComponent(component)
	}
	if wsPath == "" {
		wsPath = "/ws/v1/listen"
	}
	ws.Path = base.Path + wsPath

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Backend{
		baseURL: base.String(),
		wsURL:   ws.String(),
		token:   cfg.Token,
		timeout: timeout,
		client: &fasthttp.Client{
			Name:                "rxfirestore-remote",
			MaxIdleConnDuration: time.Minute,
		},
		dialer:  &websocket.Dialer{HandshakeTimeout: timeout},
		logger:  log.WithComponent(component),
		listens: make(map[*socketListen]struct{}),
	}, nil
}

func errClosed() error {
	return apperrors.NewBackendError("remote backend is closed").WithComponent(component)
}

// escapePath escapes each segment of a slash separated path.
func escapePath(path string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

// errorResponse is the gateway's error body.
type errorResponse struct {
	Error model.ErrorPayload `json:"error"`
}

// payloadError rebuilds the application error described by a gateway
// payload.
func payloadError(status int, p model.ErrorPayload) error {
	if p.Status != 0 {
		status = p.Status
	}
	message := p.Message
	if message == "" {
		message = fasthttp.StatusMessage(status)
	}
	return apperrors.FromHTTPStatus(status, apperrors.ErrorType(p.Type), message, p.Code).WithComponent(component)
}

// call is one gateway request.
type call struct {
	method string
	path   string
	query  map[string]string
	body   any
}

// do runs c and decodes a successful response into out when out is not
// nil.
func (b *Backend) do(ctx context.Context, c call, out any) error {
	if b.closed.Load() {
		return errClosed()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(b.baseURL + c.path)
	req.Header.SetMethod(c.method)
	for k, v := range c.query {
		req.URI().QueryArgs().Add(k, v)
	}
	if b.token != "" {
		req.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+b.token)
	}
	if c.body != nil {
		payload, err := json.Marshal(c.body)
		if err != nil {
			return apperrors.NewValidationError("cannot encode request body").WithCause(err).WithComponent(component)
		}
		req.Header.SetContentType("application/json")
		req.SetBody(payload)
	}

	deadline := time.Now().Add(b.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := b.client.DoDeadline(req, resp, deadline); err != nil {
		return apperrors.NewBackendError(c.method + " " + c.path + " failed").WithCause(err).WithComponent(component)
	}

	status := resp.StatusCode()
	if status >= fasthttp.StatusBadRequest {
		var body errorResponse
		if err := json.Unmarshal(resp.Body(), &body); err != nil {
			body.Error.Message = strings.TrimSpace(string(resp.Body()))
		}
		return payloadError(status, body.Error)
	}
	if out == nil || status == fasthttp.StatusNoContent {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return apperrors.NewBackendError("cannot decode gateway response").WithCause(err).WithComponent(component)
	}
	return nil
}

// track counts one more goroutine for Close to wait on. It reports false
// once Close has started; closed only flips under mu, so no Add can follow
// Close's Wait.
func (b *Backend) track() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Load() {
		return false
	}
	b.wg.Add(1)
	return true
}

// async runs fn on its own goroutine and completes with its outcome.
func async[T any](b *Backend, ctx context.Context, complete reactive.Completion[T], fn func(ctx context.Context) (*T, error)) {
	if !b.track() {
		complete(nil, errClosed())
		return
	}
	go func() {
		defer b.wg.Done()
		complete(fn(ctx))
	}()
}

func asyncErr(b *Backend, ctx context.Context, complete reactive.ErrCompletion, fn func(ctx context.Context) error) {
	if !b.track() {
		complete(errClosed())
		return
	}
	go func() {
		defer b.wg.Done()
		complete(fn(ctx))
	}()
}

func documentPath(ref model.DocumentRef) string {
	return "/v1/documents/" + escapePath(ref.Path)
}

func (b *Backend) GetDocument(ctx context.Context, ref model.DocumentRef, complete reactive.Completion[model.DocumentSnapshot]) {
	async(b, ctx, complete, func(ctx context.Context) (*model.DocumentSnapshot, error) {
		var snap model.DocumentSnapshot
		if err := b.do(ctx, call{method: fasthttp.MethodGet, path: documentPath(ref)}, &snap); err != nil {
			return nil, err
		}
		return &snap, nil
	})
}

func (b *Backend) SetDocument(ctx context.Context, ref model.DocumentRef, fields map[string]any, opts *model.SetOptions, complete reactive.ErrCompletion) {
	c := call{method: fasthttp.MethodPut, path: documentPath(ref), body: nonNil(fields)}
	if opts.IsMerge() {
		c.query = map[string]string{}
		if len(opts.MergeFields) > 0 {
			c.query["mergeFields"] = strings.Join(opts.MergeFields, ",")
		} else {
			c.query["merge"] = "true"
		}
	}
	asyncErr(b, ctx, complete, func(ctx context.Context) error {
		return b.do(ctx, c, nil)
	})
}

func (b *Backend) UpdateDocument(ctx context.Context, ref model.DocumentRef, fields map[string]any, complete reactive.ErrCompletion) {
	asyncErr(b, ctx, complete, func(ctx context.Context) error {
		return b.do(ctx, call{method: fasthttp.MethodPatch, path: documentPath(ref), body: nonNil(fields)}, nil)
	})
}

func (b *Backend) DeleteDocument(ctx context.Context, ref model.DocumentRef, complete reactive.ErrCompletion) {
	asyncErr(b, ctx, complete, func(ctx context.Context) error {
		return b.do(ctx, call{method: fasthttp.MethodDelete, path: documentPath(ref)}, nil)
	})
}

func (b *Backend) AddDocument(ctx context.Context, col model.CollectionRef, fields map[string]any, complete reactive.Completion[model.DocumentRef]) {
	async(b, ctx, complete, func(ctx context.Context) (*model.DocumentRef, error) {
		var ref model.DocumentRef
		c := call{method: fasthttp.MethodPost, path: "/v1/collections/" + escapePath(col.Path), body: nonNil(fields)}
		if err := b.do(ctx, c, &ref); err != nil {
			return nil, err
		}
		return &ref, nil
	})
}

func (b *Backend) GetDocuments(ctx context.Context, q model.Query, complete reactive.Completion[model.QuerySnapshot]) {
	async(b, ctx, complete, func(ctx context.Context) (*model.QuerySnapshot, error) {
		var snap model.QuerySnapshot
		if err := b.do(ctx, call{method: fasthttp.MethodPost, path: "/v1/query", body: q}, &snap); err != nil {
			return nil, err
		}
		return &snap, nil
	})
}

// RunTransaction always fails: a gateway transaction would have to hold
// server state across requests.
func (b *Backend) RunTransaction(ctx context.Context, fn repository.TransactionFunc, complete reactive.Completion[any]) {
	complete(nil, apperrors.NewUnsupportedError("transactions over the remote backend").WithComponent(component))
}

// Batch returns a single-use batch committed through POST /v1/batch.
func (b *Backend) Batch() repository.WriteBatch {
	return &batch{backend: b}
}

// Close stops every listen and waits for calls in flight.
func (b *Backend) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed.Swap(true) {
		b.mu.Unlock()
		return nil
	}
	listens := make([]*socketListen, 0, len(b.listens))
	for l := range b.listens {
		listens = append(listens, l)
	}
	b.mu.Unlock()
	for _, l := range listens {
		l.Remove()
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	b.client.CloseIdleConnections()
	return nil
}

func nonNil(fields map[string]any) map[string]any {
	if fields == nil {
		return map[string]any{}
	}
	return fields
}

type batch struct {
	backend   *Backend
	mu        sync.Mutex
	ops       []model.WriteOperation
	committed bool
}

func (w *batch) add(op model.WriteOperation) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.committed {
		w.backend.logger.Warnf("Dropping %s of %s queued after commit", op.Type, op.Ref.Path)
		return
	}
	w.ops = append(w.ops, op)
}

func (w *batch) Set(ref model.DocumentRef, fields map[string]any, opts *model.SetOptions) {
	w.add(model.SetOperation(ref, nonNil(fields), opts))
}

func (w *batch) Update(ref model.DocumentRef, fields map[string]any) {
	w.add(model.UpdateOperation(ref, fields))
}

func (w *batch) Delete(ref model.DocumentRef) {
	w.add(model.DeleteOperation(ref))
}

func (w *batch) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.ops)
}

func (w *batch) Commit(ctx context.Context, complete reactive.ErrCompletion) {
	w.mu.Lock()
	if w.committed {
		w.mu.Unlock()
		complete(apperrors.NewBatchCommittedError())
		return
	}
	w.committed = true
	ops := w.ops
	w.mu.Unlock()

	if len(ops) > apperrors.MaxBatchSize {
		complete(apperrors.NewBatchSizeExceededError(len(ops)))
		return
	}
	if len(ops) == 0 {
		complete(nil)
		return
	}
	asyncErr(w.backend, ctx, complete, func(ctx context.Context) error {
		return w.backend.do(ctx, call{method: fasthttp.MethodPost, path: "/v1/batch", body: ops}, nil)
	})
}
