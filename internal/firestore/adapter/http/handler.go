package http

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"rxfirestore/internal/firestore/domain/model"
	"rxfirestore/internal/firestore/usecase"
	apperrors "rxfirestore/internal/shared/errors"
	"rxfirestore/internal/shared/logger"

	"github.com/gofiber/fiber/v2"
)

// Handler serves the reactive document API over REST. Every request awaits
// one Single from the usecase layer, so the gateway speaks the same
// semantics as an in-process caller.
type Handler struct {
	firestore        *usecase.FirestoreUsecase
	log              logger.Logger
	deleteBatchLimit int
	healthCheck      func(ctx context.Context) error
}

// NewHandler creates a Handler. deleteBatchLimit is the page size used by
// collection deletes that do not pass ?batchLimit.
func NewHandler(firestoreUC *usecase.FirestoreUsecase, deleteBatchLimit int, log logger.Logger) *Handler {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if deleteBatchLimit <= 0 {
		deleteBatchLimit = usecase.DefaultDeleteBatchLimit
	}
	return &Handler{
		firestore:        firestoreUC,
		log:              log.WithComponent("http_gateway"),
		deleteBatchLimit: deleteBatchLimit,
	}
}

// RegisterRoutes registers /health and the /v1 API. middleware guards /v1
// only.
func (h *Handler) RegisterRoutes(router fiber.Router, middleware ...fiber.Handler) {
	router.Get("/health", h.Health)

	v1 := router.Group("/v1", middleware...)

	// Document endpoints
	v1.Get("/documents/*", h.GetDocument)
	v1.Put("/documents/*", h.SetDocument)
	v1.Patch("/documents/*", h.UpdateDocument)
	v1.Delete("/documents/*", h.DeleteDocument)

	// Collection endpoints
	v1.Get("/collections/*", h.GetCollection)
	v1.Post("/collections/*", h.AddDocument)
	v1.Delete("/collections/*", h.DeleteCollection)

	v1.Post("/query", h.RunQuery)
	v1.Post("/batch", h.CommitBatch)
}

// Health reports whether the gateway and its backend are serving.
func (h *Handler) Health(c *fiber.Ctx) error {
	if h.healthCheck != nil {
		if err := h.healthCheck(c.UserContext()); err != nil {
			h.log.WithContext(c.UserContext()).Warnf("Health check failed: %v", err)
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status":    "UNHEALTHY",
				"error":     err.Error(),
				"timestamp": time.Now().UTC(),
			})
		}
	}
	return c.JSON(fiber.Map{
		"status":    "HEALTHY",
		"timestamp": time.Now().UTC(),
	})
}

// GetDocument returns the document snapshot, which may not exist.
func (h *Handler) GetDocument(c *fiber.Ctx) error {
	ref := model.Doc(c.Params("*"))
	snap, err := h.firestore.Doc(ref).Get().Await(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(snap)
}

// SetDocument overwrites the document, or merges it when ?merge=true or
// ?mergeFields=a,b.c is given.
func (h *Handler) SetDocument(c *fiber.Ctx) error {
	fields, err := bodyFields(c)
	if err != nil {
		return err
	}
	doc := h.firestore.Doc(model.Doc(c.Params("*")))

	opts := model.SetOptions{Merge: c.QueryBool("merge")}
	if raw := c.Query("mergeFields"); raw != "" {
		opts.MergeFields = strings.Split(raw, ",")
	}
	if opts.IsMerge() {
		_, err = doc.SetWithOptions(fields, opts).Await(c.UserContext())
	} else {
		_, err = doc.Set(fields).Await(c.UserContext())
	}
	if err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// UpdateDocument updates dotted field paths of an existing document.
func (h *Handler) UpdateDocument(c *fiber.Ctx) error {
	fields, err := bodyFields(c)
	if err != nil {
		return err
	}
	if _, err := h.firestore.Doc(model.Doc(c.Params("*"))).Update(fields).Await(c.UserContext()); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// DeleteDocument deletes the document. Deleting a missing document
// succeeds.
func (h *Handler) DeleteDocument(c *fiber.Ctx) error {
	if _, err := h.firestore.Doc(model.Doc(c.Params("*"))).Delete().Await(c.UserContext()); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// GetCollection reads the collection, bounded by ?limit when given.
func (h *Handler) GetCollection(c *fiber.Ctx) error {
	col := h.firestore.Collection(model.Collection(c.Params("*")))

	var (
		snap model.QuerySnapshot
		err  error
	)
	if limit := c.QueryInt("limit", 0); limit != 0 {
		snap, err = col.Limit(limit).GetAll().Await(c.UserContext())
	} else {
		snap, err = col.GetAll().Await(c.UserContext())
	}
	if err != nil {
		return err
	}
	return c.JSON(snap)
}

// AddDocument creates a document with a generated id and returns its
// reference.
func (h *Handler) AddDocument(c *fiber.Ctx) error {
	fields, err := bodyFields(c)
	if err != nil {
		return err
	}
	ref, err := h.firestore.Collection(model.Collection(c.Params("*"))).Add(fields).Await(c.UserContext())
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(ref)
}

// DeleteCollection deletes one page of at most ?batchLimit documents and
// returns how many were deleted. Clients repeat the call until it reports
// zero.
func (h *Handler) DeleteCollection(c *fiber.Ctx) error {
	batchLimit := c.QueryInt("batchLimit", h.deleteBatchLimit)
	col := h.firestore.Collection(model.Collection(c.Params("*")))

	deleted, err := col.DeleteAllCount(batchLimit).Await(c.UserContext())
	if err != nil {
		return err
	}
	h.log.WithContext(c.UserContext()).Debugf("Deleted %d documents from %s", deleted, col.Ref().Path)
	return c.JSON(fiber.Map{"deleted": deleted})
}

// RunQuery reads a query given as a JSON model.Query.
func (h *Handler) RunQuery(c *fiber.Ctx) error {
	var q model.Query
	if err := json.Unmarshal(c.Body(), &q); err != nil {
		return invalidBody(err)
	}
	snap, err := h.firestore.Query(q).GetAll().Await(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(snap)
}

// CommitBatch applies a JSON array of write operations atomically.
func (h *Handler) CommitBatch(c *fiber.Ctx) error {
	var ops []model.WriteOperation
	if err := json.Unmarshal(c.Body(), &ops); err != nil {
		return invalidBody(err)
	}
	batch := h.firestore.Batch()
	for _, op := range ops {
		if err := op.Validate(); err != nil {
			return err
		}
		batch.Apply(op)
	}
	if _, err := batch.Commit().Await(c.UserContext()); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// bodyFields decodes the request body as document fields. An empty body is
// an empty document.
func bodyFields(c *fiber.Ctx) (map[string]any, error) {
	body := c.Body()
	if len(body) == 0 {
		return map[string]any{}, nil
	}
	fields, err := model.DecodeFields(body)
	if err != nil {
		return nil, invalidBody(err)
	}
	if fields == nil {
		fields = map[string]any{}
	}
	return fields, nil
}

func invalidBody(err error) error {
	return apperrors.NewValidationError("invalid request body").WithCause(err).WithComponent("http_gateway")
}
