package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"PickFlow/internal/domain/models"
	domrepo "PickFlow/internal/domain/repository"
	"PickFlow/internal/usecase"
	xhttp "PickFlow/pkg/http"
	applogger "PickFlow/pkg/logger"
	"PickFlow/pkg/queue"
	"PickFlow/pkg/util"
)

// DepthReporter exposes queue backlog for the health endpoint.
type DepthReporter interface {
	Depth(ctx context.Context) (queue.Depth, error)
}

// SelectionEchoHandler serves stored selections and batch outcomes and
// accepts distributed batch triggers.
type SelectionEchoHandler struct {
	logger    *applogger.Logger
	store     domrepo.Store
	publisher queue.Publisher
	depth     DepthReporter
	loc       *time.Location
	dedupeTTL time.Duration
	now       func() time.Time
}

type HandlerOption func(*SelectionEchoHandler)

// WithQueue enables POST /api/runs/batch. depth may be nil.
func WithQueue(p queue.Publisher, depth DepthReporter, dedupeTTL time.Duration) HandlerOption {
	return func(h *SelectionEchoHandler) {
		h.publisher = p
		h.depth = depth
		if dedupeTTL > 0 {
			h.dedupeTTL = dedupeTTL
		}
	}
}

func WithLocation(loc *time.Location) HandlerOption {
	return func(h *SelectionEchoHandler) {
		if loc != nil {
			h.loc = loc
		}
	}
}

func NewSelectionEchoHandler(logger *applogger.Logger, store domrepo.Store, opts ...HandlerOption) *SelectionEchoHandler {
	if logger == nil {
		logger = applogger.Nop()
	}
	h := &SelectionEchoHandler{
		logger:    logger,
		store:     store,
		loc:       time.UTC,
		dedupeTTL: 24 * time.Hour,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *SelectionEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)
	g := e.Group("/api")
	g.GET("/selection/latest", h.LatestSelection)
	g.GET("/outcomes", h.Outcomes)
	g.POST("/runs/batch", h.TriggerBatch)
}

func (h *SelectionEchoHandler) LatestSelection(c echo.Context) error {
	sel, err := h.store.LatestSelection(c.Request().Context())
	if errors.Is(err, models.ErrNotFound) {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("no selection stored yet"))
	}
	if err != nil {
		h.logger.Error("latest selection error", applogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=60")
	return xhttp.SuccessResponse(c, sel)
}

func (h *SelectionEchoHandler) Outcomes(c echo.Context) error {
	req := &models.OutcomesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	runDate, err := util.ParseRunDate(req.Date, h.now(), h.loc)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
	}
	key := util.RunDateKey(runDate)

	outcomes, err := h.store.ListOutcomes(c.Request().Context(), key)
	if err != nil {
		h.logger.Error("list outcomes error", applogger.String("run_date", key), applogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.ListResponse(c, outcomes, int64(len(outcomes)))
}

type triggerResponse struct {
	MessageID string              `json:"message_id,omitempty"`
	Enqueued  bool                `json:"enqueued"`
	Trigger   models.BatchTrigger `json:"trigger"`
}

func (h *SelectionEchoHandler) TriggerBatch(c echo.Context) error {
	if h.publisher == nil {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("ERR_QUEUE_DISABLED", "batch queue is not enabled"))
	}
	req := &models.BatchTriggerRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if req.BatchIndex >= req.TotalBatches {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("batch_index %d out of range for %d batches", req.BatchIndex, req.TotalBatches))
	}
	runDate, err := util.ParseRunDate(req.RunDate, h.now(), h.loc)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
	}

	t := models.BatchTrigger{RunDate: util.RunDateKey(runDate), BatchIndex: req.BatchIndex, TotalBatches: req.TotalBatches}
	id, enqueued, err := h.publisher.EnqueueUnique(c.Request().Context(), usecase.BatchJobType, usecase.BatchDedupeKey(t), t, h.dedupeTTL)
	if err != nil {
		h.logger.Error("enqueue batch trigger error", applogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	h.logger.Info("batch trigger accepted",
		applogger.String("run_date", t.RunDate),
		applogger.Int("batch_index", t.BatchIndex),
		applogger.Bool("enqueued", enqueued),
	)
	return xhttp.DataResponse(c, http.StatusAccepted, triggerResponse{MessageID: id, Enqueued: enqueued, Trigger: t})
}

type healthResponse struct {
	Status string       `json:"status"`
	Store  string       `json:"store"`
	Queue  *queue.Depth `json:"queue,omitempty"`
}

func (h *SelectionEchoHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	res := healthResponse{Status: "ok", Store: "ok"}
	status := http.StatusOK
	if err := h.store.Health(ctx); err != nil {
		h.logger.Warn("store health check failed", applogger.Error(err))
		res.Status, res.Store = "degraded", err.Error()
		status = http.StatusServiceUnavailable
	}
	if h.depth != nil {
		if d, err := h.depth.Depth(ctx); err == nil {
			res.Queue = &d
		} else {
			h.logger.Warn("queue depth unavailable", applogger.Error(err))
		}
	}
	return xhttp.DataResponse(c, status, res)
}
