package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/baharkarakas/point-ledger/internal/api/httpx"
	"github.com/baharkarakas/point-ledger/internal/api/validate"
	"github.com/baharkarakas/point-ledger/internal/logger"
	"github.com/baharkarakas/point-ledger/internal/middleware"
	"github.com/baharkarakas/point-ledger/internal/models"
	"github.com/baharkarakas/point-ledger/internal/services"
)

const IdempotencyKeyHeader = "Idempotency-Key"

// StatusClientClosedRequest is the nginx convention for a client that hung up.
const StatusClientClosedRequest = 499

type PointLedger interface {
	Point(ctx context.Context, userID int64) (models.UserPoint, error)
	Histories(ctx context.Context, userID int64) ([]models.PointHistory, error)
	ChargeIdem(ctx context.Context, userID, amount int64, idemKey string) (models.UserPoint, error)
	UseIdem(ctx context.Context, userID, amount int64, idemKey string) (models.UserPoint, error)
}

type PointHandler struct {
	svc PointLedger
	log *slog.Logger
}

func NewPointHandler(svc PointLedger, log *slog.Logger) *PointHandler {
	if log == nil {
		log = slog.Default()
	}
	return &PointHandler{svc: svc, log: log}
}

type AmountRequest struct {
	Amount int64 `json:"amount" validate:"required,gt=0"`
}

func (h *PointHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	p, err := h.svc.Point(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

func (h *PointHandler) Histories(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	hs, err := h.svc.Histories(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, hs)
}

func (h *PointHandler) Charge(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.svc.ChargeIdem)
}

func (h *PointHandler) Use(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.svc.UseIdem)
}

type mutation func(ctx context.Context, userID, amount int64, idemKey string) (models.UserPoint, error)

func (h *PointHandler) mutate(w http.ResponseWriter, r *http.Request, fn mutation) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	var req AmountRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body", nil)
		return
	}
	if err := validate.Struct(req); err != nil {
		var fe validate.Errs
		if errors.As(err, &fe) {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", fe.Error(), fe)
			return
		}
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}

	p, err := fn(r.Context(), userID, req.Amount, r.Header.Get(IdempotencyKeyHeader))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

func userIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "user id must be a positive integer", nil)
		return 0, false
	}
	return id, true
}

func (h *PointHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ib *services.InsufficientBalanceError
	switch {
	case errors.As(err, &ib):
		httpx.WriteError(w, http.StatusConflict, "insufficient_balance", ib.Error(), map[string]int64{
			"current":   ib.Current,
			"requested": ib.Requested,
			"shortfall": ib.Shortfall(),
		})
	case errors.Is(err, services.ErrInvalidAmount):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "amount must be positive", nil)
	case errors.Is(err, services.ErrPointOverflow):
		httpx.WriteError(w, http.StatusUnprocessableEntity, "point_overflow", "resulting balance is too large", nil)
	case errors.Is(err, services.ErrIdempotencyMismatch):
		httpx.WriteError(w, http.StatusUnprocessableEntity, "idempotency_mismatch",
			"idempotency key was already used with a different amount", nil)
	case errors.Is(err, services.ErrLedgerInconsistent):
		httpx.WriteError(w, http.StatusInternalServerError, "ledger_inconsistent",
			"balance and history may be out of sync", nil)
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(w, http.StatusGatewayTimeout, "timeout", "request timed out", nil)
	case errors.Is(err, context.Canceled):
		// client went away; nobody reads this
		httpx.WriteError(w, StatusClientClosedRequest, "canceled", "client closed request", nil)
	default:
		h.log.Error("point request failed",
			slog.String("request_id", middleware.RequestIDFrom(r.Context())),
			logger.Err(err))
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "internal error", nil)
	}
}
