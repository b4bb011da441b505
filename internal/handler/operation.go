package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/callmedenchick/ledgerbridge/internal/connector"
	"github.com/callmedenchick/ledgerbridge/internal/models"
	"github.com/callmedenchick/ledgerbridge/internal/utils"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

type operationRequest struct {
	Serial string          `json:"serial"`
	Params json.RawMessage `json:"params"`
}

type operationResponse struct {
	Success bool            `json:"success"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (h *handler) OperationHandler(c echo.Context) error {
	action := c.Param("action")
	log := log.WithField("prefix", "OperationHandler").WithField("action", action)

	if !slices.Contains(connector.Actions(), action) {
		badRequestMetric.Inc()
		return fail(c, "unknown", fmt.Sprintf("unknown action %q", action), http.StatusBadRequest)
	}
	var req operationRequest
	if err := c.Bind(&req); err != nil {
		badRequestMetric.Inc()
		log.Error(err)
		return fail(c, action, "invalid operation request", http.StatusBadRequest)
	}
	if err := checkParams(action, req.Params); err != nil {
		badRequestMetric.Inc()
		log.Error(err)
		return fail(c, action, err.Error(), http.StatusBadRequest)
	}

	b := h.current()
	if b == nil {
		return fail(c, action, "no active session", http.StatusConflict)
	}

	ctx := c.Request().Context()
	readyCtx, cancel := withTimeout(ctx, h.readyTimeout)
	err := b.WaitReady(readyCtx)
	cancel()
	if err != nil {
		log.Errorf("connector is not ready: %v", err)
		return fail(c, action, err.Error(), operationStatus(err))
	}

	callCtx, cancel := withTimeout(ctx, h.requestTimeout)
	defer cancel()
	call := connector.Call{Serial: req.Serial}
	if len(req.Params) > 0 {
		call.Params = req.Params
	}
	payload, err := b.Do(callCtx, action, call)
	if err != nil {
		log.Infof("operation failed: %v", err)
		return fail(c, action, err.Error(), operationStatus(err))
	}
	operationsMetric.WithLabelValues(action, strconv.Itoa(http.StatusOK)).Inc()
	return c.JSON(http.StatusOK, operationResponse{Success: true, Payload: payload})
}

func fail(c echo.Context, action string, msg string, status int) error {
	operationsMetric.WithLabelValues(action, strconv.Itoa(status)).Inc()
	return c.JSON(utils.HttpResError(msg, status))
}

// operationStatus maps a bridge error to the response status.
func operationStatus(err error) int {
	var replyErr *connector.ReplyError
	switch {
	case connector.IsCancelled(err):
		return http.StatusGone
	case errors.As(err, &replyErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, connector.ErrDisposed):
		return http.StatusConflict
	case errors.Is(err, connector.ErrPortNotReady),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// checkParams rejects params that do not decode into the SDK request shape
// of the action. Actions without params accept anything.
func checkParams(action string, params json.RawMessage) error {
	var target any
	switch action {
	case connector.ActionGetExtendedPublicKey:
		target = &models.GetExtendedPublicKeyRequest{}
	case connector.ActionDeriveAddress:
		target = &models.DeriveAddressRequest{}
	case connector.ActionShowAddress:
		target = &models.ShowAddressRequest{}
	case connector.ActionSignTransaction:
		target = &models.SignTransactionRequest{}
	default:
		return nil
	}
	if len(params) == 0 {
		return fmt.Errorf("param \"params\" not present")
	}
	if err := json.Unmarshal(params, target); err != nil {
		return fmt.Errorf("invalid params for %s: %w", action, err)
	}
	return nil
}
