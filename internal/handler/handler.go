package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/callmedenchick/ledgerbridge/internal/connector"
	"github.com/callmedenchick/ledgerbridge/internal/host"
	"github.com/callmedenchick/ledgerbridge/internal/models"
	"github.com/callmedenchick/ledgerbridge/internal/storage"
	"github.com/callmedenchick/ledgerbridge/internal/utils"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

var (
	badRequestMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_bridge_bad_requests",
		Help: "The total number of bad requests",
	})
	createdSessionsMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_bridge_created_sessions",
		Help: "The total number of created sessions",
	})
	operationsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_bridge_operations",
		Help: "The total number of operations by action and response status",
	}, []string{"action", "status"})
)

type sessionRequest struct {
	ConnectorURL   string `json:"connectorUrl"`
	ConnectionType string `json:"connectionType"`
	Locale         string `json:"locale"`
}

type sessionInfo struct {
	SessionID  string          `json:"sessionId"`
	State      connector.State `json:"state"`
	URL        string          `json:"url"`
	TargetName string          `json:"targetName"`
	Ready      bool            `json:"ready"`
	Pending    int             `json:"pending"`
}

type handler struct {
	mu             sync.Mutex
	bridge         *connector.Bridge
	host           host.Host
	journal        storage.Journal
	defaults       connector.Options
	readyTimeout   time.Duration
	requestTimeout time.Duration
}

// NewHandler serves one bridge session at a time. defaults fill in what a
// session request leaves out.
func NewHandler(h host.Host, journal storage.Journal, defaults connector.Options, readyTimeout, requestTimeout time.Duration) *handler {
	if journal != nil {
		defaults.Journal = journal
	}
	return &handler{
		host:           h,
		journal:        journal,
		defaults:       defaults,
		readyTimeout:   readyTimeout,
		requestTimeout: requestTimeout,
	}
}

func (h *handler) current() *connector.Bridge {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.bridge == nil || h.bridge.State() == connector.StateDisposed {
		return nil
	}
	return h.bridge
}

func info(b *connector.Bridge) sessionInfo {
	return sessionInfo{
		SessionID:  b.SessionID(),
		State:      b.State(),
		URL:        b.URL(),
		TargetName: b.TargetName(),
		Ready:      b.IsConnectorReady(),
		Pending:    b.Pending(),
	}
}

func (h *handler) CreateSessionHandler(c echo.Context) error {
	log := log.WithField("prefix", "CreateSessionHandler")

	var req sessionRequest
	if err := c.Bind(&req); err != nil {
		badRequestMetric.Inc()
		log.Error(err)
		return c.JSON(utils.HttpResError("invalid session request", http.StatusBadRequest))
	}

	opts := h.defaults
	if req.ConnectorURL != "" {
		opts.ConnectorURL = req.ConnectorURL
	}
	if req.ConnectionType != "" {
		opts.ConnectionType = models.ConnectionType(req.ConnectionType)
	}
	if req.Locale != "" {
		opts.Locale = req.Locale
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.bridge != nil && h.bridge.State() != connector.StateDisposed {
		return c.JSON(utils.HttpResError("session already exists", http.StatusConflict))
	}
	b, err := connector.New(c.Request().Context(), h.host, opts)
	if err != nil {
		log.Errorf("failed to create bridge: %v", err)
		if errors.Is(err, connector.ErrUnsupportedTransport) {
			badRequestMetric.Inc()
			return c.JSON(utils.HttpResError(err.Error(), http.StatusBadRequest))
		}
		return c.JSON(utils.HttpResError(err.Error(), http.StatusServiceUnavailable))
	}
	h.bridge = b
	createdSessionsMetric.Inc()
	log.Infof("session %v created, waiting for %v", b.SessionID(), b.URL())
	return c.JSON(http.StatusOK, info(b))
}

func (h *handler) GetSessionHandler(c echo.Context) error {
	b := h.current()
	if b == nil {
		return c.JSON(utils.HttpResError("no active session", http.StatusConflict))
	}
	return c.JSON(http.StatusOK, info(b))
}

func (h *handler) DeleteSessionHandler(c echo.Context) error {
	log := log.WithField("prefix", "DeleteSessionHandler")
	h.mu.Lock()
	b := h.bridge
	h.bridge = nil
	h.mu.Unlock()
	if b == nil || b.State() == connector.StateDisposed {
		return c.JSON(utils.HttpResError("no active session", http.StatusConflict))
	}
	b.Dispose()
	log.Infof("session %v disposed", b.SessionID())
	return c.JSON(http.StatusOK, utils.HttpResOk())
}

func (h *handler) JournalHandler(c echo.Context) error {
	log := log.WithField("prefix", "JournalHandler")
	limit := 0
	if l := c.QueryParam("limit"); l != "" {
		var err error
		limit, err = strconv.Atoi(l)
		if err != nil || limit < 0 {
			badRequestMetric.Inc()
			return c.JSON(utils.HttpResError("param \"limit\" should be a non-negative int", http.StatusBadRequest))
		}
	}
	if h.journal == nil {
		return c.JSON(http.StatusOK, []models.JournalEntry{})
	}
	entries, err := h.journal.Recent(c.Request().Context(), limit)
	if err != nil {
		log.Errorf("journal error: %v", err)
		return c.JSON(utils.HttpResError("journal is not available", http.StatusServiceUnavailable))
	}
	return c.JSON(http.StatusOK, entries)
}

// Close disposes the live session, if any.
func (h *handler) Close() {
	h.mu.Lock()
	b := h.bridge
	h.bridge = nil
	h.mu.Unlock()
	if b != nil {
		b.Dispose()
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// Register registers the wallet API routes.
func (h *handler) Register(e *echo.Echo) {
	e.POST("/ledger/session", h.CreateSessionHandler)
	e.GET("/ledger/session", h.GetSessionHandler)
	e.DELETE("/ledger/session", h.DeleteSessionHandler)
	e.GET("/ledger/journal", h.JournalHandler)
	e.POST("/ledger/:action", h.OperationHandler)
}
