package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/callmedenchick/ledgerbridge/internal/connector"
	"github.com/callmedenchick/ledgerbridge/internal/host/hosttest"
	"github.com/callmedenchick/ledgerbridge/internal/models"
	"github.com/callmedenchick/ledgerbridge/internal/storage"
	"github.com/callmedenchick/ledgerbridge/internal/utils"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testConnector   = "https://connector.test/#/v2"
	testExtensionID = "ext-id"
	waitTimeout     = 2 * time.Second
)

type testSession struct {
	SessionID  string `json:"sessionId"`
	State      string `json:"state"`
	URL        string `json:"url"`
	TargetName string `json:"targetName"`
	Ready      bool   `json:"ready"`
	Pending    int    `json:"pending"`
}

type fixture struct {
	e       *echo.Echo
	h       *handler
	host    *hosttest.Host
	journal *storage.MemJournal
}

func newFixture(t *testing.T, readyTimeout time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		e:       echo.New(),
		host:    hosttest.NewHost(),
		journal: storage.NewMemJournal(time.Hour),
	}
	f.h = NewHandler(f.host, f.journal, connector.Options{
		ConnectorURL: testConnector,
		ExtensionID:  testExtensionID,
	}, readyTimeout, waitTimeout)
	f.h.Register(f.e)
	t.Cleanup(func() {
		f.h.Close()
		f.journal.Close()
	})
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) doAsync(method, path, body string) <-chan *httptest.ResponseRecorder {
	ch := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		ch <- f.do(method, path, body)
	}()
	return ch
}

func (f *fixture) createSession(t *testing.T, body string) testSession {
	t.Helper()
	rec := f.do(http.MethodPost, "/ledger/session", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var s testSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	return s
}

func (f *fixture) connect(t *testing.T, s testSession) *hosttest.Port {
	t.Helper()
	p := hosttest.NewPort(s.TargetName, models.Sender{ID: testExtensionID, URL: s.URL})
	require.True(t, f.host.Connect(p))
	return p
}

func sent(t *testing.T, p *hosttest.Port) models.Request {
	t.Helper()
	select {
	case req := <-p.Sent:
		return req
	case <-time.After(waitTimeout):
		t.Fatal("no request was posted")
		return models.Request{}
	}
}

func response(t *testing.T, ch <-chan *httptest.ResponseRecorder) *httptest.ResponseRecorder {
	t.Helper()
	select {
	case rec := <-ch:
		return rec
	case <-time.After(waitTimeout):
		t.Fatal("no response")
		return nil
	}
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var res utils.HttpRes
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res.Message
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t, waitTimeout)

	assert.Equal(t, http.StatusConflict, f.do(http.MethodGet, "/ledger/session", "").Code)

	s := f.createSession(t, `{"connectionType":"u2f","locale":"ja-JP"}`)
	assert.NotEmpty(t, s.SessionID)
	assert.Equal(t, "AWAITING_CONNECTION", s.State)
	assert.Equal(t, "https://connector.test/#/v2/?transport=u2f&locale=ja-JP", s.URL)
	assert.Equal(t, "YOROI-LEDGER-CONNECT-ext-id", s.TargetName)
	assert.False(t, s.Ready)

	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/ledger/session", "").Code)

	f.connect(t, s)
	rec := f.do(http.MethodGet, "/ledger/session", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got testSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, s.SessionID, got.SessionID)
	assert.Equal(t, "READY", got.State)
	assert.True(t, got.Ready)

	assert.Equal(t, http.StatusOK, f.do(http.MethodDelete, "/ledger/session", "").Code)
	tabs := f.host.Tabs()
	require.Len(t, tabs, 1)
	assert.Equal(t, []int{tabs[0].ID}, f.host.Closed)
	assert.Equal(t, http.StatusConflict, f.do(http.MethodGet, "/ledger/session", "").Code)
	assert.Equal(t, http.StatusConflict, f.do(http.MethodDelete, "/ledger/session", "").Code)

	// a new session can follow a disposed one
	f.createSession(t, "")
}

func TestCreateSessionFailures(t *testing.T) {
	f := newFixture(t, waitTimeout)
	rec := f.do(http.MethodPost, "/ledger/session", `{"connectionType":"bluetooth"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, errorMessage(t, rec), "un-supported transport protocol")

	f.host.NoActiveTab = true
	rec = f.do(http.MethodPost, "/ledger/session", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/ledger/session", `{"locale":`).Code)
}

func TestSessionEndsWithHostUnload(t *testing.T) {
	f := newFixture(t, waitTimeout)
	f.createSession(t, "")
	f.host.Unload()
	assert.Eventually(t, func() bool {
		return f.do(http.MethodGet, "/ledger/session", "").Code == http.StatusConflict
	}, waitTimeout, 10*time.Millisecond)
}

func TestOperationRoundTrip(t *testing.T) {
	f := newFixture(t, waitTimeout)
	p := f.connect(t, f.createSession(t, ""))

	ch := f.doAsync(http.MethodPost, "/ledger/ledger-get-extended-public-key",
		`{"serial":"0001","params":{"path":[2147485500,2147485463,2147483648]}}`)
	req := sent(t, p)
	assert.Equal(t, connector.ActionGetExtendedPublicKey, req.Action)
	assert.Equal(t, "0001", req.Serial)
	assert.Equal(t, testExtensionID, req.Extension)
	assert.JSONEq(t, `{"path":[2147485500,2147485463,2147483648]}`, string(req.Params))

	p.Reply(models.Reply{
		Action:    connector.ActionGetExtendedPublicKey + "-reply",
		Success:   true,
		Payload:   json.RawMessage(`{"response":{"publicKeyHex":"ab"}}`),
		RequestID: req.RequestID,
	})
	rec := response(t, ch)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"payload":{"response":{"publicKeyHex":"ab"}}}`, rec.Body.String())

	assert.Eventually(t, func() bool {
		rec := f.do(http.MethodGet, "/ledger/journal", "")
		var entries []models.JournalEntry
		if rec.Code != http.StatusOK || json.Unmarshal(rec.Body.Bytes(), &entries) != nil || len(entries) != 2 {
			return false
		}
		for _, e := range entries {
			if e.Kind == models.JournalReply && e.Success && e.RequestID == req.RequestID {
				return true
			}
		}
		return false
	}, waitTimeout, 10*time.Millisecond)
}

func TestOperationFailures(t *testing.T) {
	f := newFixture(t, waitTimeout)
	p := f.connect(t, f.createSession(t, ""))

	ch := f.doAsync(http.MethodPost, "/ledger/ledger-get-version", "")
	req := sent(t, p)
	assert.Empty(t, req.Params)
	p.Reply(models.Reply{
		Action:    connector.ActionGetVersion + "-reply",
		Payload:   json.RawMessage(`{"error":"Device locked"}`),
		RequestID: req.RequestID,
	})
	rec := response(t, ch)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "Device locked", errorMessage(t, rec))

	ch = f.doAsync(http.MethodPost, "/ledger/ledger-get-serial", "")
	sent(t, p)
	p.Disconnect()
	rec = response(t, ch)
	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Equal(t, connector.CancelledByUser, errorMessage(t, rec))
}

func TestOperationRejectsBadRequests(t *testing.T) {
	f := newFixture(t, waitTimeout)

	rec := f.do(http.MethodPost, "/ledger/ledger-format-disk", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/ledger/ledger-get-version", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(http.MethodPost, "/ledger/ledger-derive-address", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/ledger/ledger-get-extended-public-key", `{"params":{"path":"m/1852'"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, errorMessage(t, rec), "invalid params")
}

func TestOperationWaitsForReadiness(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)
	s := f.createSession(t, "")

	rec := f.do(http.MethodPost, "/ledger/ledger-get-version", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	f.h.readyTimeout = waitTimeout
	ch := f.doAsync(http.MethodPost, "/ledger/ledger-get-version", "")
	time.Sleep(20 * time.Millisecond)
	p := f.connect(t, s)
	req := sent(t, p)
	p.Reply(models.Reply{Action: connector.ActionGetVersion + "-reply", Success: true, Payload: json.RawMessage(`{"major":2}`)})
	rec = response(t, ch)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, req.RequestID)
}

func TestJournalHandler(t *testing.T) {
	f := newFixture(t, waitTimeout)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/ledger/journal?limit=abc", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/ledger/journal?limit=-1", "").Code)

	rec := f.do(http.MethodGet, "/ledger/journal", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestOperationStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{&connector.ReplyError{Message: connector.CancelledByUser}, http.StatusGone},
		{&connector.ReplyError{Message: "Device locked"}, http.StatusUnprocessableEntity},
		{connector.ErrDisposed, http.StatusConflict},
		{connector.ErrPortNotReady, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.status, operationStatus(c.err), c.err.Error())
	}
}

type brokenJournal struct {
	storage.Journal
}

func (brokenJournal) HealthCheck() error {
	return errors.New("down")
}

func TestHealthAndReady(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	journal := storage.NewMemJournal(time.Hour)
	defer journal.Close()
	rec = httptest.NewRecorder()
	ReadyHandler(journal)(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	ReadyHandler(brokenJournal{})(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
