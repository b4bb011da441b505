package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/callmedenchick/ledgerbridge/internal/connector"
	"github.com/callmedenchick/ledgerbridge/internal/host"
	"github.com/callmedenchick/ledgerbridge/internal/models"
	"github.com/callmedenchick/ledgerbridge/internal/storage"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWalletAPIOverWebSocket(t *testing.T) {
	wsHost := host.NewWSHost(nil, nil)
	journal := storage.NewMemJournal(time.Hour)
	defer journal.Close()

	h := NewHandler(wsHost, journal, connector.Options{
		ConnectorURL: testConnector,
		ExtensionID:  testExtensionID,
	}, waitTimeout, waitTimeout)
	e := echo.New()
	h.Register(e)
	e.GET("/connect", echo.WrapHandler(wsHost))
	srv := httptest.NewServer(e)
	defer srv.Close()
	defer wsHost.Close()
	defer h.Close()

	resp, err := http.Post(srv.URL+"/ledger/session", echo.MIMEApplicationJSON, nil)
	require.NoError(t, err)
	var s testSession
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&s))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// the connector page connects back
	page, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/connect", nil)
	require.NoError(t, err)
	defer page.Close()
	require.NoError(t, page.WriteJSON(models.Handshake{
		Name:   s.TargetName,
		Sender: models.Sender{ID: testExtensionID, URL: s.URL},
	}))

	type result struct {
		status int
		body   string
	}
	done := make(chan result, 1)
	go func() {
		resp, err := http.Post(srv.URL+"/ledger/ledger-get-serial", echo.MIMEApplicationJSON, nil)
		if err != nil {
			done <- result{}
			return
		}
		defer resp.Body.Close()
		var body json.RawMessage
		_ = json.NewDecoder(resp.Body).Decode(&body)
		done <- result{status: resp.StatusCode, body: string(body)}
	}()

	var req models.Request
	require.NoError(t, page.ReadJSON(&req))
	assert.Equal(t, connector.ActionGetSerial, req.Action)
	assert.Equal(t, s.TargetName, req.Target)
	require.NoError(t, page.WriteJSON(models.Reply{
		Action:    connector.ActionGetSerial + "-reply",
		Success:   true,
		Payload:   json.RawMessage(`{"serial":"0001"}`),
		RequestID: req.RequestID,
	}))

	select {
	case r := <-done:
		assert.Equal(t, http.StatusOK, r.status)
		assert.JSONEq(t, `{"success":true,"payload":{"serial":"0001"}}`, r.body)
	case <-time.After(waitTimeout):
		t.Fatal("operation did not complete")
	}

	del, err := http.NewRequest(http.MethodDelete, srv.URL+"/ledger/session", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(del)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// disposing closes the page's tab, which ends its connection
	_ = page.SetReadDeadline(time.Now().Add(waitTimeout))
	_, _, err = page.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}
