// Package connector talks to a ledger connector page opened in the browser.
//
// A Bridge opens the page, waits for it to register a port, posts tagged
// requests on that port and resolves each request with the page's
// "<action>-reply" message. Closing the page fails the outstanding requests
// with CancelledByUser. Dispose closes the page and releases the port.
package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/callmedenchick/ledgerbridge/internal/host"
	"github.com/callmedenchick/ledgerbridge/internal/models"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	ActionGetVersion           = "ledger-get-version"
	ActionGetSerial            = "ledger-get-serial"
	ActionGetExtendedPublicKey = "ledger-get-extended-public-key"
	ActionDeriveAddress        = "ledger-derive-address"
	ActionShowAddress          = "ledger-show-address"
	ActionSignTransaction      = "ledger-sign-transaction"

	replySuffix = "-reply"

	disposeTimeout = 5 * time.Second
)

// Actions lists the action tags the connector page understands.
func Actions() []string {
	return []string{
		ActionGetVersion,
		ActionGetSerial,
		ActionGetExtendedPublicKey,
		ActionDeriveAddress,
		ActionShowAddress,
		ActionSignTransaction,
	}
}

// Recorder receives an audit entry for every exchange.
type Recorder interface {
	Record(ctx context.Context, entry models.JournalEntry) error
}

// Options configures a Bridge. Zero values take the package defaults.
type Options struct {
	ConnectorURL   string
	ConnectionType models.ConnectionType
	Locale         string
	ExtensionID    string
	// TargetName overrides the port name derived from ExtensionID.
	TargetName string
	Journal    Recorder
}

func (o Options) withDefaults() Options {
	if o.ConnectorURL == "" {
		o.ConnectorURL = DefaultConnectorURL
	}
	if o.ConnectionType == "" {
		o.ConnectionType = DefaultConnectionType
	}
	if o.Locale == "" {
		o.Locale = DefaultLocale
	}
	if o.TargetName == "" {
		o.TargetName = TargetName(o.ExtensionID)
	}
	return o
}

// Call carries the operation parameters, forwarded verbatim, and an
// optional device serial hint.
type Call struct {
	Serial string
	Params any
}

type result struct {
	reply models.Reply
	err   error
}

type pendingCall struct {
	id     string
	action string
	done   chan result
}

type Bridge struct {
	host           host.Host
	sessionID      string
	fullURL        string
	connectionType models.ConnectionType
	targetName     string
	extensionID    string
	journal        Recorder
	eventIDs       int64

	mu           sync.Mutex
	state        State
	extensionTab *host.Tab
	targetTab    *host.Tab
	port         host.Port
	pending      []*pendingCall
	unsubscribe  func()
	ready        chan struct{}
	disposed     chan struct{}
}

// New validates the connection type, opens the target page next to the
// active tab and starts listening for the port it registers.
func New(ctx context.Context, h host.Host, opts Options) (*Bridge, error) {
	if h == nil {
		return nil, ErrHostUnavailable
	}
	opts = opts.withDefaults()
	if !IsSupported(opts.ConnectionType) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedTransport, opts.ConnectionType)
	}

	b := &Bridge{
		host:           h,
		sessionID:      uuid.NewString(),
		fullURL:        MakeFullURL(opts.ConnectorURL, opts.ConnectionType, opts.Locale),
		connectionType: opts.ConnectionType,
		targetName:     opts.TargetName,
		extensionID:    opts.ExtensionID,
		journal:        opts.Journal,
		eventIDs:       time.Now().UnixMicro(),
		state:          StateUninitialized,
		ready:          make(chan struct{}),
		disposed:       make(chan struct{}),
	}
	if err := b.setupTarget(ctx); err != nil {
		return nil, err
	}
	activeSessionsMetric.Inc()
	go b.watchHost()
	return b, nil
}

func (b *Bridge) setupTarget(ctx context.Context) error {
	log := log.WithField("prefix", "Bridge.setupTarget")
	b.setState(StateTargetOpening)

	cur, err := b.host.ActiveTab(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoActiveTab, err)
	}
	if cur == nil {
		return ErrNoActiveTab
	}

	b.mu.Lock()
	b.extensionTab = cur
	b.mu.Unlock()
	unsubscribe := b.host.OnConnect(b.onPortConnected)

	log.Debugf("opening: %s", b.fullURL)
	tab, err := b.host.OpenTab(ctx, b.fullURL, cur.Index+1)
	if err != nil {
		unsubscribe()
		return fmt.Errorf("failed to open %s: %w", b.fullURL, err)
	}

	b.mu.Lock()
	b.targetTab = tab
	b.unsubscribe = unsubscribe
	if b.state == StateTargetOpening {
		b.state = StateAwaitingConnection
	}
	b.mu.Unlock()
	return nil
}

func (b *Bridge) watchHost() {
	select {
	case <-b.host.Done():
		log.WithField("prefix", "Bridge.watchHost").Debug("host unloading")
		b.Dispose()
	case <-b.disposed:
	}
}

func (b *Bridge) onPortConnected(p host.Port) bool {
	log := log.WithField("prefix", "Bridge.onPortConnected")
	sender := p.Sender()
	if p.Name() != b.targetName || sender.ID != b.extensionID || sender.URL != b.fullURL {
		wrongPortsMetric.Inc()
		log.Errorf("wrong port is trying to connect, PortName: %v SenderId: %v SenderURL: %v", p.Name(), sender.ID, sender.URL)
		return false
	}

	b.mu.Lock()
	if b.state == StateDisposed || b.port != nil {
		state := b.state
		b.mu.Unlock()
		log.Errorf("port %v refused in state %v", p.Name(), state)
		return false
	}
	b.port = p
	b.state = StateReady
	close(b.ready)
	b.mu.Unlock()

	log.Debugf("connected to %s", sender.URL)
	go b.readLoop(p)
	return true
}

func (b *Bridge) readLoop(p host.Port) {
	for reply := range p.Messages() {
		b.handleReply(reply)
	}
	b.onPortDisconnect(p)
}

func (b *Bridge) handleReply(reply models.Reply) {
	log := log.WithField("prefix", "Bridge.handleReply")

	b.mu.Lock()
	call := b.match(reply)
	if call != nil {
		b.removeLocked(call)
	}
	b.mu.Unlock()

	if call == nil {
		ignoredRepliesMetric.Inc()
		log.Debugf("%v::%v:: redundant handler", b.connectionType, reply.Action)
		b.record(models.JournalEntry{RequestID: reply.RequestID, Action: reply.Action, Kind: models.JournalIgnored})
		return
	}
	log.Debugf("%v::%v::%v", b.connectionType, call.action, reply.Action)
	call.done <- result{reply: reply}
}

// match finds the pending call a reply answers. Replies carrying a request
// id answer exactly that call; replies without one answer the oldest call
// of the same action.
func (b *Bridge) match(reply models.Reply) *pendingCall {
	if !strings.HasSuffix(reply.Action, replySuffix) {
		return nil
	}
	for _, call := range b.pending {
		if call.action+replySuffix != reply.Action {
			continue
		}
		if reply.RequestID == "" || reply.RequestID == call.id {
			return call
		}
	}
	return nil
}

func (b *Bridge) removeLocked(call *pendingCall) bool {
	for i, c := range b.pending {
		if c == call {
			b.pending = append(b.pending[:i], b.pending[i+1:]...)
			return true
		}
	}
	return false
}

func (b *Bridge) onPortDisconnect(p host.Port) {
	log := log.WithField("prefix", "Bridge.onPortDisconnect")

	b.mu.Lock()
	if b.port != p {
		b.mu.Unlock()
		return
	}
	b.port = nil
	calls := b.pending
	b.pending = nil
	if b.state != StateDisposed {
		b.state = StateAwaitingConnection
		b.ready = make(chan struct{})
	}
	b.mu.Unlock()

	log.Debugf("extension port is disconnected, cancelling %d requests", len(calls))
	for _, call := range calls {
		call.done <- result{reply: models.Reply{
			Action:    call.action + replySuffix,
			Success:   false,
			Payload:   cancelledPayload,
			RequestID: call.id,
		}}
	}
}

// WaitReady blocks until the target page has registered its port.
func (b *Bridge) WaitReady(ctx context.Context) error {
	for {
		b.mu.Lock()
		if b.state == StateDisposed {
			b.mu.Unlock()
			return ErrDisposed
		}
		if b.port != nil {
			b.mu.Unlock()
			return nil
		}
		ready := b.ready
		b.mu.Unlock()

		select {
		case <-ready:
		case <-b.disposed:
			return ErrDisposed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// IsConnectorReady reports whether the target page's port is registered.
func (b *Bridge) IsConnectorReady() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.port != nil
}

func (b *Bridge) GetVersion(ctx context.Context, c Call) (json.RawMessage, error) {
	return b.Do(ctx, ActionGetVersion, c)
}

func (b *Bridge) GetSerial(ctx context.Context, c Call) (json.RawMessage, error) {
	return b.Do(ctx, ActionGetSerial, c)
}

func (b *Bridge) GetExtendedPublicKey(ctx context.Context, c Call) (json.RawMessage, error) {
	return b.Do(ctx, ActionGetExtendedPublicKey, c)
}

func (b *Bridge) DeriveAddress(ctx context.Context, c Call) (json.RawMessage, error) {
	return b.Do(ctx, ActionDeriveAddress, c)
}

func (b *Bridge) ShowAddress(ctx context.Context, c Call) (json.RawMessage, error) {
	return b.Do(ctx, ActionShowAddress, c)
}

func (b *Bridge) SignTransaction(ctx context.Context, c Call) (json.RawMessage, error) {
	return b.Do(ctx, ActionSignTransaction, c)
}

// Do sends one request tagged with action and waits for its reply. The
// success payload is returned unchanged; a failure becomes a *ReplyError.
func (b *Bridge) Do(ctx context.Context, action string, c Call) (json.RawMessage, error) {
	log := log.WithField("prefix", "Bridge.Do")

	params, err := marshalParams(c.Params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s params: %w", action, err)
	}

	b.mu.Lock()
	if b.state == StateDisposed {
		b.mu.Unlock()
		return nil, ErrDisposed
	}
	port := b.port
	if port == nil {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w::action: %s", ErrPortNotReady, action)
	}
	call := &pendingCall{
		id:     uuid.NewString(),
		action: action,
		done:   make(chan result, 1),
	}
	b.pending = append(b.pending, call)
	b.mu.Unlock()

	pendingCallsMetric.Inc()
	defer pendingCallsMetric.Dec()

	msg := models.Request{
		Target:    b.targetName,
		Action:    action,
		Params:    params,
		Serial:    c.Serial,
		Extension: b.extensionID,
		RequestID: call.id,
	}
	log.Debugf("_sendMessage::%v::%v", b.connectionType, action)
	requestsMetric.WithLabelValues(action).Inc()
	b.record(models.JournalEntry{RequestID: call.id, Action: action, Kind: models.JournalRequest})

	if err := port.PostMessage(ctx, msg); err != nil {
		if !b.withdraw(call) {
			// the port went away while posting and already settled the call
			return b.settle(call, <-call.done)
		}
		repliesMetric.WithLabelValues(action, "error").Inc()
		return nil, fmt.Errorf("failed to post %s: %w", action, err)
	}

	select {
	case res := <-call.done:
		return b.settle(call, res)
	case <-ctx.Done():
		if !b.withdraw(call) {
			// settled while the context ended
			return b.settle(call, <-call.done)
		}
		repliesMetric.WithLabelValues(action, "abandoned").Inc()
		return nil, ctx.Err()
	}
}

func (b *Bridge) settle(call *pendingCall, res result) (json.RawMessage, error) {
	if res.err != nil {
		repliesMetric.WithLabelValues(call.action, "error").Inc()
		return nil, res.err
	}
	entry := models.JournalEntry{
		RequestID: call.id,
		Action:    res.reply.Action,
		Kind:      models.JournalReply,
		Success:   res.reply.Success,
	}
	if res.reply.Success {
		repliesMetric.WithLabelValues(call.action, "success").Inc()
		b.record(entry)
		return res.reply.Payload, nil
	}

	replyErr := &ReplyError{Action: call.action, Message: PrepareError(res.reply.Payload)}
	entry.Error = replyErr.Message
	if replyErr.Message == CancelledByUser {
		entry.Kind = models.JournalCancel
		repliesMetric.WithLabelValues(call.action, "cancelled").Inc()
	} else {
		repliesMetric.WithLabelValues(call.action, "failure").Inc()
	}
	b.record(entry)
	return nil, replyErr
}

func (b *Bridge) withdraw(call *pendingCall) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removeLocked(call)
}

func marshalParams(params any) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	}
	return json.Marshal(params)
}

// Dispose re-activates the extension tab, closes the target page and
// releases the port. Requests still pending fail with ErrDisposed. Calling
// it again is a no-op.
func (b *Bridge) Dispose() {
	log := log.WithField("prefix", "Bridge.Dispose")

	b.mu.Lock()
	if b.state == StateDisposed {
		b.mu.Unlock()
		return
	}
	b.state = StateDisposed
	close(b.disposed)
	extensionTab, targetTab, port := b.extensionTab, b.targetTab, b.port
	calls, unsubscribe := b.pending, b.unsubscribe
	b.extensionTab, b.targetTab, b.port = nil, nil, nil
	b.pending, b.unsubscribe = nil, nil
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), disposeTimeout)
	defer cancel()

	if extensionTab != nil {
		if err := b.host.ActivateTab(ctx, extensionTab.ID); err != nil {
			log.Errorf("failed to activate extension tab: %v", err)
		} else {
			log.Debug("made extension tab active")
		}
	}
	if targetTab != nil {
		if err := b.host.CloseTab(ctx, targetTab.ID); err != nil {
			log.Errorf("failed to close target tab: %v", err)
		} else {
			log.Debug("closed target page")
		}
	}
	if port != nil {
		port.Disconnect()
		log.Debug("disconnected extension port")
	}
	if unsubscribe != nil {
		unsubscribe()
	}
	for _, call := range calls {
		call.done <- result{err: ErrDisposed}
	}
	activeSessionsMetric.Dec()
}

// State reports the lifecycle state; READY with requests in flight is
// reported as REQUEST_PENDING.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateReady && len(b.pending) > 0 {
		return StateRequestPending
	}
	return b.state
}

func (b *Bridge) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Bridge) SessionID() string {
	return b.sessionID
}

// URL is the full target page URL.
func (b *Bridge) URL() string {
	return b.fullURL
}

func (b *Bridge) TargetName() string {
	return b.targetName
}

func (b *Bridge) record(entry models.JournalEntry) {
	if b.journal == nil {
		return
	}
	entry.EventId = atomic.AddInt64(&b.eventIDs, 1)
	entry.SessionID = b.sessionID
	entry.Time = time.Now().UTC()
	go func() {
		log := log.WithField("prefix", "Bridge.record")
		if err := b.journal.Record(context.Background(), entry); err != nil {
			log.Errorf("journal error: %v", err)
		}
	}()
}
