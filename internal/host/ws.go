package host

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/callmedenchick/ledgerbridge/internal/models"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

const (
	// HomeTabID identifies the daemon itself, the tab the wallet lives in.
	HomeTabID = 1

	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
)

var (
	ErrHostClosed = errors.New("host is closed")
	ErrUnknownTab = errors.New("unknown tab")
)

var (
	activePortsMetric = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_bridge_active_ports",
		Help: "The number of registered target page ports",
	})
	refusedPortsMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_bridge_refused_ports",
		Help: "The total number of ports nobody accepted",
	})
	openedTabsMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_bridge_opened_tabs",
		Help: "The total number of opened target tabs",
	})
)

// WSHost is a Host whose tabs are pages opened in the system browser and
// whose ports are WebSocket connections those pages open back.
type WSHost struct {
	upgrader websocket.Upgrader
	opener   Opener

	mu             sync.Mutex
	tabs           map[int]*Tab
	lastTabID      int
	listeners      map[int]ConnectFunc
	lastListenerID int
	ports          map[*wsPort]struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// NewWSHost creates a host launching tabs with opener. A nil opener only
// records tabs, which suits pages opened by other means. Empty
// allowedOrigins accepts any origin.
func NewWSHost(opener Opener, allowedOrigins []string) *WSHost {
	return &WSHost{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if len(allowedOrigins) == 0 {
					return true
				}
				return slices.Contains(allowedOrigins, r.Header.Get("Origin"))
			},
		},
		opener:    opener,
		tabs:      make(map[int]*Tab),
		lastTabID: HomeTabID,
		listeners: make(map[int]ConnectFunc),
		ports:     make(map[*wsPort]struct{}),
		done:      make(chan struct{}),
	}
}

func (h *WSHost) ActiveTab(ctx context.Context) (*Tab, error) {
	if h.closed() {
		return nil, ErrHostClosed
	}
	return &Tab{ID: HomeTabID, Index: 0}, nil
}

func (h *WSHost) OpenTab(ctx context.Context, url string, index int) (*Tab, error) {
	log := log.WithField("prefix", "WSHost.OpenTab")
	if h.closed() {
		return nil, ErrHostClosed
	}
	if h.opener != nil {
		if err := h.opener(url); err != nil {
			return nil, err
		}
	}
	h.mu.Lock()
	h.lastTabID++
	tab := &Tab{ID: h.lastTabID, Index: index, URL: url}
	h.tabs[tab.ID] = tab
	h.mu.Unlock()
	openedTabsMetric.Inc()
	log.Debugf("opened tab %d: %s", tab.ID, url)
	return tab, nil
}

// ActivateTab cannot focus a browser tab from outside the browser, it only
// validates the id.
func (h *WSHost) ActivateTab(ctx context.Context, id int) error {
	if id == HomeTabID {
		return nil
	}
	h.mu.Lock()
	_, ok := h.tabs[id]
	h.mu.Unlock()
	if !ok {
		return ErrUnknownTab
	}
	return nil
}

// CloseTab forgets the tab and disconnects the ports its page registered.
func (h *WSHost) CloseTab(ctx context.Context, id int) error {
	log := log.WithField("prefix", "WSHost.CloseTab")
	h.mu.Lock()
	tab, ok := h.tabs[id]
	if !ok {
		h.mu.Unlock()
		return ErrUnknownTab
	}
	delete(h.tabs, id)
	var owned []*wsPort
	for p := range h.ports {
		if p.Sender().URL == tab.URL {
			owned = append(owned, p)
		}
	}
	h.mu.Unlock()

	for _, p := range owned {
		p.Disconnect()
	}
	log.Debugf("closed tab %d with %d ports", id, len(owned))
	return nil
}

func (h *WSHost) OnConnect(fn ConnectFunc) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastListenerID++
	id := h.lastListenerID
	h.listeners[id] = fn
	return func() {
		h.mu.Lock()
		delete(h.listeners, id)
		h.mu.Unlock()
	}
}

func (h *WSHost) Done() <-chan struct{} {
	return h.done
}

// Close signals unload to every subscriber and disconnects all ports.
func (h *WSHost) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
		h.mu.Lock()
		ports := make([]*wsPort, 0, len(h.ports))
		for p := range h.ports {
			ports = append(ports, p)
		}
		h.mu.Unlock()
		for _, p := range ports {
			p.Disconnect()
		}
	})
}

func (h *WSHost) closed() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// ServeHTTP upgrades a target page connection, registers its port and
// serves it until the connection ends.
func (h *WSHost) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := log.WithField("prefix", "WSHost.ServeHTTP")
	if h.closed() {
		http.Error(w, ErrHostClosed.Error(), http.StatusServiceUnavailable)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("websocket upgrade failed: %v", err)
		return
	}

	var hs models.Handshake
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	if err := conn.ReadJSON(&hs); err != nil {
		log.Errorf("failed to read handshake: %v", err)
		_ = conn.Close()
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	p := newWSPort(conn, hs)
	if !h.offer(p) {
		refusedPortsMetric.Inc()
		log.Errorf("port refused, PortName: %v SenderId: %v SenderURL: %v", hs.Name, hs.Sender.ID, hs.Sender.URL)
		p.closeWith(websocket.ClosePolicyViolation, "port refused")
		return
	}
	activePortsMetric.Inc()
	p.readLoop(func() {
		h.mu.Lock()
		delete(h.ports, p)
		h.mu.Unlock()
		activePortsMetric.Dec()
	})
}

// offer registers p before asking the subscribers so that CloseTab and
// Close already see a port an owner is taking.
func (h *WSHost) offer(p *wsPort) bool {
	h.mu.Lock()
	h.ports[p] = struct{}{}
	listeners := make([]ConnectFunc, 0, len(h.listeners))
	for _, fn := range h.listeners {
		listeners = append(listeners, fn)
	}
	h.mu.Unlock()

	for _, fn := range listeners {
		if fn(p) {
			return true
		}
	}
	h.mu.Lock()
	delete(h.ports, p)
	h.mu.Unlock()
	return false
}

type wsPort struct {
	conn      *websocket.Conn
	handshake models.Handshake
	writeMu   sync.Mutex
	messages  chan models.Reply
	closed    chan struct{}
	closeOnce sync.Once
}

func newWSPort(conn *websocket.Conn, hs models.Handshake) *wsPort {
	return &wsPort{
		conn:      conn,
		handshake: hs,
		messages:  make(chan models.Reply, 16),
		closed:    make(chan struct{}),
	}
}

func (p *wsPort) Name() string {
	return p.handshake.Name
}

func (p *wsPort) Sender() models.Sender {
	return p.handshake.Sender
}

func (p *wsPort) Messages() <-chan models.Reply {
	return p.messages
}

func (p *wsPort) PostMessage(ctx context.Context, msg models.Request) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeTimeout)
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.SetWriteDeadline(deadline)
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

func (p *wsPort) Disconnect() {
	p.closeWith(websocket.CloseNormalClosure, "disconnected")
}

func (p *wsPort) closeWith(code int, reason string) {
	p.closeOnce.Do(func() {
		close(p.closed)
		msg := websocket.FormatCloseMessage(code, reason)
		_ = p.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = p.conn.Close()
	})
}

func (p *wsPort) readLoop(onClose func()) {
	log := log.WithField("prefix", "wsPort.readLoop")
	defer func() {
		p.closeWith(websocket.CloseNormalClosure, "")
		close(p.messages)
		onClose()
	}()
	for {
		_, payload, err := p.conn.ReadMessage()
		if err != nil {
			log.Debugf("port %v closed: %v", p.handshake.Name, err)
			return
		}
		var reply models.Reply
		if err := json.Unmarshal(payload, &reply); err != nil {
			log.Errorf("invalid reply: %v", err)
			continue
		}
		select {
		case p.messages <- reply:
		case <-p.closed:
			return
		}
	}
}
