// Package hosttest provides an in-memory host for tests.
package hosttest

import (
	"context"
	"errors"
	"sync"

	"github.com/callmedenchick/ledgerbridge/internal/host"
	"github.com/callmedenchick/ledgerbridge/internal/models"
)

type Host struct {
	mu          sync.Mutex
	NoActiveTab bool
	OpenErr     error
	Opened      []host.Tab
	Activated   []int
	Closed      []int
	listeners   map[int]host.ConnectFunc
	lastID      int
	done        chan struct{}
	doneOnce    sync.Once
}

func NewHost() *Host {
	return &Host{
		listeners: make(map[int]host.ConnectFunc),
		done:      make(chan struct{}),
	}
}

func (h *Host) ActiveTab(ctx context.Context) (*host.Tab, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.NoActiveTab {
		return nil, nil
	}
	return &host.Tab{ID: host.HomeTabID, Index: 3}, nil
}

func (h *Host) OpenTab(ctx context.Context, url string, index int) (*host.Tab, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.OpenErr != nil {
		return nil, h.OpenErr
	}
	tab := host.Tab{ID: 100 + len(h.Opened), Index: index, URL: url}
	h.Opened = append(h.Opened, tab)
	return &tab, nil
}

func (h *Host) ActivateTab(ctx context.Context, id int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Activated = append(h.Activated, id)
	return nil
}

func (h *Host) CloseTab(ctx context.Context, id int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Closed = append(h.Closed, id)
	return nil
}

func (h *Host) OnConnect(fn host.ConnectFunc) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastID++
	id := h.lastID
	h.listeners[id] = fn
	return func() {
		h.mu.Lock()
		delete(h.listeners, id)
		h.mu.Unlock()
	}
}

func (h *Host) Done() <-chan struct{} {
	return h.done
}

// Unload closes Done.
func (h *Host) Unload() {
	h.doneOnce.Do(func() { close(h.done) })
}

// Listeners reports the number of live OnConnect subscriptions.
func (h *Host) Listeners() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}

// Tabs returns a copy of the opened tabs.
func (h *Host) Tabs() []host.Tab {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]host.Tab(nil), h.Opened...)
}

// Connect offers p to the subscribers and reports whether one accepted it.
func (h *Host) Connect(p host.Port) bool {
	h.mu.Lock()
	listeners := make([]host.ConnectFunc, 0, len(h.listeners))
	for _, fn := range h.listeners {
		listeners = append(listeners, fn)
	}
	h.mu.Unlock()
	for _, fn := range listeners {
		if fn(p) {
			return true
		}
	}
	return false
}

var ErrPostFailed = errors.New("post failed")

// Port is an in-memory port. Posted requests are readable from Sent.
type Port struct {
	PortName   string
	PortSender models.Sender
	PostErr    error
	Sent       chan models.Request

	messages       chan models.Reply
	mu             sync.Mutex
	disconnected   bool
	disconnectOnce sync.Once
}

func NewPort(name string, sender models.Sender) *Port {
	return &Port{
		PortName:   name,
		PortSender: sender,
		Sent:       make(chan models.Request, 16),
		messages:   make(chan models.Reply, 16),
	}
}

func (p *Port) Name() string {
	return p.PortName
}

func (p *Port) Sender() models.Sender {
	return p.PortSender
}

func (p *Port) PostMessage(ctx context.Context, msg models.Request) error {
	if p.PostErr != nil {
		return p.PostErr
	}
	p.Sent <- msg
	return nil
}

func (p *Port) Messages() <-chan models.Reply {
	return p.messages
}

// Reply delivers r as if the page had sent it.
func (p *Port) Reply(r models.Reply) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disconnected {
		return
	}
	p.messages <- r
}

// Disconnect closes the port as the page closing its tab would.
func (p *Port) Disconnect() {
	p.disconnectOnce.Do(func() {
		p.mu.Lock()
		p.disconnected = true
		close(p.messages)
		p.mu.Unlock()
	})
}

func (p *Port) IsDisconnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disconnected
}
