// Package host abstracts the browser runtime the bridge needs: opening and
// closing tabs, accepting ports registered by pages and the unload signal.
package host

import (
	"context"

	"github.com/callmedenchick/ledgerbridge/internal/models"
)

type Tab struct {
	ID    int
	Index int
	URL   string
}

// Port is a bidirectional message channel registered by a page.
type Port interface {
	Name() string
	Sender() models.Sender
	PostMessage(ctx context.Context, msg models.Request) error
	// Messages is closed once the port is disconnected from either side.
	Messages() <-chan models.Reply
	Disconnect()
}

// ConnectFunc is offered every newly registered port and reports whether it
// takes ownership of it. Refused ports are disconnected by the host.
type ConnectFunc func(Port) bool

type Host interface {
	ActiveTab(ctx context.Context) (*Tab, error)
	OpenTab(ctx context.Context, url string, index int) (*Tab, error)
	ActivateTab(ctx context.Context, id int) error
	CloseTab(ctx context.Context, id int) error
	OnConnect(fn ConnectFunc) (unsubscribe func())
	// Done is closed when the host is shutting down.
	Done() <-chan struct{}
}
