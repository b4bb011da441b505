package middleware

import (
	"fmt"
	"net"
	"net/http"
	"sync"
)

// ConnectionsLimiter caps the number of simultaneous long-lived connections
// per remote address.
type ConnectionsLimiter struct {
	mu          sync.Mutex
	connections map[string]int
	max         int
}

func NewConnectionLimiter(i int) *ConnectionsLimiter {
	return &ConnectionsLimiter{
		connections: map[string]int{},
		max:         i,
	}
}

// LeaseConnection reserves a slot for the request's remote address. The
// returned release func must be called once the connection ends.
func (auth *ConnectionsLimiter) LeaseConnection(request *http.Request) (release func(), err error) {
	key := remoteHost(request)
	auth.mu.Lock()
	defer auth.mu.Unlock()
	if auth.connections[key] >= auth.max {
		return nil, fmt.Errorf("you have reached the limit of connections")
	}
	auth.connections[key]++
	var once sync.Once
	return func() {
		once.Do(func() {
			auth.mu.Lock()
			defer auth.mu.Unlock()
			auth.connections[key]--
			if auth.connections[key] <= 0 {
				delete(auth.connections, key)
			}
		})
	}, nil
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
