package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeaseConnection(t *testing.T) {
	limiter := NewConnectionLimiter(2)
	req := httptest.NewRequest("GET", "/connect", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	other := httptest.NewRequest("GET", "/connect", nil)
	other.RemoteAddr = "10.0.0.2:1234"

	first, err := limiter.LeaseConnection(req)
	require.NoError(t, err)
	second, err := limiter.LeaseConnection(req)
	require.NoError(t, err)

	_, err = limiter.LeaseConnection(req)
	assert.Error(t, err)

	release, err := limiter.LeaseConnection(other)
	require.NoError(t, err)
	release()

	first()
	first()
	third, err := limiter.LeaseConnection(req)
	require.NoError(t, err)

	_, err = limiter.LeaseConnection(req)
	assert.Error(t, err)

	second()
	third()
	assert.Empty(t, limiter.connections)
}
