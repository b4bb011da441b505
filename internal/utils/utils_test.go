package utils

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHttpResError(t *testing.T) {
	status, res := HttpResError("boom", http.StatusConflict)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, HttpRes{Message: "boom", StatusCode: http.StatusConflict}, res)
	assert.Equal(t, http.StatusOK, HttpResOk().StatusCode)
}

func TestGenerateSelfSignedCertificate(t *testing.T) {
	certPem, keyPem, err := GenerateSelfSignedCertificate()
	require.NoError(t, err)

	_, err = tls.X509KeyPair(certPem, keyPem)
	require.NoError(t, err)

	block, _ := pem.Decode(certPem)
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	assert.NoError(t, cert.VerifyHostname("localhost"))
	assert.NoError(t, cert.VerifyHostname("127.0.0.1"))
}
