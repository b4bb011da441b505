package connector

import (
	"strings"

	"github.com/callmedenchick/ledgerbridge/internal/models"
)

// Note: "v2" of the connector is the Shelley era page.
const (
	DefaultConnectorURL   = "https://emurgo.github.io/yoroi-extension-ledger-connect/#/v2"
	DefaultConnectionType = models.ConnectionTypeWebAuthn
	DefaultLocale         = "en-US"
	DefaultTargetName     = "YOROI-LEDGER-CONNECT"
)

// TargetName is the port name a connector page registers with for the
// given extension id.
func TargetName(extensionID string) string {
	if extensionID == "" {
		return DefaultTargetName
	}
	return DefaultTargetName + "-" + extensionID
}

// MakeFullURL builds the target page URL, e.g.
// https://emurgo.github.io/yoroi-extension-ledger-connect/?transport=u2f&locale=ja-JP
// Parameters equal to their defaults are left out.
func MakeFullURL(connectorURL string, connectionType models.ConnectionType, locale string) string {
	var params []string
	if connectionType != DefaultConnectionType {
		params = append(params, "transport="+string(connectionType))
	}
	if locale != DefaultLocale {
		params = append(params, "locale="+locale)
	}

	fullURL := connectorURL
	if !strings.HasSuffix(fullURL, "/") {
		fullURL += "/"
	}
	if len(params) == 0 {
		return fullURL
	}
	return fullURL + "?" + strings.Join(params, "&")
}

func IsSupported(connectionType models.ConnectionType) bool {
	switch connectionType {
	case models.ConnectionTypeU2F, models.ConnectionTypeWebAuthn, models.ConnectionTypeWebUSB:
		return true
	}
	return false
}
