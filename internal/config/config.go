package config

import (
	"log"

	"github.com/caarlos0/env/v6"
)

var Config = struct {
	Port             int      `env:"PORT" envDefault:"8081"`
	MetricsPort      int      `env:"METRICS_PORT" envDefault:"9103"`
	ConnectorURL     string   `env:"CONNECTOR_URL" envDefault:"https://emurgo.github.io/yoroi-extension-ledger-connect/#/v2"`
	ConnectionType   string   `env:"CONNECTION_TYPE" envDefault:"webauthn"`
	Locale           string   `env:"LOCALE" envDefault:"en-US"`
	ExtensionID      string   `env:"EXTENSION_ID"`
	TargetName       string   `env:"TARGET_NAME"`
	AllowedOrigins   []string `env:"ALLOWED_ORIGINS"`
	OpenBrowser      bool     `env:"OPEN_BROWSER" envDefault:"true"`
	JournalType      string   `env:"JOURNAL_TYPE" envDefault:"memory"`
	JournalURI       string   `env:"JOURNAL_URI"`
	JournalRetention int      `env:"JOURNAL_RETENTION" envDefault:"86400"`
	CorsEnable       bool     `env:"CORS_ENABLE"`
	RPSLimit         int      `env:"RPS_LIMIT" envDefault:"10"`
	ConnectionsLimit int      `env:"CONNECTIONS_LIMIT" envDefault:"4"`
	SelfSignedTLS    bool     `env:"SELF_SIGNED_TLS" envDefault:"false"`
	ReadyTimeout     int      `env:"READY_TIMEOUT" envDefault:"60"`
	RequestTimeout   int      `env:"REQUEST_TIMEOUT" envDefault:"300"`
	LogLevel         string   `env:"LOG_LEVEL" envDefault:"info"`
}{}

func LoadConfig() {
	if err := env.Parse(&Config); err != nil {
		log.Fatalf("config parsing failed: %v\n", err)
	}
}
