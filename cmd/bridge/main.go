package main

import (
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/callmedenchick/ledgerbridge/internal/config"
	"github.com/callmedenchick/ledgerbridge/internal/connector"
	"github.com/callmedenchick/ledgerbridge/internal/handler"
	"github.com/callmedenchick/ledgerbridge/internal/host"
	bridge_middleware "github.com/callmedenchick/ledgerbridge/internal/middleware"
	"github.com/callmedenchick/ledgerbridge/internal/models"
	"github.com/callmedenchick/ledgerbridge/internal/storage"
	"github.com/callmedenchick/ledgerbridge/internal/utils"
	"github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
	"golang.org/x/time/rate"
)

const connectPath = "/connect"

func connectionsLimitMiddleware(counter *bridge_middleware.ConnectionsLimiter, skipper func(c echo.Context) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipper(c) {
				return next(c)
			}
			release, err := counter.LeaseConnection(c.Request())
			if err != nil {
				return c.JSON(utils.HttpResError(err.Error(), http.StatusTooManyRequests))
			}
			defer release()
			return next(c)
		}
	}
}

func journalName(journal storage.Journal) string {
	switch journal.(type) {
	case *storage.MemJournal:
		return "in-memory"
	case *storage.NatsJournal:
		return "NATS JetStream"
	case *storage.PgJournal:
		return "PostgreSQL"
	case *storage.ValkeyJournal:
		return "Valkey"
	}
	return "unknown"
}

func main() {
	config.LoadConfig()
	level, err := log.ParseLevel(config.Config.LogLevel)
	if err != nil {
		log.Fatalf("invalid log level %q: %v", config.Config.LogLevel, err)
	}
	log.SetLevel(level)
	log.Info("Ledger bridge is running")

	journal, err := storage.NewJournal(config.Config.JournalType, config.Config.JournalURI,
		time.Duration(config.Config.JournalRetention)*time.Second)
	if err != nil {
		log.Fatalf("failed to create journal: %v", err)
	}
	log.Infof("Using %v journal", journalName(journal))

	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/health", handler.HealthHandler)
	http.Handle("/ready", handler.ReadyHandler(journal))

	handler.CheckReady(journal)
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			handler.CheckReady(journal)
		}
	}()

	go func() {
		log.Fatal(http.ListenAndServe(fmt.Sprintf(":%v", config.Config.MetricsPort), nil))
	}()

	opener := host.BrowserOpener
	if !config.Config.OpenBrowser {
		opener = func(url string) error {
			log.Infof("open %v in a browser to connect the ledger", url)
			return nil
		}
	}
	wsHost := host.NewWSHost(opener, config.Config.AllowedOrigins)

	e := echo.New()
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		Skipper:           nil,
		DisableStackAll:   true,
		DisablePrintStack: false,
	}))
	e.Use(middleware.Logger())
	e.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: func(c echo.Context) bool {
			return c.Path() == connectPath
		},
		Store: middleware.NewRateLimiterMemoryStore(rate.Limit(config.Config.RPSLimit)),
	}))
	e.Use(connectionsLimitMiddleware(bridge_middleware.NewConnectionLimiter(config.Config.ConnectionsLimit), func(c echo.Context) bool {
		return c.Path() != connectPath
	}))

	if config.Config.CorsEnable {
		corsConfig := middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:     []string{"*"},
			AllowMethods:     []string{echo.GET, echo.POST, echo.DELETE, echo.OPTIONS},
			AllowHeaders:     []string{"DNT", "X-CustomHeader", "Keep-Alive", "User-Agent", "X-Requested-With", "If-Modified-Since", "Cache-Control", "Content-Type", "Authorization"},
			AllowCredentials: true,
			MaxAge:           86400,
		})
		e.Use(corsConfig)
	}

	h := handler.NewHandler(wsHost, journal, connector.Options{
		ConnectorURL:   config.Config.ConnectorURL,
		ConnectionType: models.ConnectionType(config.Config.ConnectionType),
		Locale:         config.Config.Locale,
		ExtensionID:    config.Config.ExtensionID,
		TargetName:     config.Config.TargetName,
	}, time.Duration(config.Config.ReadyTimeout)*time.Second, time.Duration(config.Config.RequestTimeout)*time.Second)

	h.Register(e)
	e.GET(connectPath, echo.WrapHandler(wsHost))

	var existedPaths []string
	for _, r := range e.Routes() {
		existedPaths = append(existedPaths, r.Path)
	}
	p := prometheus.NewPrometheus("http", func(c echo.Context) bool {
		return !slices.Contains(existedPaths, c.Path())
	})
	e.Use(p.HandlerFunc)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("Shutting down...")
		h.Close()
		wsHost.Close()
		if err := journal.Close(); err != nil {
			log.Errorf("failed to close journal: %v", err)
		}
		os.Exit(0)
	}()

	if config.Config.SelfSignedTLS {
		cert, key, err := utils.GenerateSelfSignedCertificate()
		if err != nil {
			log.Fatalf("failed to generate self signed certificate: %v", err)
		}
		log.Fatal(e.StartTLS(fmt.Sprintf(":%v", config.Config.Port), cert, key))
	} else {
		log.Fatal(e.Start(fmt.Sprintf(":%v", config.Config.Port)))
	}
}
