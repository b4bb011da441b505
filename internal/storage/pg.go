package storage

import (
	"context"
	"embed"
	"errors"
	"time"

	"github.com/callmedenchick/ledgerbridge/internal/models"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v4/pgxpool"
	log "github.com/sirupsen/logrus"
)

type PgJournal struct {
	postgres  *pgxpool.Pool
	retention time.Duration
	stop      chan struct{}
}

//go:embed migrations/*.sql
var fs embed.FS

func MigrateDb(postgresURI string) error {
	log := log.WithField("prefix", "MigrateDb")
	d, err := iofs.New(fs, "migrations")
	if err != nil {
		log.Info("iofs err: ", err)
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", d, postgresURI)
	if err != nil {
		log.Info("source instance err: ", err)
		return err
	}
	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		log.Info("DB is up to date")
		return nil
	} else if err != nil {
		return err
	}
	log.Info("DB updated successfully")
	return nil
}

func NewPgJournal(postgresURI string, retention time.Duration) (*PgJournal, error) {
	log := log.WithField("prefix", "NewPgJournal")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	c, err := pgxpool.Connect(ctx, postgresURI)
	if err != nil {
		return nil, err
	}
	err = MigrateDb(postgresURI)
	if err != nil {
		log.Info("migrate err: ", err)
		c.Close()
		return nil, err
	}
	s := PgJournal{
		postgres:  c,
		retention: retention,
		stop:      make(chan struct{}),
	}
	go s.worker()
	return &s, nil
}

func (s *PgJournal) worker() {
	log := log.WithField("prefix", "PgJournal.worker")
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}
		_, err := s.postgres.Exec(context.TODO(),
			`DELETE FROM ledgerbridge.journal
			 WHERE created_at < $1`, time.Now().Add(-s.retention))
		if err != nil {
			log.Infof("remove expired entries error: %v", err)
		}
	}
}

func (s *PgJournal) Record(ctx context.Context, e models.JournalEntry) error {
	_, err := s.postgres.Exec(ctx,
		`INSERT INTO ledgerbridge.journal
		 (event_id, session_id, request_id, action, kind, success, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.EventId, e.SessionID, e.RequestID, e.Action, string(e.Kind), e.Success, e.Error, e.Time)
	return err
}

func (s *PgJournal) Recent(ctx context.Context, limit int) ([]models.JournalEntry, error) {
	query := `SELECT event_id, session_id, request_id, action, kind, success, error, created_at
		FROM ledgerbridge.journal
		WHERE created_at >= $1
		ORDER BY created_at DESC, event_id DESC`
	args := []interface{}{time.Now().Add(-s.retention)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.postgres.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.JournalEntry{}
	for rows.Next() {
		var e models.JournalEntry
		var kind string
		if err := rows.Scan(&e.EventId, &e.SessionID, &e.RequestID, &e.Action, &kind, &e.Success, &e.Error, &e.Time); err != nil {
			return nil, err
		}
		e.Kind = models.JournalKind(kind)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PgJournal) HealthCheck() error {
	log := log.WithField("prefix", "PgJournal.HealthCheck")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	err := s.postgres.Ping(ctx)
	if err != nil {
		log.Errorf("database health check failed: %v", err)
		return err
	}
	return nil
}

func (s *PgJournal) Close() error {
	close(s.stop)
	s.postgres.Close()
	return nil
}
