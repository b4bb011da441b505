package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/callmedenchick/ledgerbridge/internal/models"
)

const defaultRetention = 24 * time.Hour

// Journal keeps an audit trail of bridge exchanges.
type Journal interface {
	Record(ctx context.Context, entry models.JournalEntry) error
	// Recent returns up to limit entries, newest first. A non-positive
	// limit returns everything retained.
	Recent(ctx context.Context, limit int) ([]models.JournalEntry, error)
	HealthCheck() error
	Close() error
}

func NewJournal(journalType string, uri string, retention time.Duration) (Journal, error) {
	if retention <= 0 {
		retention = defaultRetention
	}
	switch journalType {
	case "memory", "":
		return NewMemJournal(retention), nil
	case "nats":
		return NewNatsJournal(uri, retention)
	case "postgres":
		return NewPgJournal(uri, retention)
	case "valkey":
		return NewValkeyJournal(uri, retention)
	default:
		return nil, fmt.Errorf("unsupported journal type: %s", journalType)
	}
}

func newestFirst(entries []models.JournalEntry, limit int) []models.JournalEntry {
	results := make([]models.JournalEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		if limit > 0 && len(results) == limit {
			break
		}
		results = append(results, entries[i])
	}
	return results
}
