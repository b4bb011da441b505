package storage

import (
	"context"
	"sync"
	"time"

	"github.com/callmedenchick/ledgerbridge/internal/models"
)

type MemJournal struct {
	entries   []entry
	retention time.Duration
	lock      sync.Mutex
	stop      chan struct{}
	closeOnce sync.Once
}

type entry struct {
	models.JournalEntry
	expireAt time.Time
}

func (e entry) IsExpired(now time.Time) bool {
	return e.expireAt.Before(now)
}

func NewMemJournal(retention time.Duration) *MemJournal {
	j := MemJournal{
		retention: retention,
		stop:      make(chan struct{}),
	}
	go j.watcher()
	return &j
}

func removeExpiredEntries(es []entry, now time.Time) []entry {
	results := make([]entry, 0, len(es))
	for _, e := range es {
		if !e.IsExpired(now) {
			results = append(results, e)
		}
	}
	return results
}

func (j *MemJournal) watcher() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-j.stop:
			return
		case <-ticker.C:
			j.lock.Lock()
			j.entries = removeExpiredEntries(j.entries, time.Now())
			j.lock.Unlock()
		}
	}
}

func (j *MemJournal) Record(ctx context.Context, e models.JournalEntry) error {
	j.lock.Lock()
	defer j.lock.Unlock()
	j.entries = append(j.entries, entry{
		JournalEntry: e,
		expireAt:     time.Now().Add(j.retention),
	})
	return nil
}

func (j *MemJournal) Recent(ctx context.Context, limit int) ([]models.JournalEntry, error) {
	j.lock.Lock()
	defer j.lock.Unlock()
	now := time.Now()
	live := make([]models.JournalEntry, 0, len(j.entries))
	for _, e := range j.entries {
		if !e.IsExpired(now) {
			live = append(live, e.JournalEntry)
		}
	}
	return newestFirst(live, limit), nil
}

func (j *MemJournal) HealthCheck() error {
	// In-memory journal does not require health checks.
	return nil
}

func (j *MemJournal) Close() error {
	j.closeOnce.Do(func() { close(j.stop) })
	return nil
}
