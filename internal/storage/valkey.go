package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/callmedenchick/ledgerbridge/internal/models"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const valkeyJournalKey = "ledgerbridge:journal"

// ValkeyJournal keeps entries in a sorted set scored by entry time, so
// expiry is a range removal.
type ValkeyJournal struct {
	client    *redis.Client
	retention time.Duration
}

func NewValkeyJournal(valkeyURI string, retention time.Duration) (*ValkeyJournal, error) {
	log := log.WithField("prefix", "NewValkeyJournal")

	opts, err := redis.ParseURL(valkeyURI)
	if err != nil {
		log.Errorf("failed to parse Valkey URI: %v", err)
		return nil, err
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Errorf("failed to connect to Valkey: %v", err)
		_ = rdb.Close()
		return nil, err
	}

	log.Info("successfully connected to Valkey")
	return &ValkeyJournal{client: rdb, retention: retention}, nil
}

func (s *ValkeyJournal) Record(ctx context.Context, e models.JournalEntry) error {
	log := log.WithField("prefix", "ValkeyJournal.Record")

	data, err := json.Marshal(e)
	if err != nil {
		log.Errorf("failed to marshal entry: %v", err)
		return err
	}
	at := e.Time
	if at.IsZero() {
		at = time.Now()
	}
	err = s.client.ZAdd(ctx, valkeyJournalKey, redis.Z{
		Score:  float64(at.UnixMicro()),
		Member: data,
	}).Err()
	if err != nil {
		log.Errorf("failed to store entry in Valkey: %v", err)
		return err
	}
	return s.client.Expire(ctx, valkeyJournalKey, s.retention).Err()
}

func (s *ValkeyJournal) Recent(ctx context.Context, limit int) ([]models.JournalEntry, error) {
	log := log.WithField("prefix", "ValkeyJournal.Recent")

	expired := strconv.FormatInt(time.Now().Add(-s.retention).UnixMicro(), 10)
	if err := s.client.ZRemRangeByScore(ctx, valkeyJournalKey, "-inf", "("+expired).Err(); err != nil {
		return nil, fmt.Errorf("failed to remove expired entries: %w", err)
	}

	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	members, err := s.client.ZRevRange(ctx, valkeyJournalKey, 0, stop).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]models.JournalEntry, 0, len(members))
	for _, m := range members {
		var e models.JournalEntry
		if err := json.Unmarshal([]byte(m), &e); err != nil {
			log.Errorf("failed to unmarshal entry: %v", err)
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *ValkeyJournal) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		log.WithField("prefix", "ValkeyJournal.HealthCheck").Errorf("Valkey health check failed: %v", err)
		return err
	}
	return nil
}

func (s *ValkeyJournal) Close() error {
	return s.client.Close()
}
