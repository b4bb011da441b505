package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/callmedenchick/ledgerbridge/internal/models"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

type NatsJournal struct {
	nc        *nats.Conn
	js        nats.JetStreamContext
	retention time.Duration
}

const (
	streamName     = "LEDGER_BRIDGE_JOURNAL"
	subjectPrefix  = "ledgerbridge.journal."
	subjectPattern = subjectPrefix + "*"

	fetchTimeout = time.Second
)

func NewNatsJournal(natsURL string, retention time.Duration) (*NatsJournal, error) {
	log := log.WithField("prefix", "NewNatsJournal")

	nc, err := nats.Connect(natsURL)
	if err != nil {
		log.Errorf("failed to connect to NATS: %v", err)
		return nil, err
	}

	js, err := nc.JetStream()
	if err != nil {
		log.Errorf("failed to create JetStream context: %v", err)
		nc.Close()
		return nil, err
	}

	journal := &NatsJournal{
		nc:        nc,
		js:        js,
		retention: retention,
	}

	if err := journal.initStream(); err != nil {
		log.Errorf("failed to initialize stream: %v", err)
		nc.Close()
		return nil, err
	}

	log.Info("NATS JetStream journal initialized successfully")
	return journal, nil
}

func (s *NatsJournal) initStream() error {
	log := log.WithField("prefix", "NatsJournal.initStream")

	_, err := s.js.StreamInfo(streamName)
	if err == nil {
		log.Info("JetStream stream already exists")
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}

	_, err = s.js.AddStream(&nats.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subjectPattern},
		Retention: nats.LimitsPolicy,
		MaxAge:    s.retention,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		log.Errorf("failed to create stream: %v", err)
		return err
	}
	log.Info("created JetStream stream")
	return nil
}

func (s *NatsJournal) Record(ctx context.Context, entry models.JournalEntry) error {
	log := log.WithField("prefix", "NatsJournal.Record")

	data, err := json.Marshal(entry)
	if err != nil {
		log.Errorf("failed to marshal entry: %v", err)
		return err
	}

	_, err = s.js.Publish(subjectPrefix+entry.SessionID, data, nats.Context(ctx))
	if err != nil {
		log.Errorf("failed to publish entry: %v", err)
		return err
	}

	log.Debugf("entry %d recorded for session %s", entry.EventId, entry.SessionID)
	return nil
}

func (s *NatsJournal) Recent(ctx context.Context, limit int) ([]models.JournalEntry, error) {
	log := log.WithField("prefix", "NatsJournal.Recent")

	info, err := s.js.StreamInfo(streamName, nats.Context(ctx))
	if err != nil {
		return nil, err
	}
	want := int(info.State.Msgs)
	if want == 0 {
		return []models.JournalEntry{}, nil
	}

	sub, err := s.js.SubscribeSync(subjectPattern, nats.DeliverAll(), nats.AckNone())
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			log.Errorf("failed to unsubscribe: %v", err)
		}
	}()

	entries := make([]models.JournalEntry, 0, want)
	for seen := 0; seen < want; seen++ {
		msg, err := sub.NextMsg(fetchTimeout)
		if errors.Is(err, nats.ErrTimeout) {
			break
		}
		if err != nil {
			return nil, err
		}
		var entry models.JournalEntry
		if err := json.Unmarshal(msg.Data, &entry); err != nil {
			log.Errorf("failed to unmarshal entry: %v", err)
			continue
		}
		entries = append(entries, entry)
	}

	log.Debugf("retrieved %d entries", len(entries))
	return newestFirst(entries, limit), nil
}

func (s *NatsJournal) HealthCheck() error {
	log := log.WithField("prefix", "NatsJournal.HealthCheck")

	if !s.nc.IsConnected() {
		err := fmt.Errorf("NATS connection is not active")
		log.Error(err)
		return err
	}

	_, err := s.js.AccountInfo()
	if err != nil {
		log.Errorf("JetStream health check failed: %v", err)
		return err
	}
	return nil
}

func (s *NatsJournal) Close() error {
	if s.nc != nil {
		s.nc.Close()
	}
	return nil
}
