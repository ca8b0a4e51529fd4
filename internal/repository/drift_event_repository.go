package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"DriftWatch/internal/domain/models"
	"DriftWatch/internal/domain/repository"
	pkgkafka "DriftWatch/pkg/kafka"
)

// ClickHouseEventStorage implements EventStorage for ClickHouse.
type ClickHouseEventStorage struct {
	db    *sql.DB
	table string
}

// NewClickHouseEventStorage creates the ClickHouse drift-event archive.
func NewClickHouseEventStorage(db *sql.DB, table string) repository.EventStorage {
	return &ClickHouseEventStorage{db: db, table: table}
}

func eventRow(e *models.DriftEvent) (detectors, metrics string) {
	if b, err := json.Marshal(e.Detectors); err == nil {
		detectors = string(b)
	}
	if e.Metrics != nil {
		if b, err := json.Marshal(e.Metrics); err == nil {
			metrics = string(b)
		}
	}
	return detectors, metrics
}

func (s *ClickHouseEventStorage) Store(ctx context.Context, e *models.DriftEvent) error {
	detectors, metrics := eventRow(e)
	q := fmt.Sprintf("INSERT INTO %s (ts, detectors, voting_method, metrics, samples_before) VALUES (?, ?, ?, ?, ?)", s.table)
	_, err := s.db.ExecContext(ctx, q,
		e.Timestamp,
		detectors,
		e.VotingMethod,
		metrics,
		e.SamplesBefore,
	)
	return err
}

func (s *ClickHouseEventStorage) StoreBatch(ctx context.Context, events []*models.DriftEvent) error {
	if len(events) == 0 {
		return nil
	}
	// Multi-row VALUES insert to reduce round-trips.
	const chunkSize = 2000
	for start := 0; start < len(events); start += chunkSize {
		end := start + chunkSize
		if end > len(events) {
			end = len(events)
		}
		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*5)
		for _, e := range events[start:end] {
			if e == nil {
				continue
			}
			detectors, metrics := eventRow(e)
			values = append(values, "(?, ?, ?, ?, ?)")
			args = append(args, e.Timestamp, detectors, e.VotingMethod, metrics, e.SamplesBefore)
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf("INSERT INTO %s (ts, detectors, voting_method, metrics, samples_before) VALUES %s", s.table, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return err
		}
	}
	return nil
}

func (s *ClickHouseEventStorage) Query(ctx context.Context, from, to time.Time, limit int) ([]*models.DriftEvent, error) {
	q := fmt.Sprintf("SELECT ts, detectors, voting_method, metrics, samples_before FROM %s WHERE ts >= ? AND ts <= ? ORDER BY ts DESC LIMIT ?", s.table)
	rows, err := s.db.QueryContext(ctx, q, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.DriftEvent
	for rows.Next() {
		var e models.DriftEvent
		var detectors, metrics string
		if err := rows.Scan(&e.Timestamp, &detectors, &e.VotingMethod, &metrics, &e.SamplesBefore); err != nil {
			return nil, err
		}
		if detectors != "" {
			_ = json.Unmarshal([]byte(detectors), &e.Detectors)
		}
		if metrics != "" {
			_ = json.Unmarshal([]byte(metrics), &e.Metrics)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

func (s *ClickHouseEventStorage) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *ClickHouseEventStorage) Close() error {
	return nil // connection managed by pkg
}

// KafkaEventPublisher implements EventPublisher for Kafka.
type KafkaEventPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewKafkaEventPublisher creates the Kafka drift-event publisher.
func NewKafkaEventPublisher(producer *pkgkafka.Producer, topic string) repository.EventPublisher {
	return &KafkaEventPublisher{producer: producer, topic: topic}
}

func eventValue(e *models.DriftEvent) map[string]interface{} {
	return map[string]interface{}{
		"timestamp":      e.Timestamp.Unix(),
		"detectors":      e.Detectors,
		"voting_method":  e.VotingMethod,
		"metrics":        e.Metrics,
		"samples_before": e.SamplesBefore,
	}
}

func (p *KafkaEventPublisher) Publish(ctx context.Context, e *models.DriftEvent) error {
	return p.producer.Publish(ctx, p.topic, []byte(e.VotingMethod), eventValue(e))
}

func (p *KafkaEventPublisher) PublishBatch(ctx context.Context, events []*models.DriftEvent) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(events))
	for i, e := range events {
		msgs[i] = pkgkafka.Message{
			Key:   []byte(e.VotingMethod),
			Value: eventValue(e),
		}
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

func (p *KafkaEventPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
