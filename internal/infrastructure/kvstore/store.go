// Package kvstore is the client for the shared record directory. The
// directory is a cache for cross-process lookup, not a system of record;
// callers treat a missing record as an explicit absent result and decide
// their own fallback.
package kvstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/session-hub/session-hub/internal/infrastructure/records"
)

// Store reads and writes records against a Redis directory.
type Store struct {
	rdb    redis.UniversalClient
	logger zerolog.Logger
}

func New(rdb redis.UniversalClient, logger zerolog.Logger) *Store {
	return &Store{
		rdb:    rdb,
		logger: logger.With().Str("component", "kvstore").Logger(),
	}
}

// SaveRecord writes every field of the record in one MSET.
func (s *Store) SaveRecord(ctx context.Context, rec records.Record) error {
	return s.save(ctx, rec, 0)
}

// SaveRecordWithTTL writes the record and puts the same expiry on every
// field key so partial expiry cannot leave a half-record behind for long.
func (s *Store) SaveRecordWithTTL(ctx context.Context, rec records.Record, ttl time.Duration) error {
	return s.save(ctx, rec, ttl)
}

func (s *Store) save(ctx context.Context, rec records.Record, ttl time.Duration) error {
	kv, err := records.Serialize(rec)
	if err != nil {
		return fmt.Errorf("serialize %s record: %w", rec.RecordType(), err)
	}
	pairs := make([]interface{}, 0, len(kv)*2)
	for k, v := range kv {
		pairs = append(pairs, k, v)
	}
	pipe := s.rdb.Pipeline()
	pipe.MSet(ctx, pairs...)
	if ttl > 0 {
		for k := range kv {
			pipe.PExpire(ctx, k, ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save %s record: %w", rec.RecordType(), err)
	}
	return nil
}

// LoadRecord fetches every field of the record in one multi-get and
// hydrates it. If any expected key is missing the whole record is reported
// absent; a partially present record is never hydrated.
func (s *Store) LoadRecord(ctx context.Context, rec records.Record) (bool, error) {
	keys, err := records.Keys(rec)
	if err != nil {
		return false, fmt.Errorf("keys for %s record: %w", rec.RecordType(), err)
	}
	raw, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return false, fmt.Errorf("load %s record: %w", rec.RecordType(), err)
	}
	values := make([]string, len(raw))
	for i, v := range raw {
		str, ok := v.(string)
		if !ok {
			s.logger.Debug().Str("record_type", rec.RecordType()).Str("key", keys[i]).Msg("record key missing, treating record as absent")
			return false, nil
		}
		values[i] = str
	}
	if err := records.Hydrate(rec, values); err != nil {
		return false, fmt.Errorf("hydrate %s record: %w", rec.RecordType(), err)
	}
	return true, nil
}

// DeleteRecord removes every field key of the record.
func (s *Store) DeleteRecord(ctx context.Context, rec records.Record) error {
	keys, err := records.Keys(rec)
	if err != nil {
		return fmt.Errorf("keys for %s record: %w", rec.RecordType(), err)
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete %s record: %w", rec.RecordType(), err)
	}
	return nil
}
