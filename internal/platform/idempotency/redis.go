package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "idem:"

// RedisStore keeps records as JSON strings that expire with the record TTL. Updates use
// WATCH/MULTI so a save or release never clobbers a key claimed by another request.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("idempotency: redis client is required")
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) key(key string) string { return redisKeyPrefix + recordID(key) }

func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	rec := pendingRecord(key, fingerprint, now.UTC(), ttl)
	payload, err := json.Marshal(rec)
	if err != nil {
		return Reservation{}, err
	}
	created, err := s.client.SetNX(ctx, s.key(key), payload, rec.ExpiresAt.Sub(rec.CreatedAt)).Result()
	if err != nil {
		return Reservation{}, err
	}
	if created {
		return Reservation{State: ReservationStateNew, Record: rec}, nil
	}

	existing, err := s.load(ctx, s.client, s.key(key))
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET.
		return s.Reserve(ctx, key, fingerprint, now, ttl)
	}
	if err != nil {
		return Reservation{}, err
	}
	return classify(existing, fingerprint)
}

func (s *RedisStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	rkey := s.key(key)
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		rec, err := s.load(ctx, tx, rkey)
		switch {
		case errors.Is(err, redis.Nil):
			rec = Record{Key: key, Fingerprint: fingerprint}
		case err != nil:
			return err
		case rec.Fingerprint != fingerprint:
			return ErrFingerprintMismatch
		}
		rec = completeRecord(rec, resp, now.UTC(), ttl)
		payload, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, rkey, payload, rec.ExpiresAt.Sub(now.UTC()))
			return nil
		})
		return err
	}, rkey)
}

func (s *RedisStore) Release(ctx context.Context, key, fingerprint string) error {
	rkey := s.key(key)
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		rec, err := s.load(ctx, tx, rkey)
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		if rec.Fingerprint != fingerprint {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, rkey)
			return nil
		})
		return err
	}, rkey)
}

// CleanupExpired is a no-op; Redis expires keys itself.
func (s *RedisStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

// Ping reports whether the Redis server is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) load(ctx context.Context, cmd stringGetter, rkey string) (Record, error) {
	raw, err := cmd.Get(ctx, rkey).Bytes()
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}
