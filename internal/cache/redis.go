package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"animestream/catalogservice/internal/domain"
)

const redisKeyPrefix = "catalog:"

// RedisStore keeps records in one hash per media type and derivatives in a
// single hash, all JSON encoded. HSETNX gives insert-if-absent.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Client exposes the connection for collaborators that share it.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// OpenRedis parses url, connects and pings.
func OpenRedis(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisStore(client), nil
}

func redisRecordsKey(mediaType domain.MediaType) string {
	return redisKeyPrefix + "records:" + string(mediaType)
}

func redisDerivativesKey() string {
	return redisKeyPrefix + "derivatives"
}

func (s *RedisStore) GetRecord(ctx context.Context, id string, mediaType domain.MediaType) (domain.UnifiedRecord, bool, error) {
	data, err := s.client.HGet(ctx, redisRecordsKey(mediaType), id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.UnifiedRecord{}, false, nil
		}
		return domain.UnifiedRecord{}, false, err
	}
	var record domain.UnifiedRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return domain.UnifiedRecord{}, false, err
	}
	return record, true, nil
}

func (s *RedisStore) InsertRecord(ctx context.Context, record domain.UnifiedRecord) (bool, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return false, err
	}
	return s.client.HSetNX(ctx, redisRecordsKey(record.Type), record.ID, data).Result()
}

func (s *RedisStore) ReplaceRecord(ctx context.Context, record domain.UnifiedRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, redisRecordsKey(record.Type), record.ID, data).Err()
}

// FindRecords scans the type's hash; the cache is sized for that.
func (s *RedisStore) FindRecords(ctx context.Context, query string, mediaType domain.MediaType, limit int) ([]domain.UnifiedRecord, error) {
	values, err := s.client.HVals(ctx, redisRecordsKey(mediaType)).Result()
	if err != nil {
		return nil, err
	}
	candidates := make([]domain.UnifiedRecord, 0, len(values))
	for _, value := range values {
		var record domain.UnifiedRecord
		if err := json.Unmarshal([]byte(value), &record); err != nil {
			continue
		}
		candidates = append(candidates, record)
	}
	return rankRecords(candidates, query, limit), nil
}

func (s *RedisStore) GetDerivative(ctx context.Context, key domain.DerivativeKey) (domain.CachedDerivative, bool, error) {
	data, err := s.client.HGet(ctx, redisDerivativesKey(), key.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.CachedDerivative{}, false, nil
		}
		return domain.CachedDerivative{}, false, err
	}
	var derivative domain.CachedDerivative
	if err := json.Unmarshal(data, &derivative); err != nil {
		return domain.CachedDerivative{}, false, err
	}
	return derivative, true, nil
}

func (s *RedisStore) PutDerivative(ctx context.Context, derivative domain.CachedDerivative) error {
	data, err := json.Marshal(derivative)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, redisDerivativesKey(), derivative.Key.String(), data).Err()
}

func (s *RedisStore) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{Backend: "redis", Records: map[string]int{}}
	for _, mediaType := range []domain.MediaType{domain.MediaTypeAnime, domain.MediaTypeManga} {
		count, err := s.client.HLen(ctx, redisRecordsKey(mediaType)).Result()
		if err != nil {
			return Stats{}, err
		}
		stats.Records[string(mediaType)] = int(count)
	}
	count, err := s.client.HLen(ctx, redisDerivativesKey()).Result()
	if err != nil {
		return Stats{}, err
	}
	stats.Derivatives = int(count)
	return stats, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
