package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisNamespace = "orbit:"

// Запись хранится как hash с полями v (значение), ver (версия), ts (unix nano).
var (
	redisPutIf = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'ver')
local want = tonumber(ARGV[2])
if cur == false then
	if want ~= 0 then return -1 end
elseif tonumber(cur) ~= want then
	return -1
end
local nextVer = want + 1
redis.call('HSET', KEYS[1], 'v', ARGV[1], 'ver', nextVer, 'ts', ARGV[3])
return nextVer
`)

	redisDeleteIf = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'ver')
if cur == false then return -2 end
if tonumber(cur) ~= tonumber(ARGV[1]) then return -1 end
redis.call('DEL', KEYS[1])
return 1
`)
)

// RedisStore — Store поверх Redis. Условная запись выполняется Lua-скриптом.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore подключается к Redis по URL вида redis://host:port/db.
func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w: %w", ErrUnavailable, err)
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient оборачивает готовый клиент.
func NewRedisStoreFromClient(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Get возвращает запись по ключу.
func (s *RedisStore) Get(ctx context.Context, key string) (*Record, error) {
	fields, err := s.client.HGetAll(ctx, redisNamespace+key).Result()
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return decodeRedisRecord(key, fields)
}

func decodeRedisRecord(key string, fields map[string]string) (*Record, error) {
	version, err := strconv.ParseInt(fields["ver"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode version of %s: %w", key, err)
	}
	rec := &Record{
		Key:     key,
		Value:   []byte(fields["v"]),
		Version: version,
	}
	if ts, err := strconv.ParseInt(fields["ts"], 10, 64); err == nil {
		rec.UpdatedAt = time.Unix(0, ts).UTC()
	}
	return rec, nil
}

// PutIf выполняет условную запись.
func (s *RedisStore) PutIf(ctx context.Context, key string, value []byte, version int64) (int64, error) {
	ts := strconv.FormatInt(time.Now().UnixNano(), 10)
	res, err := redisPutIf.Run(ctx, s.client, []string{redisNamespace + key}, value, version, ts).Int64()
	if err != nil {
		return 0, fmt.Errorf("put %s: %w", key, err)
	}
	if res < 0 {
		return 0, ErrConflict
	}
	return res, nil
}

// DeleteIf удаляет запись при совпадении версии.
func (s *RedisStore) DeleteIf(ctx context.Context, key string, version int64) error {
	res, err := redisDeleteIf.Run(ctx, s.client, []string{redisNamespace + key}, version).Int64()
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	switch res {
	case -2:
		return ErrNotFound
	case -1:
		return ErrConflict
	}
	return nil
}

// List возвращает записи по префиксу. Ключи собираются через SCAN,
// запись, удалённая между SCAN и чтением, пропускается.
func (s *RedisStore) List(ctx context.Context, prefix string) ([]Record, error) {
	match := escapeGlob(redisNamespace+prefix) + "*"

	var keys []string
	iter := s.client.Scan(ctx, 0, match, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), redisNamespace))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", prefix, err)
	}
	sort.Strings(keys)

	out := make([]Record, 0, len(keys))
	for _, key := range keys {
		rec, err := s.Get(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Ping проверяет соединение.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

// Close закрывает клиент.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
