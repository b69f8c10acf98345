package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"
)

// RedisStore implements Store[S] on Redis.
//
// Layout (all keys share the configured prefix):
//   - cp:<thread>       list of checkpoint JSON documents, index = Seq-1
//   - thread:<thread>   hash with first and latest checkpoint IDs
//   - archived:<thread> "1" or "0"
//   - threads           sorted set of thread IDs scored by latest write time
//
// Append uses WATCH on the thread's list so that two writers racing on the
// same Seq resolve to exactly one success and one ErrConflict.
type RedisStore[S any] struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*redisOptions)

type redisOptions struct {
	prefix string
	ttl    time.Duration
}

// WithRedisPrefix sets the key prefix. Default "questforge:".
func WithRedisPrefix(prefix string) RedisOption {
	return func(o *redisOptions) {
		o.prefix = prefix
	}
}

// WithRedisTTL expires a thread's keys ttl after its last write. Zero keeps
// them forever.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(o *redisOptions) {
		o.ttl = ttl
	}
}

// NewRedisStore connects to a Redis server.
func NewRedisStore[S any](address, password string, db int, opts ...RedisOption) *RedisStore[S] {
	client := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewRedisStoreFromClient[S](client, opts...)
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient[S any](client *backend.Client, opts ...RedisOption) *RedisStore[S] {
	o := redisOptions{prefix: "questforge:"}
	for _, opt := range opts {
		opt(&o)
	}
	return &RedisStore[S]{client: client, prefix: o.prefix, ttl: o.ttl}
}

func (r *RedisStore[S]) cpKey(threadID string) string       { return r.prefix + "cp:" + threadID }
func (r *RedisStore[S]) threadKey(threadID string) string   { return r.prefix + "thread:" + threadID }
func (r *RedisStore[S]) archivedKey(threadID string) string { return r.prefix + "archived:" + threadID }
func (r *RedisStore[S]) indexKey() string                   { return r.prefix + "threads" }

// Append pushes cp onto the thread's list if cp.Seq follows the list length.
func (r *RedisStore[S]) Append(ctx context.Context, cp Checkpoint[S]) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	key := r.cpKey(cp.ThreadID)
	txf := func(tx *backend.Tx) error {
		n, err := tx.LLen(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("failed to read checkpoint count: %w", err)
		}
		if int64(cp.Seq) != n+1 {
			return ErrConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			pipe.RPush(ctx, key, data)
			pipe.HSetNX(ctx, r.threadKey(cp.ThreadID), "first", cp.ID)
			pipe.HSet(ctx, r.threadKey(cp.ThreadID), "latest", cp.ID)
			pipe.ZAdd(ctx, r.indexKey(), backend.Z{
				Score:  float64(cp.Time().UnixMicro()),
				Member: cp.ThreadID,
			})
			if r.ttl > 0 {
				pipe.Expire(ctx, key, r.ttl)
				pipe.Expire(ctx, r.threadKey(cp.ThreadID), r.ttl)
			}
			return nil
		})
		return err
	}

	err = r.client.Watch(ctx, txf, key)
	if errors.Is(err, backend.TxFailedErr) {
		return ErrConflict
	}
	if err != nil && !errors.Is(err, ErrConflict) {
		return fmt.Errorf("failed to append to redis: %w", err)
	}
	return err
}

// Latest returns the last element of the thread's list.
func (r *RedisStore[S]) Latest(ctx context.Context, threadID string) (Checkpoint[S], error) {
	val, err := r.client.LIndex(ctx, r.cpKey(threadID), -1).Result()
	if errors.Is(err, backend.Nil) {
		return Checkpoint[S]{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to get from redis: %w", err)
	}
	return decodeCheckpoint[S](val)
}

// List returns the whole list in Seq order.
func (r *RedisStore[S]) List(ctx context.Context, threadID string) ([]Checkpoint[S], error) {
	vals, err := r.client.LRange(ctx, r.cpKey(threadID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list from redis: %w", err)
	}
	out := make([]Checkpoint[S], 0, len(vals))
	for _, v := range vals {
		cp, err := decodeCheckpoint[S](v)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// Threads reads the index newest-first and resolves each entry's IDs and
// archived flag in one pipeline. Index entries whose keys expired are pruned.
func (r *RedisStore[S]) Threads(ctx context.Context, limit int) ([]ThreadInfo, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := r.client.ZRevRange(ctx, r.indexKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := r.client.Pipeline()
	hashes := make([]*backend.SliceCmd, len(ids))
	flags := make([]*backend.StringCmd, len(ids))
	for i, id := range ids {
		hashes[i] = pipe.HMGet(ctx, r.threadKey(id), "first", "latest")
		flags[i] = pipe.Get(ctx, r.archivedKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, backend.Nil) {
		return nil, fmt.Errorf("failed to read thread index: %w", err)
	}

	out := make([]ThreadInfo, 0, len(ids))
	var stale []any
	for i, id := range ids {
		vals := hashes[i].Val()
		first, _ := vals[0].(string)
		latest, _ := vals[1].(string)
		if first == "" {
			stale = append(stale, id)
			continue
		}
		out = append(out, newThreadInfo(id, first, latest, flags[i].Val() == "1"))
	}
	if len(stale) > 0 {
		if err := r.client.ZRem(ctx, r.indexKey(), stale...).Err(); err != nil {
			return nil, fmt.Errorf("failed to prune expired threads: %w", err)
		}
	}
	return out, nil
}

// Archived reads the archived flag key.
func (r *RedisStore[S]) Archived(ctx context.Context, threadID string) (bool, bool, error) {
	val, err := r.client.Get(ctx, r.archivedKey(threadID)).Result()
	if errors.Is(err, backend.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("failed to read thread metadata: %w", err)
	}
	return val == "1", true, nil
}

// SetArchived writes the archived flag key.
func (r *RedisStore[S]) SetArchived(ctx context.Context, threadID string, archived bool) error {
	val := "0"
	if archived {
		val = "1"
	}
	if err := r.client.Set(ctx, r.archivedKey(threadID), val, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to update thread metadata: %w", err)
	}
	return nil
}

// DeleteThread removes every key for a thread.
func (r *RedisStore[S]) DeleteThread(ctx context.Context, threadID string) error {
	pipe := r.client.Pipeline()
	pipe.Del(ctx, r.cpKey(threadID), r.threadKey(threadID), r.archivedKey(threadID))
	pipe.ZRem(ctx, r.indexKey(), threadID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete thread: %w", err)
	}
	return nil
}

// Close closes the redis client.
func (r *RedisStore[S]) Close() error {
	return r.client.Close()
}

func decodeCheckpoint[S any](val string) (Checkpoint[S], error) {
	var cp Checkpoint[S]
	if err := json.Unmarshal([]byte(val), &cp); err != nil {
		return cp, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return cp, nil
}
