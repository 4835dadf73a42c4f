// Copyright Contributors to the env360 project

package workflow

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/env360/env360/internal/apperr"
	"github.com/env360/env360/internal/store"
)

// RedisEventStore decorates a base store.WorkflowStore, moving only
// events and streams onto Redis. Everything else -- workflow_status,
// operation_outputs, the durable record a crashed process resumes from
// -- still goes through the embedded base, which is always the
// Postgres-backed store. A single-process deployment has no need to
// share events/streams outside its own memory, but once
// internal/scheduler.Dispatcher instances run on separate processes,
// SetEvent/GetEvent and stream appends from one replica must be visible
// to Step calls executing on another.
type RedisEventStore struct {
	store.WorkflowStore
	Client *redis.Client
}

// NewRedisEventStore wraps base, routing SetEvent/GetEvent/AppendStream/
// ReadStream through client instead of base's own implementation of
// those four methods.
func NewRedisEventStore(base store.WorkflowStore, client *redis.Client) *RedisEventStore {
	return &RedisEventStore{WorkflowStore: base, Client: client}
}

func eventRedisKey(workflowUUID, key string) string {
	return "env360:wf:" + workflowUUID + ":event:" + key
}

func streamRedisKey(workflowUUID, key string) string {
	return "env360:wf:" + workflowUUID + ":stream:" + key
}

func (r *RedisEventStore) SetEvent(ctx context.Context, workflowUUID, key string, value []byte) error {
	if err := r.Client.Set(ctx, eventRedisKey(workflowUUID, key), value, 0).Err(); err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "workflow: redis setEvent", err)
	}
	return nil
}

func (r *RedisEventStore) GetEvent(ctx context.Context, workflowUUID, key string) ([]byte, bool, error) {
	val, err := r.Client.Get(ctx, eventRedisKey(workflowUUID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperr.Wrap(apperr.KindUnavailable, "workflow: redis getEvent", err)
	}
	return val, true, nil
}

func (r *RedisEventStore) AppendStream(ctx context.Context, workflowUUID, key string, value []byte) error {
	if err := r.Client.RPush(ctx, streamRedisKey(workflowUUID, key), value).Err(); err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "workflow: redis appendStream", err)
	}
	return nil
}

func (r *RedisEventStore) ReadStream(ctx context.Context, workflowUUID, key string, maxItems int) ([][]byte, error) {
	stop := int64(-1)
	if maxItems > 0 {
		stop = int64(maxItems - 1)
	}
	raw, err := r.Client.LRange(ctx, streamRedisKey(workflowUUID, key), 0, stop).Result()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "workflow: redis readStream", err)
	}
	out := make([][]byte, len(raw))
	for i, v := range raw {
		out[i] = []byte(v)
	}
	return out, nil
}
