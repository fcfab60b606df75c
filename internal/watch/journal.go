package watch

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/kode4food/vigil/pkg/api"
)

type (
	// Journal persists the set of executions known to have reached a
	// terminal state, so restarts do not reconnect to dead executions
	Journal interface {
		MarkFinished(context.Context, api.ExecutionID) error
		IsFinished(context.Context, api.ExecutionID) (bool, error)
		Close() error
	}

	// RedisJournal records finished executions in a Redis set
	RedisJournal struct {
		client *redis.Client
		key    string
	}

	// NopJournal discards terminal markers, keeping them process-local
	NopJournal struct{}
)

const finishedKey = "vigil:finished"

var (
	_ Journal = (*RedisJournal)(nil)
	_ Journal = (*NopJournal)(nil)
)

// NewRedisJournal creates a journal backed by the Redis at addr
func NewRedisJournal(addr, password string, db int) *RedisJournal {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisJournal{
		client: client,
		key:    finishedKey,
	}
}

func (j *RedisJournal) MarkFinished(
	ctx context.Context, id api.ExecutionID,
) error {
	return j.client.SAdd(ctx, j.key, string(id)).Err()
}

func (j *RedisJournal) IsFinished(
	ctx context.Context, id api.ExecutionID,
) (bool, error) {
	return j.client.SIsMember(ctx, j.key, string(id)).Result()
}

func (j *RedisJournal) Close() error {
	return j.client.Close()
}

func (NopJournal) MarkFinished(context.Context, api.ExecutionID) error {
	return nil
}

func (NopJournal) IsFinished(
	context.Context, api.ExecutionID,
) (bool, error) {
	return false, nil
}

func (NopJournal) Close() error {
	return nil
}
