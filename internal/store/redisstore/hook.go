package redisstore

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// CommandObserver receives the outcome of every command sent to Redis.
type CommandObserver interface {
	ObserveCommand(name string, elapsed time.Duration, err error)
}

type startKey struct{}

// observerHook times commands and pipelines through go-redis hooks.
type observerHook struct {
	obs CommandObserver
}

func newObserverHook(obs CommandObserver) redis.Hook { return observerHook{obs: obs} }

func (h observerHook) BeforeProcess(ctx context.Context, _ redis.Cmder) (context.Context, error) {
	return context.WithValue(ctx, startKey{}, time.Now()), nil
}

func (h observerHook) AfterProcess(ctx context.Context, cmd redis.Cmder) error {
	h.obs.ObserveCommand(cmd.Name(), since(ctx), ignoreNil(cmd.Err()))
	return nil
}

func (h observerHook) BeforeProcessPipeline(ctx context.Context, _ []redis.Cmder) (context.Context, error) {
	return context.WithValue(ctx, startKey{}, time.Now()), nil
}

func (h observerHook) AfterProcessPipeline(ctx context.Context, cmds []redis.Cmder) error {
	elapsed := since(ctx)
	var err error
	for _, c := range cmds {
		if e := ignoreNil(c.Err()); e != nil {
			err = e
			break
		}
	}
	h.obs.ObserveCommand("pipeline", elapsed, err)
	return nil
}

func since(ctx context.Context) time.Duration {
	if t, ok := ctx.Value(startKey{}).(time.Time); ok {
		return time.Since(t)
	}
	return 0
}

func ignoreNil(err error) error {
	if err == redis.Nil {
		return nil
	}
	return err
}
