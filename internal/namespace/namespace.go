package namespace

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/rzbill/flojobs/internal/store"
)

// Meta describes one storage instance.
type Meta struct {
	Name        string `json:"name"`
	CreatedAtMs int64  `json:"createdAtMs"`
	// InstanceID identifies the storage instance; lock owner tokens embed it.
	InstanceID string `json:"instanceId"`
}

// Ensure returns the instance metadata for keys' prefix, creating it on
// first use. Concurrent callers agree on one InstanceID.
func Ensure(ctx context.Context, s store.Store, keys Keys) (Meta, error) {
	now := time.Now().UnixMilli()
	candidate := uuid.NewString()
	won, err := s.SetNX(ctx, keys.instance(), candidate, 0)
	if err != nil {
		return Meta{}, fmt.Errorf("namespace: claim instance id: %w", err)
	}
	if won {
		err := s.Tx(ctx, func(tx store.Tx) error {
			tx.HashSet(keys.Meta(), map[string]string{
				"Name":      keys.Prefix(),
				"CreatedAt": strconv.FormatInt(now, 10),
			})
			return nil
		})
		if err != nil {
			return Meta{}, fmt.Errorf("namespace: write meta: %w", err)
		}
		return Meta{Name: keys.Prefix(), CreatedAtMs: now, InstanceID: candidate}, nil
	}

	id, _, err := s.Get(ctx, keys.instance())
	if err != nil {
		return Meta{}, fmt.Errorf("namespace: read instance id: %w", err)
	}
	fields, err := s.HashGetAll(ctx, keys.Meta())
	if err != nil {
		return Meta{}, fmt.Errorf("namespace: read meta: %w", err)
	}
	m := Meta{Name: keys.Prefix(), InstanceID: id}
	if v, ok := fields["CreatedAt"]; ok {
		m.CreatedAtMs, _ = strconv.ParseInt(v, 10, 64)
	}
	return m, nil
}
