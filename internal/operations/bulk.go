package operations

import (
	"context"
	"errors"

	"github.com/samber/lo"
)

// Outcome is the settled result of one name in a Batch.
type Outcome struct {
	Kind Kind
	Key  string
	Err  error
	// Rejected is set when the key was already pending and no request was issued.
	Rejected bool
}

// OK reports whether the operation for this key succeeded.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Batch tracks one bulk trigger. Each name is an independent task; a failure
// on one name never affects the others.
type Batch struct {
	Kind  Kind
	keys  []string
	tasks map[string]*Task
	// keyed by name, set when Start refused the key
	rejected map[string]error
}

// Tasks returns the tasks that were started, in input order.
func (b *Batch) Tasks() []*Task {
	return lo.FilterMap(b.keys, func(k string, _ int) (*Task, bool) {
		t, ok := b.tasks[k]
		return t, ok
	})
}

// Keys returns the de-duplicated names of the batch.
func (b *Batch) Keys() []string {
	return append([]string(nil), b.keys...)
}

// Wait blocks until every started task settles and returns one Outcome per
// name in input order. A ctx error is returned if waiting was cut short.
func (b *Batch) Wait(ctx context.Context) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(b.keys))
	for _, k := range b.keys {
		if err, ok := b.rejected[k]; ok {
			outcomes = append(outcomes, Outcome{Kind: b.Kind, Key: k, Err: err, Rejected: true})
			continue
		}
		t := b.tasks[k]
		select {
		case <-t.Done():
		case <-ctx.Done():
			return outcomes, ctx.Err()
		}
		outcomes = append(outcomes, Outcome{Kind: b.Kind, Key: k, Err: t.Err()})
	}
	return outcomes, nil
}

// Failed filters outcomes down to the ones that did not succeed.
func Failed(outcomes []Outcome) []Outcome {
	return lo.Filter(outcomes, func(o Outcome, _ int) bool { return !o.OK() })
}

type startFunc func(ctx context.Context, key string) (*Task, error)

func (c *Coordinator) startMany(ctx context.Context, kind Kind, names []string, start startFunc) *Batch {
	b := &Batch{
		Kind:     kind,
		keys:     lo.Uniq(lo.Filter(names, func(n string, _ int) bool { return n != "" })),
		tasks:    make(map[string]*Task),
		rejected: make(map[string]error),
	}
	for _, name := range b.keys {
		t, err := start(ctx, name)
		if err != nil {
			if !errors.Is(err, ErrAlreadyPending) {
				c.logger.Warn().Err(err).Str("kind", string(kind)).Str("key", name).Msg("Failed to start operation")
			}
			b.rejected[name] = err
			continue
		}
		b.tasks[name] = t
	}
	return b
}

// DeleteMany deletes every name independently.
func (c *Coordinator) DeleteMany(ctx context.Context, names []string) *Batch {
	return c.startMany(ctx, KindDelete, names, c.Delete)
}

// DownloadMany downloads every name independently.
func (c *Coordinator) DownloadMany(ctx context.Context, names []string) *Batch {
	return c.startMany(ctx, KindDownload, names, c.Download)
}

// OffloadMany offloads every name independently.
func (c *Coordinator) OffloadMany(ctx context.Context, names []string) *Batch {
	return c.startMany(ctx, KindOffload, names, c.Offload)
}
