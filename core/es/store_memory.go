package es

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/codewandler/cqrs-go/ports/kv"
)

type (
	memoryStoreOpts struct {
		log     *slog.Logger
		metrics ESMetrics
		clock   func() time.Time
	}
	MemoryStoreOption interface{ applyToMemoryStore(*memoryStoreOpts) }
)

type memTenant struct {
	stream     []Envelope
	aggregates map[string][]Envelope
}

// MemoryStore is an in-process EventStore for tests and development.
// Snapshots and thread records live in a kv.MemStore.
type MemoryStore struct {
	mu      sync.Mutex
	log     *slog.Logger
	metrics ESMetrics
	clock   func() time.Time
	seq     uint64
	tenants map[string]*memTenant

	snaps   *KVSnapshots
	threads *KVThreads
}

func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	options := memoryStoreOpts{
		log:     slog.Default(),
		metrics: NopESMetrics(),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt.applyToMemoryStore(&options)
	}

	log := options.log.With(slog.String("store", "memory"))
	backing := kv.NewMemStore()
	return &MemoryStore{
		log:     log,
		metrics: options.metrics,
		clock:   options.clock,
		tenants: map[string]*memTenant{},
		snaps:   NewKVSnapshots(backing),
		threads: NewKVThreads(backing, WithClock(options.clock), WithLog(log)),
	}
}

func (s *MemoryStore) tenant(name string) *memTenant {
	t, ok := s.tenants[name]
	if !ok {
		t = &memTenant{aggregates: map[string][]Envelope{}}
		s.tenants[name] = t
	}
	return t
}

func memStreamKey(aggType, aggID string) string { return aggType + "/" + aggID }

func (s *MemoryStore) LoadAggregate(ctx context.Context, cc *CommandContext, aggregateID string, expectedVersion Version) (Aggregate, error) {
	t := cc.AggregateType()
	if aggregateID == "" {
		return CreateWithID(t, gonanoid.Must())
	}

	snap := LoadSnapshotFor(ctx, s.snaps, cc, aggregateID, s.log, s.metrics)
	return Rehydrate(ctx, t, aggregateID, expectedVersion, snap, func(_ context.Context, after Version, limit int) ([]Envelope, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		envs := s.tenant(cc.Tenant()).aggregates[memStreamKey(t.Name(), aggregateID)]
		start := int(after) + 1
		if start >= len(envs) {
			return nil, nil
		}
		end := min(start+limit, len(envs))
		out := make([]Envelope, end-start)
		copy(out, envs[start:end])
		return out, nil
	})
}

func (s *MemoryStore) CommitEvents(ctx context.Context, cc *CommandContext, expectedVersion Version) ([]Envelope, error) {
	envs, err := PrepareCommit(cc, expectedVersion, s.clock())
	if err != nil || len(envs) == 0 {
		return nil, err
	}
	agg := cc.Aggregate()

	s.mu.Lock()
	ten := s.tenant(cc.Tenant())
	key := memStreamKey(agg.TypeName(), agg.ID())
	cur := Version(len(ten.aggregates[key])) - 1
	if cur != expectedVersion {
		s.mu.Unlock()
		return nil, Concurrency(expectedVersion, cur)
	}
	for i := range envs {
		s.seq++
		envs[i].Seq = s.seq
		envs[i].GID = GID(s.seq)
	}
	ten.aggregates[key] = append(ten.aggregates[key], envs...)
	ten.stream = append(ten.stream, envs...)
	s.mu.Unlock()

	s.log.Debug(
		"append",
		slog.String("tenant", cc.Tenant()),
		slog.Group("agg", slog.String("type", agg.TypeName()), slog.String("id", agg.ID())),
		slog.Uint64("last_seq", envs[len(envs)-1].Seq),
		slog.Int("num_events", len(envs)),
	)

	SnapshotAfterCommit(ctx, s.snaps, cc, envs[len(envs)-1].AggregateVersion, s.log, s.metrics)
	return envs, nil
}

func (s *MemoryStore) PollStream(ctx context.Context, rc *ReaderContext, limit int) (*Lease, error) {
	return s.threads.Acquire(ctx, rc, limit, s.rangeAfter)
}

func (s *MemoryStore) CommitCursors(ctx context.Context, rc *ReaderContext, lease *Lease) (bool, error) {
	return s.threads.Release(ctx, rc, lease)
}

// Thread exposes a thread's persisted cursors and lease.
func (s *MemoryStore) Thread(ctx context.Context, tenant, thread string) (ThreadRecord, error) {
	return s.threads.Thread(ctx, tenant, thread)
}

func (s *MemoryStore) rangeAfter(_ context.Context, tenant, after string, limit int) ([]Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stream := s.tenant(tenant).stream
	start := sort.Search(len(stream), func(i int) bool { return stream[i].GID > after })
	end := min(start+limit, len(stream))
	out := make([]Envelope, end-start)
	copy(out, stream[start:end])
	return out, nil
}

var (
	_ EventStore   = (*MemoryStore)(nil)
	_ ThreadReader = (*MemoryStore)(nil)
)
