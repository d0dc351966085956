// Package estests is the conformance suite every es.EventStore backend
// runs. Call Run from a backend's tests with a factory for empty stores.
package estests

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/cqrs-go/core/es"
	"github.com/codewandler/cqrs-go/core/es/estests/domain"
)

// Factory returns an empty store. The suite calls it once per test.
type Factory func(t *testing.T) es.EventStore

type suite struct {
	store  es.EventStore
	tenant string
}

func newSuite(t *testing.T, f Factory) *suite {
	t.Helper()
	store := f(t)
	require.NotNil(t, store)
	return &suite{store: store, tenant: "tenant-" + gonanoid.Must(8)}
}

func (s *suite) actor() es.Actor {
	return es.Actor{Tenant: s.tenant, ID: "user1", Name: "User One", Roles: []string{}}
}

func (s *suite) handler(t *testing.T, types []*es.AggregateType, opts ...es.CommandHandlerOption) *es.CommandHandler {
	t.Helper()
	h, err := es.NewCommandHandler(s.store, types, opts...)
	require.NoError(t, err)
	t.Cleanup(h.Close)
	return h
}

func (s *suite) sums(t *testing.T, opts ...es.CommandHandlerOption) *es.CommandHandler {
	return s.handler(t, []*es.AggregateType{domain.SumType}, opts...)
}

func (s *suite) load(t *testing.T, typ *es.AggregateType, id string, ev es.Version) es.Aggregate {
	t.Helper()
	cc := es.NewCommandContext(s.store, s.actor(), typ, "", id, ev, nil)
	agg, err := s.store.LoadAggregate(t.Context(), cc, id, ev)
	require.NoError(t, err)
	require.NotNil(t, agg)
	return agg
}

func (s *suite) add(t *testing.T, h *es.CommandHandler, id string, a, b int, opts ...es.CommandOption) *es.CommandContext {
	t.Helper()
	opts = append([]es.CommandOption{es.WithAggregateID(id)}, opts...)
	cc, err := h.Command(t.Context(), s.actor(), domain.AddNumbers, domain.NewNumbers(a, b), opts...)
	require.NoError(t, err)
	return cc
}

// drain polls thread until it reports nothing more pending.
func (s *suite) drain(t *testing.T, thread string, handlers []es.EventHandler, opts ...es.PollOption) {
	t.Helper()
	r, err := es.NewStreamReader(s.store)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		more, err := r.Poll(t.Context(), s.tenant, thread, handlers, opts...)
		require.NoError(t, err)
		if !more {
			return
		}
	}
	t.Fatalf("thread %s did not drain", thread)
}

func (s *suite) readerContext(thread string, timeout time.Duration, handlers ...es.EventHandler) *es.ReaderContext {
	return &es.ReaderContext{Tenant: s.tenant, Thread: thread, Handlers: handlers, Timeout: timeout}
}

func sumOf(t *testing.T, agg es.Aggregate) int {
	t.Helper()
	sum, ok := agg.(*domain.Sum)
	require.True(t, ok, "unexpected aggregate %T", agg)
	return sum.Sum
}

// Run executes the conformance suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("commands", func(t *testing.T) { runCommands(t, newStore) })
	t.Run("replay", func(t *testing.T) { runReplay(t, newStore) })
	t.Run("concurrency", func(t *testing.T) { runConcurrency(t, newStore) })
	t.Run("streams", func(t *testing.T) { runStreams(t, newStore) })
	t.Run("leases", func(t *testing.T) { runLeases(t, newStore) })
}

func runCommands(t *testing.T, newStore Factory) {
	t.Run("create assigns an id", func(t *testing.T) {
		s := newSuite(t, newStore)
		h := s.sums(t)

		cc, err := h.Command(t.Context(), s.actor(), domain.AddNumbers, domain.NewNumbers(1, 2))
		require.NoError(t, err)
		agg := cc.Aggregate()
		require.NotEmpty(t, agg.ID())
		require.Equal(t, es.Version(0), agg.Version())

		envs := cc.Committed()
		require.Len(t, envs, 1)
		env := envs[0]
		require.Equal(t, "000000000", env.ID)
		require.NotEmpty(t, env.GID)
		require.Equal(t, agg.ID(), env.AggregateID)
		require.Equal(t, "sum", env.AggregateType)
		require.Equal(t, es.Version(0), env.AggregateVersion)
		require.Equal(t, "user1", env.ActorID)
		require.Equal(t, domain.AddNumbers, env.Command)
		require.Equal(t, domain.NumbersAdded, env.Name)
		require.False(t, env.Time.IsZero())
		require.NoError(t, env.Validate())
	})

	t.Run("sum with expected versions", func(t *testing.T) {
		s := newSuite(t, newStore)
		h := s.sums(t)
		id := "sum-" + gonanoid.Must(8)

		cc := s.add(t, h, id, 1, 2)
		require.Equal(t, es.Version(0), cc.Aggregate().Version())

		cc = s.add(t, h, id, 3, 4, es.WithExpectedVersion(0))
		require.Equal(t, es.Version(1), cc.Aggregate().Version())
		require.Equal(t, 10, sumOf(t, cc.Aggregate()))

		_, err := h.Command(t.Context(), s.actor(), domain.AddNumbers, domain.NewNumbers(5, 6),
			es.WithAggregateID(id), es.WithExpectedVersion(0))
		require.ErrorIs(t, err, es.ErrConcurrency)

		agg := s.load(t, domain.SumType, id, es.NoVersion)
		require.Equal(t, es.Version(1), agg.Version())
		require.Equal(t, 10, sumOf(t, agg))
	})

	t.Run("commands without expected version apply to the latest", func(t *testing.T) {
		s := newSuite(t, newStore)
		h := s.sums(t)
		id := "sum-" + gonanoid.Must(8)

		for i := 0; i < 4; i++ {
			s.add(t, h, id, 1, 1)
		}
		cc, err := h.Command(t.Context(), s.actor(), domain.SubtractNumbers, domain.NewNumbers(1, 0),
			es.WithAggregateID(id))
		require.NoError(t, err)
		require.Equal(t, es.Version(4), cc.Aggregate().Version())
		require.Equal(t, 7, sumOf(t, cc.Aggregate()))
	})

	t.Run("rejected command commits nothing", func(t *testing.T) {
		s := newSuite(t, newStore)
		h := s.sums(t)
		id := "sum-" + gonanoid.Must(8)
		s.add(t, h, id, 1, 2)

		_, err := h.Command(t.Context(), s.actor(), domain.AddNumbers, map[string]int{"number1": 1},
			es.WithAggregateID(id))
		require.ErrorIs(t, err, es.InvalidArgument("number2"))

		agg := s.load(t, domain.SumType, id, es.NoVersion)
		require.Equal(t, es.Version(0), agg.Version())
	})

	t.Run("calculator", func(t *testing.T) {
		s := newSuite(t, newStore)
		h := s.handler(t, []*es.AggregateType{domain.CalculatorType})
		id := "calc-" + gonanoid.Must(8)

		press := func(command string, payload any, ev es.Version) (*es.CommandContext, error) {
			return h.Command(t.Context(), s.actor(), command, payload,
				es.WithAggregateID(id), es.WithExpectedVersion(ev))
		}

		keys := []struct {
			command string
			payload any
		}{
			{domain.PressDigit, domain.Digit{Digit: "1"}},
			{domain.PressOperator, domain.Operator{Operator: "+"}},
			{domain.PressDigit, domain.Digit{Digit: "2"}},
			{domain.PressOperator, domain.Operator{Operator: "-"}},
			{domain.PressDigit, domain.Digit{Digit: "3"}},
			{domain.PressOperator, domain.Operator{Operator: "*"}},
			{domain.PressDigit, domain.Digit{Digit: "5"}},
			{domain.PressEquals, nil},
		}
		ev := es.NoVersion
		var cc *es.CommandContext
		for _, k := range keys {
			var err error
			if ev == es.NoVersion {
				cc, err = h.Command(t.Context(), s.actor(), k.command, k.payload, es.WithAggregateID(id))
			} else {
				cc, err = press(k.command, k.payload, ev)
			}
			require.NoError(t, err, k.command)
			ev = cc.Aggregate().Version()
		}
		require.Equal(t, es.Version(7), ev)
		require.Equal(t, float64(0), cc.Aggregate().(*domain.Calculator).Result)

		replayed := s.load(t, domain.CalculatorType, id, es.NoVersion).(*domain.Calculator)
		require.Equal(t, float64(0), replayed.Result)
		require.Equal(t, "0", replayed.Left)

		_, err := press(domain.PressDigit, domain.Digit{Digit: "x"}, ev)
		require.ErrorIs(t, err, es.ErrInvalidArgument)
		_, err = press(domain.PressOperator, domain.Operator{Operator: "%"}, ev)
		require.ErrorIs(t, err, es.InvalidArgument("operator"))

		// an operator wipes the right side, so equals has nothing to compute
		_, err = press(domain.PressOperator, domain.Operator{Operator: "+"}, ev)
		require.NoError(t, err)
		_, err = press(domain.PressEquals, nil, ev+1)
		require.ErrorIs(t, err, es.ErrPrecondition)
	})
}

func runReplay(t *testing.T, newStore Factory) {
	t.Run("snapshot and full replay agree", func(t *testing.T) {
		s := newSuite(t, newStore)
		withSnaps := s.handler(t, []*es.AggregateType{domain.SumType})
		withoutSnaps := s.handler(t, []*es.AggregateType{domain.SumNoSnapshotsType})

		id := "sum-" + gonanoid.Must(8)
		for i := 1; i <= 6; i++ {
			s.add(t, withSnaps, id, i, i)
			s.add(t, withoutSnaps, id, i, i)
		}

		a := s.load(t, domain.SumType, id, es.NoVersion)
		b := s.load(t, domain.SumNoSnapshotsType, id, es.NoVersion)
		require.Equal(t, es.Version(5), a.Version())
		require.Equal(t, a.Version(), b.Version())
		require.Equal(t, 42, sumOf(t, a))
		require.Equal(t, sumOf(t, a), sumOf(t, b))
	})

	t.Run("load stops at the expected version", func(t *testing.T) {
		s := newSuite(t, newStore)
		h := s.sums(t)
		id := "sum-" + gonanoid.Must(8)
		for i := 0; i < 5; i++ {
			s.add(t, h, id, 1, 0)
		}

		agg := s.load(t, domain.SumType, id, 2)
		require.Equal(t, es.Version(2), agg.Version())
		require.Equal(t, 3, sumOf(t, agg))
	})

	t.Run("cache does not change results", func(t *testing.T) {
		s := newSuite(t, newStore)
		cached := s.sums(t)
		uncached := s.sums(t, es.WithCacheSize(0))

		id := "sum-" + gonanoid.Must(8)
		ev := es.NoVersion
		for i := 0; i < 6; i++ {
			h := cached
			if i%2 == 1 {
				h = uncached
			}
			opts := []es.CommandOption{es.WithAggregateID(id)}
			if ev != es.NoVersion {
				opts = append(opts, es.WithExpectedVersion(ev))
			}
			cc, err := h.Command(t.Context(), s.actor(), domain.AddNumbers, domain.NewNumbers(i, 1), opts...)
			require.NoError(t, err)
			ev = cc.Aggregate().Version()
			require.Equal(t, es.Version(i), ev)
		}

		cc, err := cached.Command(t.Context(), s.actor(), domain.AddNumbers, domain.NewNumbers(0, 0),
			es.WithAggregateID(id), es.WithExpectedVersion(ev))
		require.NoError(t, err)
		require.Equal(t, 21, sumOf(t, cc.Aggregate()))
		require.Equal(t, sumOf(t, s.load(t, domain.SumType, id, es.NoVersion)), sumOf(t, cc.Aggregate()))
	})

	t.Run("versions have no gaps", func(t *testing.T) {
		s := newSuite(t, newStore)
		h := s.sums(t)
		id := "sum-" + gonanoid.Must(8)
		for i := 0; i < 3; i++ {
			s.add(t, h, id, 1, 1)
		}

		lease, err := s.store.PollStream(t.Context(), s.readerContext("inspect", time.Minute, domain.NewEventCounter("c")), 10)
		require.NoError(t, err)
		require.NotNil(t, lease)
		require.Len(t, lease.Envelopes, 3)
		for i, env := range lease.Envelopes {
			require.Equal(t, es.Version(i), env.AggregateVersion)
			if i > 0 {
				require.Greater(t, env.GID, lease.Envelopes[i-1].GID)
			}
		}
		_, err = s.store.CommitCursors(t.Context(), s.readerContext("inspect", time.Minute, domain.NewEventCounter("c")), lease)
		require.NoError(t, err)
	})
}

func runConcurrency(t *testing.T, newStore Factory) {
	t.Run("one of many racing commits wins", func(t *testing.T) {
		s := newSuite(t, newStore)
		h := s.sums(t, es.WithCacheSize(0))
		id := "sum-" + gonanoid.Must(8)
		s.add(t, h, id, 1, 1)

		const n = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			ok, stale int
			other     []error
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := h.Command(context.Background(), s.actor(), domain.AddNumbers, domain.NewNumbers(1, 0),
					es.WithAggregateID(id), es.WithExpectedVersion(0))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					ok++
				case errors.Is(err, es.ErrConcurrency):
					stale++
				default:
					other = append(other, err)
				}
			}()
		}
		wg.Wait()

		require.Empty(t, other)
		require.Equal(t, 1, ok)
		require.Equal(t, n-1, stale)

		agg := s.load(t, domain.SumType, id, es.NoVersion)
		require.Equal(t, es.Version(1), agg.Version())
		require.Equal(t, 3, sumOf(t, agg))
	})

	t.Run("stale context is rejected by the store", func(t *testing.T) {
		s := newSuite(t, newStore)
		h := s.sums(t)
		id := "sum-" + gonanoid.Must(8)
		s.add(t, h, id, 1, 1)

		// load at version 0, let someone else commit, then commit the stale context
		cc := es.NewCommandContext(s.store, s.actor(), domain.SumType, domain.AddNumbers, id, 0, nil)
		agg, err := s.store.LoadAggregate(t.Context(), cc, id, 0)
		require.NoError(t, err)
		cc.SetAggregate(agg)
		require.NoError(t, cc.Push(domain.NumbersAdded, domain.NewNumbers(2, 2)))

		s.add(t, h, id, 1, 1, es.WithExpectedVersion(0))

		_, err = s.store.CommitEvents(t.Context(), cc, 0)
		require.ErrorIs(t, err, es.ErrConcurrency)
		require.Equal(t, 4, sumOf(t, s.load(t, domain.SumType, id, es.NoVersion)))
	})
}

func runStreams(t *testing.T, newStore Factory) {
	t.Run("independent threads", func(t *testing.T) {
		s := newSuite(t, newStore)
		h := s.sums(t)
		id := "sum-" + gonanoid.Must(8)
		var last string
		for i := 0; i < 3; i++ {
			last = s.add(t, h, id, 1, 2).Committed()[0].GID
		}

		a := domain.NewEventCounter("counter-a")
		b := domain.NewEventCounter("counter-b")
		c := domain.NewEventCounter("counter-c")
		s.drain(t, "thread-1", []es.EventHandler{a}, es.WithLimit(2))
		s.drain(t, "thread-2", []es.EventHandler{b, c}, es.WithLimit(2))

		require.Equal(t, 3, a.Count(id))
		require.Equal(t, 3, b.Count(id))
		require.Equal(t, 3, c.Count(id))

		if tr, ok := s.store.(es.ThreadReader); ok {
			rec, err := tr.Thread(t.Context(), s.tenant, "thread-1")
			require.NoError(t, err)
			require.Equal(t, last, rec.Cursors["counter-a"])
			require.Nil(t, rec.Lease)

			rec, err = tr.Thread(t.Context(), s.tenant, "thread-2")
			require.NoError(t, err)
			require.Equal(t, map[string]string{"counter-b": last, "counter-c": last}, rec.Cursors)
		}

		// nothing left
		s.drain(t, "thread-1", []es.EventHandler{a})
		require.Equal(t, 3, a.Total())
	})

	t.Run("late handler catches up", func(t *testing.T) {
		s := newSuite(t, newStore)
		h := s.sums(t)
		id := "sum-" + gonanoid.Must(8)
		for i := 0; i < 3; i++ {
			s.add(t, h, id, 1, 1)
		}

		first := domain.NewEventCounter("first")
		s.drain(t, "main", []es.EventHandler{first}, es.WithLimit(500))
		require.Equal(t, 3, first.Count(id))

		for i := 0; i < 3; i++ {
			s.add(t, h, id, 1, 1)
		}
		second := domain.NewEventCounter("second")
		s.drain(t, "main", []es.EventHandler{first, second}, es.WithLimit(5))
		require.Equal(t, 6, first.Count(id))
		require.Equal(t, 6, second.Count(id))
	})

	t.Run("failed handler is redelivered", func(t *testing.T) {
		s := newSuite(t, newStore)
		h := s.sums(t)
		id := "sum-" + gonanoid.Must(8)
		for i := 0; i < 3; i++ {
			s.add(t, h, id, 1, 1)
		}

		var (
			mu       sync.Mutex
			attempts = map[es.Version]int{}
		)
		flaky := es.NewHandler("flaky", map[string]es.EventFunc{
			domain.NumbersAdded: func(_ context.Context, _ string, env es.Envelope) error {
				mu.Lock()
				defer mu.Unlock()
				attempts[env.AggregateVersion]++
				if env.AggregateVersion == 1 && attempts[1] == 1 {
					return errors.New("transient")
				}
				return nil
			},
		})
		steady := domain.NewEventCounter("steady")

		r, err := es.NewStreamReader(s.store)
		require.NoError(t, err)
		_, err = r.Poll(t.Context(), s.tenant, "main", []es.EventHandler{flaky, steady})
		require.NoError(t, err)
		require.Equal(t, map[es.Version]int{0: 1, 1: 1}, attempts)
		require.Equal(t, 3, steady.Count(id))

		_, err = r.Poll(t.Context(), s.tenant, "main", []es.EventHandler{flaky, steady})
		require.NoError(t, err)
		require.Equal(t, map[es.Version]int{0: 1, 1: 2, 2: 1}, attempts)
		require.Equal(t, 3, steady.Count(id))
	})

	t.Run("panicking handler is isolated", func(t *testing.T) {
		s := newSuite(t, newStore)
		h := s.sums(t)
		id := "sum-" + gonanoid.Must(8)
		s.add(t, h, id, 1, 1)

		boom := es.NewHandler("boom", map[string]es.EventFunc{
			domain.NumbersAdded: func(context.Context, string, es.Envelope) error { panic("boom") },
		})
		steady := domain.NewEventCounter("steady")
		s.drain(t, "main", []es.EventHandler{boom, steady})
		require.Equal(t, 1, steady.Count(id))
	})

	t.Run("stream filter advances the cursor", func(t *testing.T) {
		s := newSuite(t, newStore)
		h := s.sums(t)
		id := "sum-" + gonanoid.Must(8)
		var last string
		for i := 0; i < 2; i++ {
			last = s.add(t, h, id, 1, 1).Committed()[0].GID
		}

		calls := 0
		calc := es.NewHandler("calc-only", map[string]es.EventFunc{
			domain.NumbersAdded: func(context.Context, string, es.Envelope) error { calls++; return nil },
		}, es.WithStream("calculator"))
		s.drain(t, "main", []es.EventHandler{calc})
		require.Zero(t, calls)

		if tr, ok := s.store.(es.ThreadReader); ok {
			rec, err := tr.Thread(t.Context(), s.tenant, "main")
			require.NoError(t, err)
			require.Equal(t, last, rec.Cursors["calc-only"])
		}
	})

	t.Run("tenants are isolated", func(t *testing.T) {
		s := newSuite(t, newStore)
		h := s.sums(t)
		s.add(t, h, "sum-"+gonanoid.Must(8), 1, 1)

		other := &suite{store: s.store, tenant: "tenant-" + gonanoid.Must(8)}
		counter := domain.NewEventCounter("counter")
		other.drain(t, "main", []es.EventHandler{counter})
		require.Zero(t, counter.Total())
	})
}

func runLeases(t *testing.T, newStore Factory) {
	t.Run("empty stream yields no lease", func(t *testing.T) {
		s := newSuite(t, newStore)
		rc := s.readerContext("main", time.Minute, domain.NewEventCounter("c"))

		lease, err := s.store.PollStream(t.Context(), rc, 10)
		require.NoError(t, err)
		require.Nil(t, lease)

		ok, err := s.store.CommitCursors(t.Context(), rc, nil)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("one lease per thread", func(t *testing.T) {
		s := newSuite(t, newStore)
		s.add(t, s.sums(t), "sum-"+gonanoid.Must(8), 1, 1)
		rc := s.readerContext("main", time.Minute, domain.NewEventCounter("c"))

		const n = 6
		var (
			wg     sync.WaitGroup
			mu     sync.Mutex
			leases []*es.Lease
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				lease, err := s.store.PollStream(context.Background(), rc, 10)
				if err != nil || lease == nil {
					return
				}
				mu.Lock()
				leases = append(leases, lease)
				mu.Unlock()
			}()
		}
		wg.Wait()
		require.Len(t, leases, 1)

		// still held
		again, err := s.store.PollStream(t.Context(), rc, 10)
		require.NoError(t, err)
		require.Nil(t, again)

		// released without progress, the batch is offered again
		ok, err := s.store.CommitCursors(t.Context(), rc, leases[0])
		require.NoError(t, err)
		require.True(t, ok)

		again, err = s.store.PollStream(t.Context(), rc, 10)
		require.NoError(t, err)
		require.NotNil(t, again)
		require.Equal(t, leases[0].Offset, again.Offset)
		require.NotEqual(t, leases[0].Token, again.Token)
	})

	t.Run("crash before commit redelivers", func(t *testing.T) {
		s := newSuite(t, newStore)
		id := "sum-" + gonanoid.Must(8)
		gid := s.add(t, s.sums(t), id, 1, 1).Committed()[0].GID
		rc := s.readerContext("main", 200*time.Millisecond, domain.NewEventCounter("c"))

		first, err := s.store.PollStream(t.Context(), rc, 10)
		require.NoError(t, err)
		require.NotNil(t, first)
		first.Cursors["c"] = gid
		// the process dies here: no CommitCursors for first

		var second *es.Lease
		require.Eventually(t, func() bool {
			l, err := s.store.PollStream(context.Background(), rc, 10)
			if err != nil || l == nil {
				return false
			}
			second = l
			return true
		}, 5*time.Second, 50*time.Millisecond)
		require.Equal(t, first.Offset, second.Offset)
		require.Len(t, second.Envelopes, 1)

		// the expired lease can no longer commit
		_, err = s.store.CommitCursors(t.Context(), rc, first)
		require.ErrorIs(t, err, es.ErrConcurrency)

		second.Cursors["c"] = gid
		ok, err := s.store.CommitCursors(t.Context(), rc, second)
		require.NoError(t, err)
		require.True(t, ok)

		lease, err := s.store.PollStream(t.Context(), rc, 10)
		require.NoError(t, err)
		require.Nil(t, lease)
	})

	t.Run("foreign token cannot commit", func(t *testing.T) {
		s := newSuite(t, newStore)
		s.add(t, s.sums(t), "sum-"+gonanoid.Must(8), 1, 1)
		rc := s.readerContext("main", time.Minute, domain.NewEventCounter("c"))

		lease, err := s.store.PollStream(t.Context(), rc, 10)
		require.NoError(t, err)
		require.NotNil(t, lease)

		forged := *lease
		forged.Token = es.NewLeaseToken()
		_, err = s.store.CommitCursors(t.Context(), rc, &forged)
		require.ErrorIs(t, err, es.ErrConcurrency)

		ok, err := s.store.CommitCursors(t.Context(), rc, lease)
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("batch holds limit plus one", func(t *testing.T) {
		s := newSuite(t, newStore)
		h := s.sums(t)
		id := "sum-" + gonanoid.Must(8)
		for i := 0; i < 5; i++ {
			s.add(t, h, id, 1, 1)
		}
		rc := s.readerContext("main", time.Minute, domain.NewEventCounter("c"))

		lease, err := s.store.PollStream(t.Context(), rc, 2)
		require.NoError(t, err)
		require.NotNil(t, lease)
		require.Len(t, lease.Envelopes, 3)
		require.Equal(t, "", lease.Offset)
		_, err = s.store.CommitCursors(t.Context(), rc, lease)
		require.NoError(t, err)
	})
}
