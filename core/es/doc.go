// Package es is an event sourcing and CQRS engine.
//
// # Write side
//
// An [Aggregate] is a versioned state machine built from events. Each
// aggregate type declares explicit tables: [Commands] maps command names to
// [CommandFunc]s, [Events] maps event names to [Reducer]s. An
// [AggregateType] pairs a name with a factory:
//
//	type Sum struct {
//		es.BaseAggregate
//		Sum int `json:"sum"`
//	}
//
//	var SumType = es.NewAggregateType("sum", func() es.Aggregate { return &Sum{} })
//
// The [CommandHandler] validates a command, rehydrates the target aggregate
// (from its LRU snapshot cache when the caller pins a version, from the
// store otherwise), runs the command function and commits the produced
// events with optimistic concurrency:
//
//	h, _ := es.NewCommandHandler(store, []*es.AggregateType{SumType})
//	cc, err := h.Command(ctx, actor, "AddNumbers", payload,
//		es.WithAggregateID(id), es.WithExpectedVersion(3))
//	if errors.Is(err, es.ErrConcurrency) {
//		// reload and decide
//	}
//
// # Read side
//
// The [StreamReader] delivers a tenant's stream to named [EventHandler]s
// grouped into threads. Each handler has its own cursor; a thread is
// advanced under a time-bounded [Lease], so one poll per thread makes
// progress at a time across processes. Delivery is at-least-once. A
// [Runner] keeps a set of subscriptions caught up.
//
// # Storage
//
// Backends implement the four-operation [EventStore]. [MemoryStore] ships
// here; SQLite and NATS JetStream live under adapters/. Shared helpers
// ([Rehydrate], [PrepareCommit], [KVThreads], [KVSnapshots]) keep backends
// small, and the estests package holds the conformance suite they all run.
package es
