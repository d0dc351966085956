// Package domain holds small aggregates and handlers the store conformance
// suite runs against.
package domain

import (
	"context"
	"sync"

	"github.com/codewandler/cqrs-go/core/es"
)

const (
	AddNumbers      = "AddNumbers"
	SubtractNumbers = "SubtractNumbers"

	NumbersAdded      = "NumbersAdded"
	NumbersSubtracted = "NumbersSubtracted"
)

// Numbers is the payload of the sum commands and events.
type Numbers struct {
	Number1 *int `json:"number1"`
	Number2 *int `json:"number2"`
}

func NewNumbers(a, b int) Numbers { return Numbers{Number1: &a, Number2: &b} }

func (n Numbers) total() int { return *n.Number1 + *n.Number2 }

func (n Numbers) validate() error {
	if n.Number1 == nil {
		return es.InvalidArgument("number1")
	}
	if n.Number2 == nil {
		return es.InvalidArgument("number2")
	}
	return nil
}

// Sum keeps a running total of added and subtracted number pairs.
type Sum struct {
	es.BaseAggregate

	Sum int `json:"sum"`
}

var (
	SumType = es.NewAggregateType("sum", func() es.Aggregate { return &Sum{} })
	// SumNoSnapshotsType is Sum without snapshots, always replayed in full.
	SumNoSnapshotsType = es.NewAggregateType(
		"sum_nosnap",
		func() es.Aggregate { return &Sum{} },
		es.WithoutSnapshots(),
	)
)

func (s *Sum) Commands() es.Commands {
	push := func(event string) es.CommandFunc {
		return es.Handle(func(_ context.Context, cc *es.CommandContext, p Numbers) error {
			if err := p.validate(); err != nil {
				return err
			}
			return cc.Push(event, nil)
		})
	}
	return es.Commands{
		AddNumbers:      push(NumbersAdded),
		SubtractNumbers: push(NumbersSubtracted),
	}
}

func (s *Sum) Events() es.Events {
	return es.Events{
		NumbersAdded: es.Reduce(func(p Numbers) error {
			if err := p.validate(); err != nil {
				return err
			}
			s.Sum += p.total()
			return nil
		}),
		NumbersSubtracted: es.Reduce(func(p Numbers) error {
			if err := p.validate(); err != nil {
				return err
			}
			s.Sum -= p.total()
			return nil
		}),
	}
}

// EventCounter counts NumbersAdded deliveries per aggregate.
type EventCounter struct {
	name string

	mu     sync.Mutex
	counts map[string]int
	total  int
}

func NewEventCounter(name string) *EventCounter {
	return &EventCounter{name: name, counts: map[string]int{}}
}

func (c *EventCounter) Name() string   { return c.name }
func (c *EventCounter) Stream() string { return "" }
func (c *EventCounter) Events() map[string]es.EventFunc {
	return map[string]es.EventFunc{
		NumbersAdded: func(_ context.Context, _ string, env es.Envelope) error {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.counts[env.AggregateID]++
			c.total++
			return nil
		},
	}
}

// Count returns the deliveries seen for one aggregate.
func (c *EventCounter) Count(aggregateID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[aggregateID]
}

// Total returns all deliveries seen.
func (c *EventCounter) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

var _ es.EventHandler = (*EventCounter)(nil)
