package main

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/codewandler/cqrs-go/core/es"
)

const (
	RegisterUser = "RegisterUser"
	ChangeEmail  = "ChangeEmail"

	UserRegistered = "UserRegistered"
	EmailChanged   = "EmailChanged"
)

type (
	Registration struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	EmailChange struct {
		Email string `json:"email"`
	}
)

type User struct {
	es.BaseAggregate

	Name  string `json:"name"`
	Email string `json:"email"`
}

var (
	UserType            = es.NewAggregateType("user", func() es.Aggregate { return &User{} })
	UserNoSnapshotsType = es.NewAggregateType("user", func() es.Aggregate { return &User{} }, es.WithoutSnapshots())
)

func validEmail(email string) error {
	if !strings.Contains(email, "@") {
		return es.InvalidArgument("email")
	}
	return nil
}

func (u *User) Commands() es.Commands {
	return es.Commands{
		RegisterUser: es.Handle(func(_ context.Context, cc *es.CommandContext, p Registration) error {
			if u.Name != "" {
				return es.Precondition("user %s already registered", u.ID())
			}
			if p.Name == "" {
				return es.MissingArgument("name")
			}
			if err := validEmail(p.Email); err != nil {
				return err
			}
			return cc.Push(UserRegistered, nil)
		}),
		ChangeEmail: es.Handle(func(_ context.Context, cc *es.CommandContext, p EmailChange) error {
			if u.Name == "" {
				return es.Precondition("user %s is not registered", u.ID())
			}
			if err := validEmail(p.Email); err != nil {
				return err
			}
			if p.Email == u.Email {
				return nil
			}
			return cc.Push(EmailChanged, nil)
		}),
	}
}

func (u *User) Events() es.Events {
	return es.Events{
		UserRegistered: es.Reduce(func(p Registration) error {
			u.Name, u.Email = p.Name, p.Email
			return nil
		}),
		EmailChanged: es.Reduce(func(p EmailChange) error {
			u.Email = p.Email
			return nil
		}),
	}
}

// EmailChanges is the projection the runner keeps up to date.
type EmailChanges struct {
	total atomic.Int64
}

func NewEmailChanges() *EmailChanges { return &EmailChanges{} }

func (p *EmailChanges) Name() string   { return "email_changes" }
func (p *EmailChanges) Stream() string { return "user" }
func (p *EmailChanges) Events() map[string]es.EventFunc {
	count := func(context.Context, string, es.Envelope) error {
		p.total.Add(1)
		return nil
	}
	return map[string]es.EventFunc{
		UserRegistered: count,
		EmailChanged:   count,
	}
}

func (p *EmailChanges) Total() int64 { return p.total.Load() }

var _ es.EventHandler = (*EmailChanges)(nil)
