package domain

import (
	"context"
	"strconv"

	"github.com/codewandler/cqrs-go/core/es"
)

const (
	PressDigit    = "PressDigit"
	PressDot      = "PressDot"
	PressOperator = "PressOperator"
	PressEquals   = "PressEquals"

	DigitPressed    = "DigitPressed"
	DotPressed      = "DotPressed"
	OperatorPressed = "OperatorPressed"
	EqualsPressed   = "EqualsPressed"
)

type (
	Digit struct {
		Digit string `json:"digit"`
	}
	Operator struct {
		Operator string `json:"operator"`
	}
)

var operators = map[string]func(l, r float64) float64{
	"+": func(l, r float64) float64 { return l + r },
	"-": func(l, r float64) float64 { return l - r },
	"*": func(l, r float64) float64 { return l * r },
	"/": func(l, r float64) float64 { return l / r },
}

// Calculator evaluates key presses left to right without precedence.
type Calculator struct {
	es.BaseAggregate

	Left     string  `json:"left"`
	Right    string  `json:"right,omitempty"`
	Operator string  `json:"operator,omitempty"`
	Result   float64 `json:"result"`
}

var CalculatorType = es.NewAggregateType("calculator", func() es.Aggregate {
	return &Calculator{Left: "0"}
})

func (c *Calculator) Commands() es.Commands {
	return es.Commands{
		PressDigit: es.Handle(func(_ context.Context, cc *es.CommandContext, p Digit) error {
			if len(p.Digit) != 1 || p.Digit < "0" || p.Digit > "9" {
				return es.InvalidArgument("digit")
			}
			return cc.Push(DigitPressed, nil)
		}),
		PressDot: func(_ context.Context, cc *es.CommandContext) error {
			return cc.Push(DotPressed, nil)
		},
		PressOperator: es.Handle(func(_ context.Context, cc *es.CommandContext, p Operator) error {
			if _, ok := operators[p.Operator]; !ok {
				return es.InvalidArgument("operator")
			}
			return cc.Push(OperatorPressed, nil)
		}),
		PressEquals: func(_ context.Context, cc *es.CommandContext) error {
			return cc.Push(EqualsPressed, nil)
		},
	}
}

func (c *Calculator) Events() es.Events {
	return es.Events{
		DigitPressed: es.Reduce(func(p Digit) error {
			c.append(p.Digit)
			return nil
		}),
		DotPressed: func(es.Event) error {
			c.append(".")
			return nil
		},
		OperatorPressed: es.Reduce(func(p Operator) error {
			if c.Operator != "" {
				if err := c.compute(); err != nil {
					return err
				}
			}
			c.Operator = p.Operator
			c.Right = ""
			return nil
		}),
		EqualsPressed: func(es.Event) error { return c.compute() },
	}
}

func (c *Calculator) append(s string) {
	if c.Operator != "" {
		c.Right += s
		return
	}
	c.Left += s
}

func (c *Calculator) compute() error {
	switch {
	case c.Left == "":
		return es.Precondition("missing left side")
	case c.Right == "":
		return es.Precondition("missing right side")
	case c.Operator == "":
		return es.Precondition("missing operator")
	}
	l, err := strconv.ParseFloat(c.Left, 64)
	if err != nil {
		return es.InvalidArgument("left")
	}
	r, err := strconv.ParseFloat(c.Right, 64)
	if err != nil {
		return es.InvalidArgument("right")
	}
	c.Result = operators[c.Operator](l, r)
	c.Left = strconv.FormatFloat(c.Result, 'f', -1, 64)
	return nil
}
