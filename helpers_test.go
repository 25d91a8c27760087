package flow

import (
	"context"
	"errors"
)

const (
	kindClicked     Kind = "test.clicked"
	kindInitialised Kind = "test.initialised"
	kindReset       Kind = "test.reset"
	kindUnknown     Kind = "test.unknown"
)

type clicked struct {
	Increase bool `json:"increase" yaml:"increase"`
}

func (clicked) Kind() Kind { return kindClicked }

type initialised struct {
	Store string `json:"store" yaml:"store"`
}

func (initialised) Kind() Kind { return kindInitialised }

func (a initialised) Validate() error {
	if a.Store == "" {
		return errors.New("store is required")
	}
	return nil
}

type reset struct{}

func (reset) Kind() Kind { return kindReset }

type unknownAction struct{}

func (unknownAction) Kind() Kind { return kindUnknown }

// pointerAction implements Action on its pointer type only.
type pointerAction struct{}

func (*pointerAction) Kind() Kind { return "test.pointer" }

// counterHandler mirrors a typical store: initialised is a no-op case,
// clicked moves the count, reset zeroes it.
func counterHandler(_ context.Context, msg *Message, u *Update[int]) error {
	return msg.
		First(kindInitialised, Ignore).
		Next(kindClicked, Handle(func(a clicked) error {
			if a.Increase {
				u.State++
			} else {
				u.State--
			}
			return nil
		})).
		Next(kindReset, func(Action) error {
			u.State = 0
			return nil
		}).
		OnAnyMatched(u.Changed)
}

// recordingSink returns a sink appending label to calls on every delivery.
func recordingSink(calls *[]string, label string) Sink {
	return func(_ context.Context, _ *Message) error {
		*calls = append(*calls, label)
		return nil
	}
}
