// Package counter is the demo domain for flow: a single integer counter
// driven by two buttons.
package counter

import (
	"context"
	"errors"
	"fmt"

	"github.com/zoobzio/flow"
)

// Name is the name of the counter store.
const Name = "counter"

// InitialCount is the value a new counter store starts at.
const InitialCount = 100

// Action kinds understood by the counter store.
const (
	KindStoreInitialised flow.Kind = "store.initialised"
	KindButtonClicked    flow.Kind = "button.clicked"
)

// StoreInitialised is dispatched once the store is built and the view
// observing it is ready.
type StoreInitialised struct {
	Store string `json:"store" yaml:"store"`
}

// NewStoreInitialised builds a StoreInitialised action for the named store.
func NewStoreInitialised(store string) (StoreInitialised, error) {
	a := StoreInitialised{Store: store}
	if err := a.Validate(); err != nil {
		return StoreInitialised{}, fmt.Errorf("%w: %w", flow.ErrInvalidAction, err)
	}
	return a, nil
}

// Kind implements flow.Action.
func (StoreInitialised) Kind() flow.Kind { return KindStoreInitialised }

// Validate implements flow.Validator.
func (a StoreInitialised) Validate() error {
	if a.Store == "" {
		return errors.New("store is required")
	}
	return nil
}

// ButtonClicked is dispatched when one of the counter buttons is pressed.
type ButtonClicked struct {
	Increase bool `json:"increase" yaml:"increase"`
}

// Kind implements flow.Action.
func (ButtonClicked) Kind() flow.Kind { return KindButtonClicked }

// NewStore creates the counter store at InitialCount and registers it with d.
func NewStore(d *flow.Dispatcher, opts ...flow.SinkOption) (*flow.Store[int], error) {
	return flow.NewStore(d, Name, InitialCount, Handle, opts...)
}

// Handle is the counter store's message handler.
func Handle(_ context.Context, msg *flow.Message, u *flow.Update[int]) error {
	return msg.
		First(KindStoreInitialised, flow.Ignore).
		Next(KindButtonClicked, flow.Handle(func(a ButtonClicked) error {
			if a.Increase {
				u.State++
			} else {
				u.State--
			}
			return nil
		})).
		OnAnyMatched(u.Changed)
}

// Registry returns a registry that decodes both counter actions.
func Registry() *flow.Registry {
	r := flow.NewRegistry()
	flow.Register[StoreInitialised](r, KindStoreInitialised)
	flow.Register[ButtonClicked](r, KindButtonClicked)
	return r
}
