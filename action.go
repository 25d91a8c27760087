package flow

import (
	"fmt"
	"reflect"
)

// Kind is the discriminant of an Action. Each action variant reports a
// single, stable kind; stores match on it.
type Kind string

// Action is an immutable value describing something that happened.
// Concrete actions are plain structs passed by value.
type Action interface {
	Kind() Kind
}

// Validator is implemented by actions that carry required payload. The
// dispatcher calls Validate before building a message; a failure is
// reported as ErrInvalidAction.
type Validator interface {
	Validate() error
}

// Handle adapts a typed case handler for use in a matching chain.
//
//	msg.First(KindClicked, flow.Handle(func(a Clicked) error {
//	    u.State += a.Delta
//	    return nil
//	}))
//
// If the action is not of type A the returned function fails with
// ErrInvalidAction. That only happens when two variants share a kind.
func Handle[A Action](fn func(A) error) func(Action) error {
	return func(action Action) error {
		typed, ok := action.(A)
		if !ok {
			var want A
			return fmt.Errorf("%w: kind %q is %T, want %T", ErrInvalidAction, action.Kind(), action, want)
		}
		return fn(typed)
	}
}

// Ignore is a case handler that accepts an action and does nothing. Use it
// for kinds a store recognizes without changing state.
func Ignore(Action) error {
	return nil
}

// checkAction rejects absent actions, including typed nil pointers, and
// runs variant validation when the action provides it.
func checkAction(action Action) error {
	if isNil(action) {
		return ErrInvalidAction
	}
	if v, ok := action.(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidAction, action.Kind(), err)
		}
	}
	return nil
}

func isNil(action Action) bool {
	if action == nil {
		return true
	}
	v := reflect.ValueOf(action)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return v.IsNil()
	default:
		return false
	}
}
