package flow

import (
	"fmt"
	"sort"
	"sync"
)

// Actions travel on the wire as an envelope of kind and payload:
//
//	{"kind": "button.clicked", "payload": {"increase": true}}
//
// The same shape is used for JSON and YAML.
type wireHeader struct {
	Kind Kind `json:"kind" yaml:"kind"`
}

type wireBody[A any] struct {
	Payload A `json:"payload" yaml:"payload"`
}

type wireAction struct {
	Kind    Kind   `json:"kind" yaml:"kind"`
	Payload Action `json:"payload" yaml:"payload"`
}

type decodeFunc func(codec Codec, raw []byte) (Action, error)

// Registry maps action kinds to the Go types they decode into.
type Registry struct {
	mu       sync.RWMutex
	decoders map[Kind]decodeFunc
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[Kind]decodeFunc)}
}

// Register makes kind decodable into A. Registering a kind again replaces
// the previous type.
func Register[A Action](r *Registry, kind Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[kind] = func(codec Codec, raw []byte) (Action, error) {
		var body wireBody[A]
		if err := codec.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		if isNil(body.Payload) {
			return nil, fmt.Errorf("%w: %s: missing payload", ErrInvalidAction, kind)
		}
		if got := body.Payload.Kind(); got != kind {
			return nil, fmt.Errorf("%w: registered as %q, %T reports %q", ErrInvalidAction, kind, body.Payload, got)
		}
		return body.Payload, nil
	}
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]Kind, 0, len(r.decoders))
	for k := range r.decoders {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Decode reads one wire envelope and returns the action it carries.
// It returns ErrUnknownKind for kinds that were never registered.
func (r *Registry) Decode(codec Codec, raw []byte) (Action, error) {
	var header wireHeader
	if err := codec.Unmarshal(raw, &header); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	r.mu.RLock()
	decode, ok := r.decoders[header.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, header.Kind)
	}
	return decode(codec, raw)
}

// Encode writes action as a wire envelope.
func Encode(codec Codec, action Action) ([]byte, error) {
	if isNil(action) {
		return nil, ErrInvalidAction
	}
	data, err := codec.Marshal(wireAction{Kind: action.Kind(), Payload: action})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", action.Kind(), err)
	}
	return data, nil
}
