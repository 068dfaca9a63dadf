package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/bft-labs/statesync/pkg/deferred"
)

// Record is the persisted envelope. Version is nil when the stored JSON has
// no numeric "version" field.
type Record struct {
	State   json.RawMessage `json:"state"`
	Version *int            `json:"version,omitempty"`

	// Fractional is set when the stored version is a number with a fractional
	// part. Version then holds its integral part; the record matches no
	// configured version.
	Fractional bool `json:"-"`
}

// NewRecord builds a Record carrying version.
func NewRecord(state json.RawMessage, version int) Record {
	v := version
	return Record{State: state, Version: &v}
}

// JSON stores Records as JSON strings in a Backend.
type JSON struct {
	backend   Backend
	async     bool
	marshal   func(any) ([]byte, error)
	unmarshal func([]byte, any) error
	useNumber bool
	reviver   func(json.RawMessage) (json.RawMessage, error)
	replacer  func(json.RawMessage) (json.RawMessage, error)
}

// JSONOption configures a JSON adapter.
type JSONOption func(*JSON)

// WithReviver rewrites the raw state of every record read from the backend,
// before it reaches migration or decoding.
func WithReviver(fn func(json.RawMessage) (json.RawMessage, error)) JSONOption {
	return func(j *JSON) {
		j.reviver = fn
	}
}

// WithReplacer rewrites the raw state of every record before it is written.
func WithReplacer(fn func(json.RawMessage) (json.RawMessage, error)) JSONOption {
	return func(j *JSON) {
		j.replacer = fn
	}
}

// WithUseNumber decodes numbers into json.Number when decoding into interface values.
func WithUseNumber() JSONOption {
	return func(j *JSON) {
		j.useNumber = true
	}
}

// WithCodec replaces encoding/json with another marshal/unmarshal pair.
func WithCodec(marshal func(any) ([]byte, error), unmarshal func([]byte, any) error) JSONOption {
	return func(j *JSON) {
		if marshal != nil {
			j.marshal = marshal
		}
		if unmarshal != nil {
			j.unmarshal = unmarshal
		}
	}
}

// NewJSON invokes factory once and wraps the backend it returns. When the
// factory fails (error, nil backend or panic) NewJSON returns nil: callers treat
// a nil adapter as "no storage available".
func NewJSON(factory Factory, opts ...JSONOption) *JSON {
	if factory == nil {
		return nil
	}
	backend, err := callFactory(factory)
	if err != nil || backend == nil {
		return nil
	}

	j := &JSON{
		backend: backend,
		async:   IsAsync(backend),
		marshal: json.Marshal,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(j)
		}
	}
	return j
}

func callFactory(factory Factory) (b Backend, err error) {
	defer func() {
		if r := recover(); r != nil {
			b, err = nil, fmt.Errorf("storage: factory panicked: %v", r)
		}
	}()
	return factory()
}

// Backend returns the wrapped raw backend.
func (j *JSON) Backend() Backend {
	return j.backend
}

// Async reports whether calls are dispatched on goroutines.
func (j *JSON) Async() bool {
	return j.async
}

type rawItem struct {
	value string
	ok    bool
}

// GetItem reads and decodes the record stored under name. The result is nil
// when nothing is stored. Malformed JSON fails the deferred with a *DecodeError.
func (j *JSON) GetItem(ctx context.Context, name string) *deferred.Deferred[*Record] {
	read := dispatch(j.async, func() (rawItem, error) {
		value, ok, err := j.backend.GetItem(ctx, name)
		return rawItem{value: value, ok: ok}, err
	})
	return deferred.Then(read, func(item rawItem) (*Record, error) {
		if !item.ok {
			return nil, nil
		}
		return j.decodeRecord(name, item.value)
	})
}

// SetItem encodes record and stores it under name. Encoding happens before
// the backend call is dispatched.
func (j *JSON) SetItem(ctx context.Context, name string, record Record) *deferred.Deferred[struct{}] {
	value, err := j.Encode(record)
	if err != nil {
		return deferred.Reject[struct{}](fmt.Errorf("storage: encode %q: %w", name, err))
	}
	return j.SetEncoded(ctx, name, value)
}

// Encode renders record as the string SetItem would store.
func (j *JSON) Encode(record Record) (string, error) {
	if j.replacer != nil {
		state, err := j.replacer(record.State)
		if err != nil {
			return "", fmt.Errorf("replacer: %w", err)
		}
		record.State = state
	}
	payload, err := j.marshal(record)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// SetEncoded stores a value produced by Encode.
func (j *JSON) SetEncoded(ctx context.Context, name, value string) *deferred.Deferred[struct{}] {
	return dispatch(j.async, func() (struct{}, error) {
		return struct{}{}, j.backend.SetItem(ctx, name, value)
	})
}

// RemoveItem forwards to the backend.
func (j *JSON) RemoveItem(ctx context.Context, name string) *deferred.Deferred[struct{}] {
	return dispatch(j.async, func() (struct{}, error) {
		return struct{}{}, j.backend.RemoveItem(ctx, name)
	})
}

// EncodeState marshals a state value with the adapter's codec.
func (j *JSON) EncodeState(v any) (json.RawMessage, error) {
	b, err := j.marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

// DecodeState unmarshals raw into v with the adapter's codec.
func (j *JSON) DecodeState(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	if j.unmarshal != nil {
		return j.unmarshal(raw, v)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	if j.useNumber {
		dec.UseNumber()
	}
	return dec.Decode(v)
}

func (j *JSON) decodeRecord(name, value string) (*Record, error) {
	trimmed := bytes.TrimSpace([]byte(value))
	if bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var envelope struct {
		State   json.RawMessage `json:"state"`
		Version json.RawMessage `json:"version"`
	}
	var err error
	if j.unmarshal != nil {
		err = j.unmarshal(trimmed, &envelope)
	} else {
		err = json.Unmarshal(trimmed, &envelope)
	}
	if err != nil {
		return nil, &DecodeError{Name: name, Err: err}
	}

	record := &Record{State: envelope.State}
	// Any JSON number counts as a version; anything else is treated as a
	// record without version.
	var number float64
	if len(envelope.Version) > 0 && json.Unmarshal(envelope.Version, &number) == nil && math.Abs(number) <= maxExactInt {
		whole := math.Trunc(number)
		version := int(whole)
		record.Version = &version
		record.Fractional = whole != number
	}

	if j.reviver != nil {
		state, err := j.reviver(record.State)
		if err != nil {
			return nil, &DecodeError{Name: name, Err: err}
		}
		record.State = state
	}
	return record, nil
}

// maxExactInt is the largest integer a float64 holds exactly.
const maxExactInt = 1 << 53

func dispatch[T any](async bool, fn func() (T, error)) *deferred.Deferred[T] {
	if async {
		return deferred.Go(fn)
	}
	return deferred.Call(fn)
}
