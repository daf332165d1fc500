package engine

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

type EncoderFactory func(ctx context.Context, logger *zap.Logger, input any) (Encoder, error)
type SinkFactory func(ctx context.Context, logger *zap.Logger, input any) (Sink, error)

// TypedEncoderFactory is a strongly-typed encoder factory.
// T is the concrete options type (e.g. encoders.Options).
type TypedEncoderFactory[T any] func(ctx context.Context, logger *zap.Logger, spec T) (Encoder, error)

// TypedSinkFactory is a strongly-typed sink factory.
// T is the concrete target type (e.g. sinks.Target).
type TypedSinkFactory[T any] func(ctx context.Context, logger *zap.Logger, spec T) (Sink, error)

// NewEncoderFactory wraps a typed encoder factory into a generic EncoderFactory.
// It centralizes the unsafe cast from any → T and provides a clear error if the type mismatches.
func NewEncoderFactory[T any](format string, f TypedEncoderFactory[T]) EncoderFactory {
	return func(ctx context.Context, logger *zap.Logger, input any) (Encoder, error) {
		spec, ok := input.(T)
		if !ok {
			return nil, fmt.Errorf("invalid encoder spec for format %q: %T", format, input)
		}
		return f(ctx, logger, spec)
	}
}

// NewSinkFactory wraps a typed sink factory into a generic SinkFactory.
func NewSinkFactory[T any](scheme string, f TypedSinkFactory[T]) SinkFactory {
	return func(ctx context.Context, logger *zap.Logger, input any) (Sink, error) {
		spec, ok := input.(T)
		if !ok {
			return nil, fmt.Errorf("invalid sink spec for scheme %q: %T", scheme, input)
		}
		return f(ctx, logger, spec)
	}
}

// UnsupportedTypeError is returned when an encoder format or sink scheme is not registered.
type UnsupportedTypeError struct {
	Category  string   // "encoder" or "sink"
	Kind      string   // the requested format or scheme
	Available []string // registered kinds
}

func (e *UnsupportedTypeError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("unsupported %s type %q: no %ss registered", e.Category, e.Kind, e.Category)
	}
	return fmt.Sprintf("unsupported %s type %q (available: %v)", e.Category, e.Kind, e.Available)
}

type Registry struct {
	mu       sync.RWMutex
	encoders map[string]EncoderFactory
	sinks    map[string]SinkFactory
	logger   *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		encoders: make(map[string]EncoderFactory),
		sinks:    make(map[string]SinkFactory),
		logger:   logger,
	}
}

func (r *Registry) RegisterEncoder(format string, factory EncoderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.encoders[format] = factory
}

func (r *Registry) RegisterSink(scheme string, factory SinkFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[scheme] = factory
}

func (r *Registry) CreateEncoder(ctx context.Context, format string, spec any) (Encoder, error) {
	r.mu.RLock()
	factory, ok := r.encoders[format]
	available := r.availableEncoders()
	r.mu.RUnlock()
	if !ok {
		return nil, &UnsupportedTypeError{Category: "encoder", Kind: format, Available: available}
	}
	return factory(ctx, r.logger, spec)
}

func (r *Registry) CreateSink(ctx context.Context, scheme string, spec any) (Sink, error) {
	r.mu.RLock()
	factory, ok := r.sinks[scheme]
	available := r.availableSinks()
	r.mu.RUnlock()
	if !ok {
		return nil, &UnsupportedTypeError{Category: "sink", Kind: scheme, Available: available}
	}
	return factory(ctx, r.logger, spec)
}

func (r *Registry) AvailableEncoders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.availableEncoders()
}

func (r *Registry) availableEncoders() []string {
	encoders := lo.Keys(r.encoders)
	slices.Sort(encoders)
	return encoders
}

func (r *Registry) AvailableSinks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.availableSinks()
}

func (r *Registry) availableSinks() []string {
	sinks := lo.Keys(r.sinks)
	slices.Sort(sinks)
	return sinks
}
