// Package sink delivers computed rays and server metadata downstream.
package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/banshee-data/xpol2mom/internal/moments"
	"github.com/banshee-data/xpol2mom/internal/xpol"
)

// Meta is the server metadata in force for an archive.
type Meta struct {
	ArchiveIndex int32           `json:"archive_index"`
	Conf         xpol.Conf       `json:"conf"`
	Status       xpol.Status     `json:"status"`
	ServerInfo   xpol.ServerInfo `json:"server_info"`
}

// Sink receives finished rays. PublishRay must not retain ray or its
// gates after returning; callers reuse them for the next ray.
type Sink interface {
	Name() string
	PublishMeta(ctx context.Context, meta *Meta) error
	PublishRay(ctx context.Context, ray *moments.Ray) error
	Close() error
}

// Error is a failure reported by one sink.
type Error struct {
	Sink string
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("sink %s: %v", e.Sink, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

// Multi publishes to every sink in order. A failing sink does not stop
// the others; the failures are joined into the returned error, each
// wrapped in an *Error naming its sink.
type Multi struct {
	Sinks []Sink
}

// Name implements Sink.
func (m *Multi) Name() string { return "multi" }

func (m *Multi) each(fn func(Sink) error) error {
	var errs []error
	for _, s := range m.Sinks {
		if err := fn(s); err != nil {
			errs = append(errs, &Error{Sink: s.Name(), Err: err})
		}
	}
	return errors.Join(errs...)
}

// PublishMeta implements Sink.
func (m *Multi) PublishMeta(ctx context.Context, meta *Meta) error {
	return m.each(func(s Sink) error { return s.PublishMeta(ctx, meta) })
}

// PublishRay implements Sink.
func (m *Multi) PublishRay(ctx context.Context, ray *moments.Ray) error {
	return m.each(func(s Sink) error { return s.PublishRay(ctx, ray) })
}

// Close closes every sink.
func (m *Multi) Close() error {
	return m.each(func(s Sink) error { return s.Close() })
}
