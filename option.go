package durablemap

import (
	"context"
)

// Option configures a Map at construction time.
type Option interface {
	Apply(*config)
}

type config struct {
	autosync bool
	encoding any
	logf     func(ctx context.Context, format string, args ...any)
}

// WithAutosync controls whether read operations check the backend
// freshness marker before serving from the cache. It defaults to true.
// Write operations reach the backend either way.
func WithAutosync(autosync bool) Option {
	return withAutosync{autosync}
}

type withAutosync struct{ b bool }

func (w withAutosync) Apply(o *config) { o.autosync = w.b }

// WithEncoding replaces the default GobEncoding. The encoding's value
// type must match the Map's value type; New reports
// ErrInvalidConfiguration when it does not.
func WithEncoding[V any](enc Encoding[V]) Option {
	return withEncoding{enc}
}

type withEncoding struct{ enc any }

func (w withEncoding) Apply(o *config) { o.encoding = w.enc }

// WithLogf injects a logger for sync decisions.
func WithLogf(logf func(ctx context.Context, format string, args ...any)) Option {
	return withLogf{logf}
}

type withLogf struct {
	logf func(ctx context.Context, format string, args ...any)
}

func (w withLogf) Apply(o *config) { o.logf = w.logf }
