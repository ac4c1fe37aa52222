package tree

import (
	"io"
	"log/slog"

	"github.com/matijazezelj/arbor/internal/lock"
)

// Default materialized path format.
const (
	DefaultRootSegment  = "001"
	DefaultSeparator    = "."
	DefaultSegmentWidth = 3
)

type options struct {
	logger        *slog.Logger
	locker        lock.Locker
	cascadeLevels bool
	rootSegment   string
	separator     string
	segmentWidth  int
}

// Option configures an engine. Options that do not apply to an engine are ignored.
type Option func(*options)

// WithLogger sets the logger used for mutation tracing.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithLocker replaces the in-process mutex that serializes mutations.
func WithLocker(l lock.Locker) Option {
	return func(o *options) {
		if l != nil {
			o.locker = l
		}
	}
}

// WithLevelCascade makes AdjacencyEngine rewrite descendant levels when a
// node is reparented. Off by default.
func WithLevelCascade(on bool) Option {
	return func(o *options) { o.cascadeLevels = on }
}

// WithPathFormat configures MaterializedEngine paths. Zero values keep the defaults.
func WithPathFormat(root, separator string, width int) Option {
	return func(o *options) {
		if root != "" {
			o.rootSegment = root
		}
		if separator != "" {
			o.separator = separator
		}
		if width > 0 {
			o.segmentWidth = width
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		locker:       lock.NewMutex(),
		rootSegment:  DefaultRootSegment,
		separator:    DefaultSeparator,
		segmentWidth: DefaultSegmentWidth,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
