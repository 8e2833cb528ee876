package chunkgraph

import (
	"github.com/hupe1980/chunkgraph/blobstore"
	"github.com/hupe1980/chunkgraph/graphstore"
	"github.com/hupe1980/chunkgraph/ingest"
)

type options struct {
	blobs            blobstore.BlobStore
	graph            graphstore.Store
	metricsCollector MetricsCollector
	logger           *Logger
	buildOptions     []ingest.Option
}

// Option configures ChunkedGraph constructor behavior.
type Option func(*options)

// WithBlobStore configures the blob store holding the raw volume data,
// the edge/component cache and the sharded meshes.
//
// Defaults to an in-memory store, which is only useful for tests.
func WithBlobStore(s blobstore.BlobStore) Option {
	return func(o *options) {
		if s != nil {
			o.blobs = s
		}
	}
}

// WithGraphStore configures the persisted graph backend.
//
// Defaults to an in-memory store; use graphstore.NewDynamoStore for a
// durable deployment.
func WithGraphStore(s graphstore.Store) Option {
	return func(o *options) {
		if s != nil {
			o.graph = s
		}
	}
}

// WithMetricsCollector configures metrics collection.
//
// If nil is passed, NoopMetricsCollector is used.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging.
//
// If nil is passed, logging is disabled.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithBuildOptions configures the ingestion manager (worker bound, raw
// read rate limit, retry cap, epoch override).
func WithBuildOptions(optFns ...ingest.Option) Option {
	return func(o *options) {
		o.buildOptions = append(o.buildOptions, optFns...)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		blobs:            blobstore.NewMemoryStore(),
		graph:            graphstore.NewMemoryStore(),
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		fn(&o)
	}
	return o
}
