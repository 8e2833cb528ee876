// Package chunkgraph provides a spatially partitioned segmentation graph
// for large 3D volumes.
//
// Chunkgraph ingests a watershed oversegmentation plus agglomeration
// affinities into a chunked hierarchy: layer 0 holds per-chunk connected
// components over the watershed labels, and each parent layer stitches the
// components of a fan-out neighborhood of child chunks along their shared
// boundaries. Segment hierarchy reads and mesh manifest generation operate
// on top of that hierarchy.
//
// # Quick Start
//
// In-memory stores, local raw data:
//
//	ctx := context.Background()
//	cg, _ := chunkgraph.New(meta)
//	result, _ := cg.Build(ctx)
//
//	root, _ := cg.GetRoot(ctx, segID)
//	labels, _ := cg.GetSubgraph(ctx, root)
//
// Cloud mode:
//
//	blobs, _ := s3.New(ctx, "my-bucket", s3.WithPrefix("graph/"))
//	graph := graphstore.NewDynamoStore(ddb, "chunkgraph-nodes")
//	cg, _ := chunkgraph.New(meta,
//	    chunkgraph.WithBlobStore(blobs),
//	    chunkgraph.WithGraphStore(graph),
//	)
//
// # Manifests
//
// Manifest lists the mesh fragments of a segment in neuroglancer locator
// form, either per-leaf legacy locators or sharded fragment references:
//
//	frags, _ := cg.Manifest(ctx, segID, manifest.Options{
//	    Format: manifest.FormatSharded,
//	    Verify: true,
//	})
//
// # Edits
//
// Merge joins two agglomerations by writing fresh dynamic segments above
// their first common chunk. Previous hierarchy nodes stay readable, so
// concurrent manifest and hierarchy reads are unaffected:
//
//	root, _ := cg.Merge(ctx, segA, segB)
//
// Split severs the stored edges between two leaf segments and rebuilds
// the agglomeration from the remaining edges, yielding one dynamic root
// per resulting component:
//
//	roots, _ := cg.Split(ctx, segA, segB)
//
// # Key Features
//
//   - Chunked, layered segmentation hierarchy with deterministic rebuilds
//   - Parallel ingest with per-chunk caching keyed by data epoch
//   - Legacy and sharded neuroglancer mesh manifests
//   - Cloud-native storage (S3/MinIO blobs, DynamoDB graph nodes)
//   - Dynamic segment IDs for online merge and split edits
package chunkgraph
