// Package vacuum implements the compactor (spec §4.11): a background job
// that takes a namespace lease, folds the WAL + pending row-groups onto the
// prior canonical snapshot, publishes a new canonical file conditionally,
// and deletes the now-consumed WAL rows and pending row-groups.
//
// Grounded on the teacher's internal/compact.Compactor: CompactTier1Batch's
// bounded worker-pool fan-out/fan-in (channel of work, a fixed goroutine
// count draining it, a result channel merged back) is generalized here from
// "Compact Tier1 over a batch of issues" to "fold one namespace's WAL onto
// its canonical file", and CompactConfig.DryRun becomes Options.DryRun.
package vacuum

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/parquedb/parquedb/internal/blobstore"
	"github.com/parquedb/parquedb/internal/dbcfg"
	"github.com/parquedb/parquedb/internal/dblog"
	"github.com/parquedb/parquedb/internal/relationship"
	"github.com/parquedb/parquedb/internal/types"
	"github.com/parquedb/parquedb/internal/wal"
)

const defaultConcurrency = 5

// Options controls a Compactor's concurrency, retry, and lease behavior
// (spec §4.11, spec.md §9 Open Question (c): "30s expiry, 5 retries" as
// conservative defaults).
type Options struct {
	Concurrency int
	DryRun      bool
	LeaseTTL    time.Duration
	MaxRetries  int
}

// DefaultOptions matches spec.md §9's suggested conservative defaults.
func DefaultOptions() Options {
	return Options{Concurrency: defaultConcurrency, LeaseTTL: 30 * time.Second, MaxRetries: 5}
}

// OptionsFromConfig derives vacuum Options from a loaded engine
// configuration (SPEC_FULL.md §10 supplemented feature 4's general
// preference for config-driven tunables): cfg.CompactionDryRun,
// cfg.LeaseTTL, and cfg.RetryMaxAttempts map directly onto Options'
// corresponding fields. Concurrency is not config-driven; it defaults via
// New.
func OptionsFromConfig(cfg dbcfg.Config) Options {
	return Options{
		DryRun:     cfg.CompactionDryRun,
		LeaseTTL:   cfg.LeaseTTL,
		MaxRetries: cfg.RetryMaxAttempts,
	}
}

// Result summarizes one namespace's fold (spec.md §10 supplemented feature
// 5: "Compaction dry-run... computes and logs the fold plan").
type Result struct {
	Namespace      string
	EntitiesFolded int
	EdgesFolded    int
	BytesBefore    int
	BytesAfter     int
	UpToSeq        uint64
	DryRun         bool
	Err            error
}

// Compactor folds namespaces' WAL history into their canonical files. The
// zero value is not usable; use New.
type Compactor struct {
	blobs         blobstore.Store
	wal           *wal.Store
	relationships *relationship.Index
	log           *slog.Logger
	opts          Options
}

// New wires a Compactor. relationships may be nil if the caller never
// compacts namespaces with relationship edges.
func New(blobs blobstore.Store, w *wal.Store, relationships *relationship.Index, log *slog.Logger, opts Options) *Compactor {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 30 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	return &Compactor{
		blobs:         blobs,
		wal:           w,
		relationships: relationships,
		log:           dblog.Component(log, "vacuum"),
		opts:          opts,
	}
}

func canonicalDataPath(ns string) string { return path.Join(ns, "data.parquet") }
func canonicalRelsPath(ns string) string { return path.Join(ns, "rels.parquet") }
func canonicalMetaPath(ns string) string { return path.Join(ns, "data.meta.json") }

// CompactNamespace folds ns's current WAL + pending row-groups onto its
// prior canonical file, publishes the result, and deletes the consumed
// inputs (spec §4.11). It is a no-op (returns a zero-valued Result with no
// error) if ns has nothing to fold.
func (c *Compactor) CompactNamespace(ctx context.Context, ns string) (*Result, error) {
	if !c.wal.NeedsVacuum(ns) {
		return &Result{Namespace: ns}, nil
	}

	lease, err := c.acquireLease(ctx, ns)
	if err != nil {
		return nil, fmt.Errorf("vacuum: acquire lease %s: %w", ns, err)
	}
	defer c.releaseLease(ctx, ns, lease)

	priorStates, priorSeq, priorEtag, err := c.readCanonical(ctx, ns)
	if err != nil {
		return nil, fmt.Errorf("vacuum: read canonical %s: %w", ns, err)
	}
	priorBytes, err := encodeCanonicalStates(priorStates)
	if err != nil {
		return nil, fmt.Errorf("vacuum: re-encode prior canonical %s: %w", ns, err)
	}
	bytesBefore := len(priorBytes)

	newStates, upToSeq, err := c.wal.FoldNamespace(ctx, ns, priorStates, priorSeq)
	if err != nil {
		return nil, fmt.Errorf("vacuum: fold %s: %w", ns, err)
	}

	var edges []types.RelationshipEdge
	if c.relationships != nil {
		edges = c.relationships.AllEdges(ns)
	}

	result := &Result{
		Namespace:      ns,
		EntitiesFolded: len(newStates),
		EdgesFolded:    len(edges),
		BytesBefore:    bytesBefore,
		UpToSeq:        upToSeq,
		DryRun:         c.opts.DryRun,
	}

	dataBytes, err := encodeCanonicalStates(newStates)
	if err != nil {
		return nil, fmt.Errorf("vacuum: encode canonical %s: %w", ns, err)
	}
	result.BytesAfter = len(dataBytes)

	if c.opts.DryRun {
		c.log.Info("vacuum dry-run", slog.String("ns", ns), slog.Int("entities", result.EntitiesFolded),
			slog.Int("edges", result.EdgesFolded), slog.Int("bytesBefore", bytesBefore), slog.Int("bytesAfter", result.BytesAfter))
		return result, nil
	}

	relBytes, err := encodeRelationshipEdges(edges)
	if err != nil {
		return nil, fmt.Errorf("vacuum: encode relationships %s: %w", ns, err)
	}

	if err := c.publishWithRetry(ctx, canonicalDataPath(ns), dataBytes, priorEtag); err != nil {
		return nil, fmt.Errorf("vacuum: publish canonical %s: %w", ns, err)
	}
	if c.relationships != nil {
		if _, err := c.blobs.WriteFileAtomic(ctx, canonicalRelsPath(ns), relBytes, blobstore.WriteOptions{ContentType: "application/vnd.apache.parquet"}); err != nil {
			return nil, fmt.Errorf("vacuum: publish relationships %s: %w", ns, err)
		}
	}
	if err := c.writeMeta(ctx, ns, upToSeq); err != nil {
		return nil, fmt.Errorf("vacuum: write meta %s: %w", ns, err)
	}

	// Inputs are only deleted after the new canonical file is durable
	// (spec §4.11: "the inputs are not deleted until the new output is
	// durable").
	if err := c.wal.DeleteWalBatches(ctx, ns, upToSeq); err != nil {
		return nil, fmt.Errorf("vacuum: delete wal batches %s: %w", ns, err)
	}
	if err := c.wal.DeletePendingRowGroups(ctx, ns, upToSeq); err != nil {
		return nil, fmt.Errorf("vacuum: delete pending row-groups %s: %w", ns, err)
	}

	c.log.Info("vacuum compacted", slog.String("ns", ns), slog.Int("entities", result.EntitiesFolded),
		slog.Int("edges", result.EdgesFolded), slog.Uint64("upToSeq", upToSeq))
	return result, nil
}

// publishWithRetry conditionally writes data at path against priorEtag,
// retrying on ETagMismatch with jittered exponential backoff up to
// opts.MaxRetries times after the first attempt (spec §4.11, spec.md §9
// Open Question (c)).
func (c *Compactor) publishWithRetry(ctx context.Context, path string, data []byte, priorEtag *string) error {
	attempts := 0
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.opts.MaxRetries))
	err := backoff.Retry(func() error {
		attempts++
		_, err := c.blobs.WriteConditional(ctx, path, data, priorEtag, blobstore.WriteOptions{ContentType: "application/vnd.apache.parquet"})
		if blobstore.IsETagMismatch(err) {
			return err // retryable
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(bo, ctx))
	if attempts > 1 {
		vacuumMetrics.publishRetries.Add(ctx, int64(attempts-1), metric.WithAttributes(attribute.String("parquedb.path", path)))
	}
	return err
}

// CompactAll folds every namespace in namespaces, bounded by
// opts.Concurrency concurrent folds (spec §4.11's fan-out, grounded on the
// teacher's CompactTier1Batch worker-pool shape).
func (c *Compactor) CompactAll(ctx context.Context, namespaces []string) []*Result {
	if len(namespaces) == 0 {
		return nil
	}

	workCh := make(chan string, len(namespaces))
	resultCh := make(chan *Result, len(namespaces))

	var wg sync.WaitGroup
	for i := 0; i < c.opts.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ns := range workCh {
				res, err := c.CompactNamespace(ctx, ns)
				if err != nil {
					res = &Result{Namespace: ns, Err: err}
				}
				resultCh <- res
			}
		}()
	}

	for _, ns := range namespaces {
		workCh <- ns
	}
	close(workCh)

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	var results []*Result
	for res := range resultCh {
		results = append(results, res)
	}
	return results
}

