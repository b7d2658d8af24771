package vacuum

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/parquedb/parquedb/internal/blobstore"
	"github.com/parquedb/parquedb/internal/types"
)

// vacuumMetrics holds OTel metric instruments for the compactor. Instruments
// are registered against the global delegating provider at init time, so
// they forward to the real provider once the host process installs one.
var vacuumMetrics struct {
	leaseWaitMs    metric.Float64Histogram
	leaseSteals    metric.Int64Counter
	publishRetries metric.Int64Counter
}

func init() {
	m := otel.Meter("github.com/parquedb/parquedb/vacuum")
	vacuumMetrics.leaseWaitMs, _ = m.Float64Histogram("parquedb.vacuum.lease_wait_ms",
		metric.WithDescription("Time spent acquiring a namespace compaction lease"),
		metric.WithUnit("ms"),
	)
	vacuumMetrics.leaseSteals, _ = m.Int64Counter("parquedb.vacuum.lease_steals",
		metric.WithDescription("Compaction leases stolen from an expired prior holder"),
		metric.WithUnit("{steal}"),
	)
	vacuumMetrics.publishRetries, _ = m.Int64Counter("parquedb.vacuum.publish_retries",
		metric.WithDescription("Canonical-file publishes retried due to an ETag mismatch"),
		metric.WithUnit("{retry}"),
	)
}

func leasePath(ns string) string { return path.Join("meta", "lease", ns+".json") }

// leaseDoc is the sentinel blob's body (spec.md §9 Open Question (c): "a
// conditional write of a sentinel blob... not a local file lock").
type leaseDoc struct {
	Owner     string    `json:"owner"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// lease is a held namespace lock's release handle.
type lease struct {
	path string
	etag string
}

// acquireLease takes ns's compaction lease, stealing an expired lease held
// by a prior (presumably crashed) compactor (spec §4.11: "takes a namespace
// lock... releases the lock").
func (c *Compactor) acquireLease(ctx context.Context, ns string) (*lease, error) {
	start := time.Now()
	leaseAttrs := metric.WithAttributes(attribute.String("parquedb.ns", ns))

	p := leasePath(ns)
	doc := leaseDoc{Owner: c.ownerID(), ExpiresAt: time.Now().Add(c.opts.LeaseTTL)}
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}

	stat, err := c.blobs.WriteConditional(ctx, p, body, nil, blobstore.WriteOptions{ContentType: "application/json"})
	if err == nil {
		vacuumMetrics.leaseWaitMs.Record(ctx, float64(time.Since(start).Milliseconds()), leaseAttrs)
		return &lease{path: p, etag: stat.ETag}, nil
	}
	if !blobstore.IsAlreadyExists(err) {
		return nil, fmt.Errorf("vacuum: acquire lease %s: %w", p, err)
	}

	// Something is already there; it's only stealable if expired.
	data, stat, err := c.blobs.Read(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("vacuum: read lease %s: %w", p, err)
	}
	var existing leaseDoc
	if err := json.Unmarshal(data, &existing); err != nil {
		return nil, fmt.Errorf("vacuum: decode lease %s: %w", p, err)
	}
	if time.Now().Before(existing.ExpiresAt) {
		return nil, fmt.Errorf("vacuum: lease %s held by %s until %s", ns, existing.Owner, existing.ExpiresAt)
	}

	newStat, err := c.blobs.WriteConditional(ctx, p, body, &stat.ETag, blobstore.WriteOptions{ContentType: "application/json"})
	if err != nil {
		return nil, fmt.Errorf("vacuum: steal expired lease %s: %w", p, err)
	}
	vacuumMetrics.leaseWaitMs.Record(ctx, float64(time.Since(start).Milliseconds()), leaseAttrs)
	vacuumMetrics.leaseSteals.Add(ctx, 1, leaseAttrs)
	return &lease{path: p, etag: newStat.ETag}, nil
}

// releaseLease deletes the sentinel blob. Best-effort: an error here is
// logged, not fatal, since the lease will simply expire on its own.
func (c *Compactor) releaseLease(ctx context.Context, ns string, l *lease) {
	if l == nil {
		return
	}
	if err := c.blobs.Delete(ctx, l.path); err != nil {
		c.log.Warn("release lease failed", "ns", ns, "path", l.path, "err", err)
	}
}

func (c *Compactor) ownerID() string {
	return fmt.Sprintf("vacuum-%d", time.Now().UnixNano())
}

// canonicalMeta is the sidecar tracking the canonical file's fold bound
// (spec §6 names no distinct schema for this, so it stays a small JSON
// sidecar rather than another parquet table).
type canonicalMeta struct {
	Seq uint64 `json:"seq"`
}

// readCanonical loads ns's prior canonical table and fold-bound sidecar. A
// namespace with no canonical file yet returns an empty state map, seq 0,
// and a nil etag (so the first publish is a create-if-absent).
func (c *Compactor) readCanonical(ctx context.Context, ns string) (map[string]*types.Document, uint64, *string, error) {
	dataPath := canonicalDataPath(ns)
	data, stat, err := c.blobs.Read(ctx, dataPath)
	if blobstore.IsNotFound(err) {
		return map[string]*types.Document{}, 0, nil, nil
	}
	if err != nil {
		return nil, 0, nil, fmt.Errorf("vacuum: read canonical %s: %w", dataPath, err)
	}
	states, err := decodeCanonicalTable(data)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("vacuum: decode canonical %s: %w", dataPath, err)
	}

	seq := uint64(0)
	metaBytes, _, err := c.blobs.Read(ctx, canonicalMetaPath(ns))
	if err == nil {
		var m canonicalMeta
		if jsonErr := json.Unmarshal(metaBytes, &m); jsonErr == nil {
			seq = m.Seq
		}
	} else if !blobstore.IsNotFound(err) {
		return nil, 0, nil, fmt.Errorf("vacuum: read canonical meta %s: %w", ns, err)
	}

	etag := stat.ETag
	return states, seq, &etag, nil
}

func (c *Compactor) writeMeta(ctx context.Context, ns string, seq uint64) error {
	body, err := json.Marshal(canonicalMeta{Seq: seq})
	if err != nil {
		return err
	}
	_, err = c.blobs.WriteFileAtomic(ctx, canonicalMetaPath(ns), body, blobstore.WriteOptions{ContentType: "application/json"})
	return err
}
