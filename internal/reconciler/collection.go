package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/daap14/bookcars/internal/schema"
)

// ProvisionResult counts what a provisioning run created.
type ProvisionResult struct {
	CollectionsCreated int
	IndexesCreated     int
	// Mismatched lists "collection.index" for declared indexes that exist
	// with other keys or options. They are reported, never rebuilt.
	Mismatched []string
}

func (r *ProvisionResult) add(o ProvisionResult) {
	r.CollectionsCreated += o.CollectionsCreated
	r.IndexesCreated += o.IndexesCreated
	r.Mismatched = append(r.Mismatched, o.Mismatched...)
}

// Provisioner creates missing collections and their declared indexes.
type Provisioner struct {
	store SchemaStore
}

// NewProvisioner creates a new Provisioner.
func NewProvisioner(store SchemaStore) *Provisioner {
	return &Provisioner{store: store}
}

// EnsureCollection creates the collection when it does not exist and, when
// createIndexes is set, every declared index missing by name.
func (p *Provisioner) EnsureCollection(ctx context.Context, d schema.CollectionDescriptor, createIndexes bool) (ProvisionResult, error) {
	var res ProvisionResult

	names, err := p.store.CollectionNames(ctx)
	if err != nil {
		return res, fmt.Errorf("checking collection %s: %w", d.Name, err)
	}

	if !slices.Contains(names, d.Name) {
		if err := p.store.CreateCollection(ctx, d.Name, d.Validator()); err != nil {
			return res, err
		}
		res.CollectionsCreated++
		slog.Info("collection created", "collection", d.Name)
	}

	if !createIndexes || len(d.Indexes) == 0 {
		return res, nil
	}

	existing, err := p.store.ListIndexes(ctx, d.Name)
	if err != nil {
		return res, err
	}

	var missing []schema.IndexSpec
	for _, spec := range d.Indexes {
		info, ok := findIndex(existing, spec.Name)
		if !ok {
			missing = append(missing, spec)
			continue
		}
		if !spec.Matches(info) {
			slog.Warn("index exists with other options, leaving it in place",
				"collection", d.Name,
				"index", spec.Name,
				"unique", info.Unique,
				"wantUnique", spec.Unique,
				"sparse", info.Sparse,
				"wantSparse", spec.Sparse,
			)
			res.Mismatched = append(res.Mismatched, d.Name+"."+spec.Name)
		}
	}
	if len(missing) == 0 {
		return res, nil
	}

	if err := p.store.CreateIndexes(ctx, d.Name, missing); err != nil {
		return res, err
	}
	res.IndexesCreated += len(missing)
	slog.Info("indexes created", "collection", d.Name, "count", len(missing))

	return res, nil
}

// EnsureAll provisions every descriptor concurrently. A failing collection
// does not stop the others; all failures are returned combined.
func (p *Provisioner) EnsureAll(ctx context.Context, descriptors []schema.CollectionDescriptor, createIndexes bool) (ProvisionResult, error) {
	var (
		mu    sync.Mutex
		total ProvisionResult
		errs  error
	)

	g := new(errgroup.Group)
	g.SetLimit(defaultConcurrency)

	for _, d := range descriptors {
		d := d
		g.Go(func() error {
			res, err := p.EnsureCollection(ctx, d, createIndexes)

			mu.Lock()
			defer mu.Unlock()
			total.add(res)
			if err != nil {
				slog.Error("provisioning collection failed", "collection", d.Name, "error", err)
				errs = multierr.Append(errs, err)
			}
			return nil
		})
	}

	_ = g.Wait()
	return total, errs
}
