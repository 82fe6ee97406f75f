package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ajaxzhan/boxdrive/internal/drive"
	"github.com/ajaxzhan/boxdrive/internal/logging"
	"github.com/ajaxzhan/boxdrive/pkg/types"
)

// Catalog keeps drive configurations in a Store and rebuilds drives from them.
type Catalog struct {
	store Store
	opts  []drive.Option
}

// NewCatalog creates a catalog over store. opts are applied to every drive it rebuilds.
func NewCatalog(store Store, opts ...drive.Option) (*Catalog, error) {
	if store == nil {
		return nil, errors.New("store cannot be nil")
	}
	return &Catalog{store: store, opts: opts}, nil
}

// Store returns the underlying record store.
func (c *Catalog) Store() Store {
	return c.store
}

// Add records a new drive.
func (c *Catalog) Add(ctx context.Context, d *drive.Drive) (*types.DriveRecord, error) {
	if d == nil {
		return nil, errors.New("drive cannot be nil")
	}
	rec := d.Record()
	now := time.Now()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if err := c.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to store drive record: %w", err)
	}
	return rec, nil
}

// Save records the current configuration of d, creating the record if needed.
func (c *Catalog) Save(ctx context.Context, d *drive.Drive) error {
	existing, err := c.store.Get(ctx, d.ID())
	if errors.Is(err, types.ErrNotFound) {
		_, err = c.Add(ctx, d)
		return err
	}
	if err != nil {
		return err
	}
	rec := d.Record()
	rec.CreatedAt = existing.CreatedAt
	return c.store.Update(ctx, rec)
}

// Remove deletes the record with the given ID.
func (c *Catalog) Remove(ctx context.Context, id string) error {
	return c.store.Delete(ctx, id)
}

// Drive rebuilds the drive recorded under id.
func (c *Catalog) Drive(ctx context.Context, id string) (*drive.Drive, error) {
	rec, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return drive.FromRecord(rec, c.opts...)
}

// Drives rebuilds every recorded drive, in letter order. Records that can no
// longer be turned into drives, such as ones whose image type is unsupported
// on this host, are skipped and logged.
func (c *Catalog) Drives(ctx context.Context) ([]*drive.Drive, error) {
	recs, err := c.store.List(ctx, "", 0, 0)
	if err != nil {
		return nil, err
	}
	drives := make([]*drive.Drive, 0, len(recs))
	for _, rec := range recs {
		d, err := drive.FromRecord(rec, c.opts...)
		if err != nil {
			logging.Warn("Skipping drive record",
				logging.String("id", rec.ID),
				logging.String("source", rec.SourceURL),
				logging.Err(err))
			continue
		}
		drives = append(drives, d)
	}
	return drives, nil
}

// MountAll rebuilds every recorded drive and mounts it into set. Drives that
// cannot be mounted stay queued.
func (c *Catalog) MountAll(ctx context.Context, set *drive.Set, opts types.MountOptions) ([]*drive.Drive, error) {
	drives, err := c.Drives(ctx)
	if err != nil {
		return nil, err
	}
	var mounted []*drive.Drive
	for _, d := range drives {
		if err := set.Enqueue(d); err != nil {
			return mounted, err
		}
		if _, err := set.Mount(d, opts); err != nil {
			logging.Warn("Drive left unmounted", logging.String("drive", d.String()), logging.Err(err))
			continue
		}
		mounted = append(mounted, d)
	}
	return mounted, nil
}
