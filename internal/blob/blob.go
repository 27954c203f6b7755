// Package blob is the archive facade. Packages outside internal/blob depend
// on blob.Store and never import the infra backends directly.
package blob

import (
	"context"
	"fmt"

	"bloodlink/internal/blob/core"
	fsstore "bloodlink/internal/infra/blob/fs"
	memstore "bloodlink/internal/infra/blob/memory"
	s3store "bloodlink/internal/infra/blob/s3"
)

type (
	// Store is the object store contract.
	Store = core.Store
	// Driver identifies a backend.
	Driver = core.Driver
	// Info describes a stored object.
	Info = core.Info
	// PutOptions carries content type and user metadata for Put.
	PutOptions = core.PutOptions
	// S3Config configures the S3 backend.
	S3Config = s3store.Config
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	ErrExists   = core.ErrExists
	ErrNotFound = core.ErrNotFound
)

// Options selects and configures a backend for Open.
type Options struct {
	Driver Driver
	FSRoot string
	S3     S3Config
}

// NewMemory returns an in-memory store.
func NewMemory() Store { return memstore.New() }

// NewFilesystem returns a store rooted at root.
func NewFilesystem(root string) (Store, error) { return fsstore.New(root) }

// NewS3 returns a store backed by an S3-compatible bucket.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) { return s3store.New(ctx, cfg) }

// Open builds the backend named by opts.Driver. An empty driver selects the filesystem.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "", DriverFilesystem:
		return NewFilesystem(opts.FSRoot)
	case DriverS3:
		return NewS3(ctx, opts.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", opts.Driver)
	}
}
