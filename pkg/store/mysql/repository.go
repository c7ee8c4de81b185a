package mysql

import "context"

// Repository aggregates all MySQL repositories
type Repository struct {
	ds *Datastore

	ScalingEvent   *ScalingEventRepository
	WorkerSnapshot *WorkerSnapshotRepository
}

// NewRepository connects, migrates the history tables and builds every repository
func NewRepository(ctx context.Context, dsn string) (*Repository, error) {
	ds, err := NewDatastore(dsn)
	if err != nil {
		return nil, err
	}
	if err := ds.Migrate(ctx); err != nil {
		ds.Close()
		return nil, err
	}

	return &Repository{
		ds:             ds,
		ScalingEvent:   NewScalingEventRepository(ds),
		WorkerSnapshot: NewWorkerSnapshotRepository(ds),
	}, nil
}

// GetDatastore returns the underlying datastore for transaction support
func (r *Repository) GetDatastore() *Datastore {
	return r.ds
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.ds.Close()
}
