package catalog

import (
	"context"
	"errors"
)

// ErrNotFound is returned by lookups that match no record.
var ErrNotFound = errors.New("catalog: not found")

// ErrDuplicate is returned when inserting a target whose name is taken.
var ErrDuplicate = errors.New("catalog: duplicate")

// Store is the persistence interface for the target catalog.
type Store interface {
	// GetTargetByName returns ErrNotFound when no target has the name.
	GetTargetByName(ctx context.Context, name string) (*Target, error)

	// SaveTarget inserts the target when its ID is zero, otherwise updates it.
	// extras are upserted by key and merged into t.Extras.
	SaveTarget(ctx context.Context, t *Target, extras map[string]string) error

	GetOrCreateTargetList(ctx context.Context, name string) (list *TargetList, created bool, err error)
	AddTargetToList(ctx context.Context, listID, targetID int64) error

	// AddReducedData stores data points not already present for the same
	// target, source, data type and timestamp. It returns how many were new.
	AddReducedData(ctx context.Context, data []ReducedDatum) (int, error)

	// LatestReducedDatum returns the datum with the newest timestamp, or ErrNotFound.
	LatestReducedDatum(ctx context.Context, targetID int64) (*ReducedDatum, error)

	ListBrokerQueries(ctx context.Context, broker string) ([]*BrokerQuery, error)

	// SaveBrokerQuery updates by ID, or upserts by name when ID is zero.
	// An upsert keeps the stored LastRun.
	SaveBrokerQuery(ctx context.Context, q *BrokerQuery) error
}
