// Package memstore provides an in-memory implementation of catalog.Store.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/sdtom/internal/catalog"
)

type datumKey struct {
	targetID  int64
	source    string
	dataType  string
	timestamp int64
}

// Store holds the catalog in memory. Suitable for dev/testing.
type Store struct {
	mu sync.RWMutex

	nextID int64

	targets map[int64]*catalog.Target
	byName  map[string]int64 // target name -> target ID

	lists       map[int64]*catalog.TargetList
	listByName  map[string]int64
	listMembers map[int64]map[int64]struct{} // list ID -> target IDs

	data     map[int64][]catalog.ReducedDatum // target ID -> data
	dataSeen map[datumKey]struct{}

	queries     map[int64]*catalog.BrokerQuery
	queryByName map[string]int64

	now func() time.Time
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		targets:     make(map[int64]*catalog.Target),
		byName:      make(map[string]int64),
		lists:       make(map[int64]*catalog.TargetList),
		listByName:  make(map[string]int64),
		listMembers: make(map[int64]map[int64]struct{}),
		data:        make(map[int64][]catalog.ReducedDatum),
		dataSeen:    make(map[datumKey]struct{}),
		queries:     make(map[int64]*catalog.BrokerQuery),
		queryByName: make(map[string]int64),
		now:         time.Now,
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// GetTargetByName retrieves a target by name. Returns a copy.
func (s *Store) GetTargetByName(_ context.Context, name string) (*catalog.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[name]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return s.targets[id].Clone(), nil
}

// SaveTarget stores a copy of the target and merges extras into it.
func (s *Store) SaveTarget(_ context.Context, t *catalog.Target, extras map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	merged := make(map[string]string)
	if t.ID == 0 {
		if _, ok := s.byName[t.Name]; ok {
			return fmt.Errorf("target %q: %w", t.Name, catalog.ErrDuplicate)
		}
		t.ID = s.id()
		t.Created = now
	} else {
		prev, ok := s.targets[t.ID]
		if !ok {
			return catalog.ErrNotFound
		}
		if prev.Name != t.Name {
			delete(s.byName, prev.Name)
		}
		for k, v := range prev.Extras {
			merged[k] = v
		}
	}
	t.Modified = now

	// only the extras passed in are written, like the postgres store
	for k, v := range extras {
		merged[k] = v
	}
	t.Extras = merged

	s.targets[t.ID] = t.Clone()
	s.byName[t.Name] = t.ID
	return nil
}

// GetOrCreateTargetList returns the list with the given name, creating it if needed.
func (s *Store) GetOrCreateTargetList(_ context.Context, name string) (*catalog.TargetList, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.listByName[name]; ok {
		cp := *s.lists[id]
		return &cp, false, nil
	}
	l := &catalog.TargetList{ID: s.id(), Name: name}
	s.lists[l.ID] = l
	s.listByName[name] = l.ID
	s.listMembers[l.ID] = make(map[int64]struct{})
	cp := *l
	return &cp, true, nil
}

// AddTargetToList adds a target to a list. Adding twice is a no-op.
func (s *Store) AddTargetToList(_ context.Context, listID, targetID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	members, ok := s.listMembers[listID]
	if !ok {
		return catalog.ErrNotFound
	}
	if _, ok := s.targets[targetID]; !ok {
		return catalog.ErrNotFound
	}
	members[targetID] = struct{}{}
	return nil
}

// ListMembers returns the target IDs in a list, sorted ascending.
func (s *Store) ListMembers(listID int64) []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int64, 0, len(s.listMembers[listID]))
	for id := range s.listMembers[listID] {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// TargetCount returns the number of stored targets.
func (s *Store) TargetCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.targets)
}

// AddReducedData stores data points not seen before.
func (s *Store) AddReducedData(_ context.Context, data []catalog.ReducedDatum) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	created := 0
	for i := range data {
		d := data[i]
		if _, ok := s.targets[d.TargetID]; !ok {
			return created, catalog.ErrNotFound
		}
		k := datumKey{d.TargetID, d.Source, d.DataType, d.Timestamp.UnixNano()}
		if _, dup := s.dataSeen[k]; dup {
			continue
		}
		s.dataSeen[k] = struct{}{}
		d.ID = s.id()
		d.Value = copyValue(d.Value)
		s.data[d.TargetID] = append(s.data[d.TargetID], d)
		created++
	}
	return created, nil
}

// LatestReducedDatum returns a copy of the newest datum for the target.
func (s *Store) LatestReducedDatum(_ context.Context, targetID int64) (*catalog.ReducedDatum, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *catalog.ReducedDatum
	for i := range s.data[targetID] {
		d := &s.data[targetID][i]
		if latest == nil || d.Timestamp.After(latest.Timestamp) {
			latest = d
		}
	}
	if latest == nil {
		return nil, catalog.ErrNotFound
	}
	cp := *latest
	cp.Value = copyValue(latest.Value)
	return &cp, nil
}

// ListBrokerQueries returns copies of the queries for a broker, ordered by ID.
func (s *Store) ListBrokerQueries(_ context.Context, broker string) ([]*catalog.BrokerQuery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*catalog.BrokerQuery
	for _, q := range s.queries {
		if q.Broker == broker {
			out = append(out, q.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SaveBrokerQuery stores a copy of the query.
func (s *Store) SaveBrokerQuery(_ context.Context, q *catalog.BrokerQuery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if q.ID == 0 {
		if id, ok := s.queryByName[q.Name]; ok {
			prev := s.queries[id]
			q.ID = id
			q.Created = prev.Created
			q.LastRun = prev.LastRun
		} else {
			q.ID = s.id()
			q.Created = now
		}
	} else if _, ok := s.queries[q.ID]; !ok {
		return catalog.ErrNotFound
	}
	q.Modified = now

	s.queries[q.ID] = q.Clone()
	s.queryByName[q.Name] = q.ID
	return nil
}

func copyValue(v map[string]any) map[string]any {
	if v == nil {
		return nil
	}
	cp := make(map[string]any, len(v))
	for k, val := range v {
		cp[k] = val
	}
	return cp
}
