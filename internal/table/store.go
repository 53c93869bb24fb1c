package table

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Store owns the current Dataset and the live filtered view. HTTP handlers
// share one Store, so all access goes through its lock.
type Store struct {
	mu        sync.RWMutex
	dataset   *Dataset
	view      []Row
	persister Persister
	logger    *zap.Logger
}

// NewStore creates an empty store. A nil persister disables persistence.
func NewStore(p Persister, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{persister: p, logger: logger}
}

// Load builds a dataset from positional rows and replaces the current one.
func (s *Store) Load(ctx context.Context, columns []string, rows [][]any, source string) (*Dataset, error) {
	ds, err := NewDataset(columns, rows, source)
	if err != nil {
		return nil, err
	}
	s.LoadDataset(ctx, ds)
	return ds, nil
}

// LoadDataset replaces the dataset, resets the view to every row and mirrors
// the dataset to the persister. Persistence failures are logged only.
func (s *Store) LoadDataset(ctx context.Context, ds *Dataset) {
	s.mu.Lock()
	s.dataset = ds
	s.view = ds.Rows()
	s.mu.Unlock()

	s.logger.Info("dataset loaded",
		zap.String("source", ds.Source()),
		zap.Int("rows", ds.Len()),
		zap.Int("columns", ds.Schema().Len()))

	if s.persister == nil {
		return
	}
	if err := s.persister.Save(ctx, ds.Snapshot()); err != nil {
		s.logger.Warn("could not persist dataset", zap.String("source", ds.Source()), zap.Error(err))
	}
}

// Restore reads the persisted dataset and installs it. It returns false,
// without error, when nothing was saved or the saved payload is unusable.
func (s *Store) Restore(ctx context.Context) (*Dataset, bool) {
	if s.persister == nil {
		return nil, false
	}
	snap, err := s.persister.Load(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoSnapshot) {
			s.logger.Warn("could not restore dataset", zap.Error(err))
		}
		return nil, false
	}
	ds, err := NewDataset(snap.Columns, snap.Data, snap.FileName)
	if err != nil {
		s.logger.Warn("discarding persisted dataset", zap.Error(err))
		return nil, false
	}

	s.mu.Lock()
	s.dataset = ds
	s.view = ds.Rows()
	s.mu.Unlock()
	return ds, true
}

// Reset clears the dataset and removes the persisted copy.
func (s *Store) Reset(ctx context.Context) {
	s.mu.Lock()
	s.dataset = nil
	s.view = nil
	s.mu.Unlock()

	if s.persister == nil {
		return
	}
	if err := s.persister.Delete(ctx); err != nil {
		s.logger.Warn("could not clear persisted dataset", zap.Error(err))
	}
}

// Dataset returns the current dataset, or nil when none is loaded.
func (s *Store) Dataset() *Dataset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dataset
}

// View returns the live filtered view.
func (s *Store) View() []Row {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view
}

// SetView records the result of the latest search. A view computed against
// a dataset that has since been replaced is ignored.
func (s *Store) SetView(ds *Dataset, rows []Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dataset != ds {
		return
	}
	s.view = rows
}

// LookupByColumn returns the first row whose column equals value exactly.
func (s *Store) LookupByColumn(column, value string) (Row, bool) {
	ds := s.Dataset()
	if ds == nil {
		return Row{}, false
	}
	i, ok := ds.schema.Resolve(ByName(column))
	if !ok {
		return Row{}, false
	}
	for _, r := range ds.rows {
		if CellString(r.cells[i]) == value {
			return r, true
		}
	}
	return Row{}, false
}
