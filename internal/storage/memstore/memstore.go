// Package memstore keeps tracking points in process memory. It backs tests
// and local runs where no database is configured.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/rb/deliverytrack-go/internal/storage"
)

type Store struct {
	mu     sync.Mutex
	points []storage.Point
}

func New() *Store {
	return &Store{}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) WritePoint(ctx context.Context, p storage.Point) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.points = append(s.points, p)
	s.mu.Unlock()
	return nil
}

func (s *Store) History(ctx context.Context, deliveryID string) ([]storage.Point, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	matched := make([]storage.Point, 0, len(s.points))
	for _, p := range s.points {
		if p.DeliveryID == deliveryID {
			matched = append(matched, p)
		}
	}
	s.mu.Unlock()
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Time.Before(matched[j].Time)
	})
	return matched, nil
}

func (s *Store) Close() {}

// Len reports the total number of stored points across all deliveries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.points)
}
