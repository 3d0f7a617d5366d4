package cache

import (
	"context"
	"sync"

	"animestream/catalogservice/internal/domain"
)

// MemoryStore keeps everything in process. It is the default backend and
// the one tests use.
type MemoryStore struct {
	mu          sync.RWMutex
	records     map[string]domain.UnifiedRecord
	derivatives map[string]domain.CachedDerivative
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:     make(map[string]domain.UnifiedRecord),
		derivatives: make(map[string]domain.CachedDerivative),
	}
}

func (s *MemoryStore) GetRecord(_ context.Context, id string, mediaType domain.MediaType) (domain.UnifiedRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[recordKey(mediaType, id)]
	return record, ok, nil
}

func (s *MemoryStore) InsertRecord(_ context.Context, record domain.UnifiedRecord) (bool, error) {
	key := recordKey(record.Type, record.ID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[key]; exists {
		return false, nil
	}
	s.records[key] = record
	return true, nil
}

func (s *MemoryStore) ReplaceRecord(_ context.Context, record domain.UnifiedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[recordKey(record.Type, record.ID)] = record
	return nil
}

func (s *MemoryStore) FindRecords(_ context.Context, query string, mediaType domain.MediaType, limit int) ([]domain.UnifiedRecord, error) {
	s.mu.RLock()
	candidates := make([]domain.UnifiedRecord, 0, len(s.records))
	for _, record := range s.records {
		if record.Type == mediaType {
			candidates = append(candidates, record)
		}
	}
	s.mu.RUnlock()
	return rankRecords(candidates, query, limit), nil
}

func (s *MemoryStore) GetDerivative(_ context.Context, key domain.DerivativeKey) (domain.CachedDerivative, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	derivative, ok := s.derivatives[key.String()]
	return derivative, ok, nil
}

func (s *MemoryStore) PutDerivative(_ context.Context, derivative domain.CachedDerivative) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.derivatives[derivative.Key.String()] = derivative
	return nil
}

func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := Stats{Backend: "memory", Records: map[string]int{}, Derivatives: len(s.derivatives)}
	for _, record := range s.records {
		stats.Records[string(record.Type)]++
	}
	return stats, nil
}

func (s *MemoryStore) Close() error { return nil }
