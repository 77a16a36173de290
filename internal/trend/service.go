package trend

import (
	"sort"
	"sync"
	"time"

	"qclog/internal/domain"
	"qclog/internal/logger"
)

type cacheKey struct {
	part   domain.PartType
	filter string
}

// Analysis is a cached series with its fitted result.
type Analysis struct {
	Series    []domain.Record
	OutOfSpec []domain.Record
	Result    Result
}

// Cache holds analyses per part and filter until new data for the part arrives.
type Cache struct {
	mu      sync.Mutex
	entries map[cacheKey]Analysis
}

func NewCache() *Cache {
	return &Cache{entries: map[cacheKey]Analysis{}}
}

func (c *Cache) get(part domain.PartType, f Filter) (Analysis, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.entries[cacheKey{part, f.Signature()}]
	return a, ok
}

func (c *Cache) put(part domain.PartType, f Filter, a Analysis) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey{part, f.Signature()}] = a
}

// InvalidatePart drops every cached analysis of part.
func (c *Cache) InvalidatePart(part domain.PartType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if k.part == part {
			delete(c.entries, k)
		}
	}
}

// Reset drops every cached analysis.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[cacheKey]Analysis{}
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

type Reader interface {
	ReadAll(part domain.PartType) []domain.Record
}

// modTimer is a Reader whose contents can change behind the cache, such as a
// workbook written by another process.
type modTimer interface {
	ModTime() time.Time
}

type Service struct {
	store Reader
	cache *Cache
	log   *logger.Logger

	mu   sync.Mutex
	seen time.Time
}

func NewService(store Reader, cache *Cache, log *logger.Logger) *Service {
	if cache == nil {
		cache = NewCache()
	}
	return &Service{store: store, cache: cache, log: logger.OrNop(log).With("component", "trend")}
}

func (s *Service) Cache() *Cache { return s.cache }

// Trend returns the filtered, time-ordered series for one part.
func (s *Service) Trend(part domain.PartType, f Filter) ([]domain.Record, error) {
	return Series(s.store.ReadAll(part), f)
}

// AnalyzeFiltered returns the series and its analysis, from cache when the
// part has not been written since the last call with the same filter.
func (s *Service) AnalyzeFiltered(part domain.PartType, f Filter) (Analysis, error) {
	s.syncModTime()
	if a, ok := s.cache.get(part, f); ok {
		s.log.Debug("analysis cache hit", "part", part, "hole", f.Hole, "feature", f.Feature)
		return a, nil
	}
	series, err := s.Trend(part, f)
	if err != nil {
		return Analysis{}, err
	}
	a := Analysis{
		Series:    series,
		OutOfSpec: OutOfSpecPoints(series),
		Result:    Analyze(PointsFrom(series)),
	}
	s.cache.put(part, f, a)
	return a, nil
}

// syncModTime empties the cache when the store changed since it was filled.
func (s *Service) syncModTime() {
	mt, ok := s.store.(modTimer)
	if !ok {
		return
	}
	m := mt.ModTime()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !m.Equal(s.seen) {
		if s.cache.Len() > 0 {
			s.log.Debug("store changed, dropping cached analyses")
		}
		s.cache.Reset()
		s.seen = m
	}
}

// Machines lists the distinct machines recorded for part.
func (s *Service) Machines(part domain.PartType) []string {
	return distinct(s.store.ReadAll(part), func(r domain.Record) string { return r.Machine })
}

// Chambers lists the distinct chambers recorded for part.
func (s *Service) Chambers(part domain.PartType) []string {
	return distinct(s.store.ReadAll(part), func(r domain.Record) string { return r.Chamber })
}

func distinct(records []domain.Record, field func(domain.Record) string) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range records {
		v := field(r)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
