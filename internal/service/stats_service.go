package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/al-shafii/registry-api/internal/models"
	"github.com/al-shafii/registry-api/pkg/config"
	appErrors "github.com/al-shafii/registry-api/pkg/errors"
)

type statsCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

type statsLister interface {
	List(ctx context.Context, ownerID string, filter models.StudentFilter) ([]models.Student, error)
}

// PeriodCount is one histogram bucket, keyed by its period label.
type PeriodCount struct {
	Period string `json:"period"`
	Count  int    `json:"count"`
}

// Stats is the dashboard aggregate view derived from the owner's full
// collection.
type Stats struct {
	Total          int                     `json:"total"`
	StatusCounts   map[models.Status]int   `json:"status_counts"`
	LevelCounts    map[string]int          `json:"level_counts"`
	AgeGroupCounts map[models.AgeGroup]int `json:"age_group_counts"`
	GenderCounts   map[models.Gender]int   `json:"gender_counts"`
	PriorityCount  int                     `json:"priority_count"`
	Weekly         []PeriodCount           `json:"weekly"`
	Monthly        []PeriodCount           `json:"monthly"`
	GeneratedAt    time.Time               `json:"generated_at"`
}

// StatsService derives the dashboard aggregates. Results are cached per
// owner and invalidated by the directory on every mutation.
type StatsService struct {
	repo   statsLister
	cache  statsCache
	cfg    config.StatsConfig
	points config.PointsConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewStatsService constructs the stats service.
func NewStatsService(repo statsLister, cache statsCache, cfg config.StatsConfig, points config.PointsConfig, logger *zap.Logger) *StatsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatsService{
		repo:   repo,
		cache:  cache,
		cfg:    cfg,
		points: points,
		logger: logger,
		now:    time.Now,
	}
}

func statsKey(ownerID string) string {
	return fmt.Sprintf("stats:%s", ownerID)
}

// Get returns the owner's aggregates, from cache when fresh.
func (s *StatsService) Get(ctx context.Context, ownerID string) (*Stats, error) {
	if s.cfg.CacheEnabled && s.cache != nil {
		var cached Stats
		if err := s.cache.Get(ctx, statsKey(ownerID), &cached); err == nil {
			return &cached, nil
		} else if err != appErrors.ErrCacheMiss {
			s.logger.Warn("stats cache read failed", zap.String("owner_id", ownerID), zap.Error(err))
		}
	}

	students, err := s.repo.List(ctx, ownerID, models.StudentFilter{})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute stats")
	}
	stats := s.compute(students)

	if s.cfg.CacheEnabled && s.cache != nil {
		if err := s.cache.Set(ctx, statsKey(ownerID), stats, s.cfg.CacheTTL); err != nil {
			s.logger.Warn("stats cache write failed", zap.String("owner_id", ownerID), zap.Error(err))
		}
	}
	return stats, nil
}

// Invalidate drops the owner's cached aggregates.
func (s *StatsService) Invalidate(ctx context.Context, ownerID string) {
	if !s.cfg.CacheEnabled || s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, statsKey(ownerID)); err != nil {
		s.logger.Warn("stats cache invalidation failed", zap.String("owner_id", ownerID), zap.Error(err))
	}
}

func (s *StatsService) compute(students []models.Student) *Stats {
	stats := &Stats{
		Total:          len(students),
		StatusCounts:   make(map[models.Status]int),
		LevelCounts:    make(map[string]int),
		AgeGroupCounts: make(map[models.AgeGroup]int),
		GenderCounts:   make(map[models.Gender]int),
		GeneratedAt:    s.now().UTC(),
	}

	weekly := make(map[string]int)
	monthly := make(map[string]int)
	for _, st := range students {
		stats.StatusCounts[st.Status]++
		stats.LevelCounts[st.Level]++
		stats.AgeGroupCounts[st.AgeGroup]++
		stats.GenderCounts[st.Gender]++
		if st.ReminderPoints > s.points.PriorityThreshold {
			stats.PriorityCount++
		}

		reg := st.RegistrationDate.UTC()
		year, week := reg.ISOWeek()
		weekly[fmt.Sprintf("%04d-W%02d", year, week)]++
		monthly[reg.Format("2006-01")]++
	}

	stats.Weekly = sortedCounts(weekly)
	stats.Monthly = sortedCounts(monthly)
	return stats
}

// sortedCounts orders histogram buckets chronologically; the period
// labels sort lexically in date order.
func sortedCounts(counts map[string]int) []PeriodCount {
	out := make([]PeriodCount, 0, len(counts))
	for period, count := range counts {
		out = append(out, PeriodCount{Period: period, Count: count})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	return out
}
