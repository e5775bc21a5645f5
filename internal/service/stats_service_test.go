package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/al-shafii/registry-api/internal/models"
	"github.com/al-shafii/registry-api/pkg/config"
	appErrors "github.com/al-shafii/registry-api/pkg/errors"
)

type fakeStatsCache struct {
	store   map[string]*Stats
	gets    int
	sets    int
	deletes int
}

func newFakeStatsCache() *fakeStatsCache {
	return &fakeStatsCache{store: make(map[string]*Stats)}
}

func (f *fakeStatsCache) Get(ctx context.Context, key string, dest interface{}) error {
	f.gets++
	cached, ok := f.store[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	*dest.(*Stats) = *cached
	return nil
}

func (f *fakeStatsCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	f.sets++
	stats := value.(*Stats)
	f.store[key] = stats
	return nil
}

func (f *fakeStatsCache) DeleteByPattern(ctx context.Context, pattern string) error {
	f.deletes++
	delete(f.store, pattern)
	return nil
}

func statsFixture() []models.Student {
	reg := func(day int) time.Time {
		return time.Date(2026, time.August, day, 10, 0, 0, 0, time.UTC)
	}
	return []models.Student{
		{Status: models.StatusJoined, Level: "خاتم", AgeGroup: models.AgeGroup7To10,
			Gender: models.GenderMale, ReminderPoints: 25, RegistrationDate: reg(3)},
		{Status: models.StatusJoined, Level: "خاتم", AgeGroup: models.AgeGroup11To13,
			Gender: models.GenderFemale, ReminderPoints: 5, RegistrationDate: reg(4)},
		{Status: models.StatusPostponed, Level: "جامعي", AgeGroup: models.AgeGroup14Plus,
			Gender: models.GenderMale, ReminderPoints: 20, RegistrationDate: reg(20)},
	}
}

func newTestStats(students []models.Student, cache statsCache, enabled bool) *StatsService {
	repo := newMemStudentRepo()
	for i := range students {
		students[i].OwnerID = "owner"
		students[i].BirthDate = time.Now()
		_ = repo.Create(context.Background(), &students[i])
	}
	cfg := config.StatsConfig{CacheEnabled: enabled, CacheTTL: time.Minute}
	points := config.PointsConfig{AttendanceIncrement: 5, PriorityThreshold: 20}
	return NewStatsService(repo, cache, cfg, points, zap.NewNop())
}

func TestStatsCompute(t *testing.T) {
	svc := newTestStats(statsFixture(), nil, false)

	stats, err := svc.Get(context.Background(), "owner")
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.StatusCounts[models.StatusJoined])
	assert.Equal(t, 1, stats.StatusCounts[models.StatusPostponed])
	assert.Equal(t, 2, stats.LevelCounts["خاتم"])
	assert.Equal(t, 1, stats.AgeGroupCounts[models.AgeGroup14Plus])
	assert.Equal(t, 2, stats.GenderCounts[models.GenderMale])
	// Strictly above the threshold counts; exactly 20 does not.
	assert.Equal(t, 1, stats.PriorityCount)
}

func TestStatsHistograms(t *testing.T) {
	svc := newTestStats(statsFixture(), nil, false)

	stats, err := svc.Get(context.Background(), "owner")
	require.NoError(t, err)

	// Aug 3 and Aug 4 2026 share ISO week 32; Aug 20 is week 34.
	require.Len(t, stats.Weekly, 2)
	assert.Equal(t, PeriodCount{Period: "2026-W32", Count: 2}, stats.Weekly[0])
	assert.Equal(t, PeriodCount{Period: "2026-W34", Count: 1}, stats.Weekly[1])

	require.Len(t, stats.Monthly, 1)
	assert.Equal(t, PeriodCount{Period: "2026-08", Count: 3}, stats.Monthly[0])
}

func TestStatsCacheHit(t *testing.T) {
	cache := newFakeStatsCache()
	svc := newTestStats(statsFixture(), cache, true)

	first, err := svc.Get(context.Background(), "owner")
	require.NoError(t, err)
	assert.Equal(t, 1, cache.sets)

	second, err := svc.Get(context.Background(), "owner")
	require.NoError(t, err)
	assert.Equal(t, 1, cache.sets)
	assert.Equal(t, first.Total, second.Total)
}

func TestStatsInvalidate(t *testing.T) {
	cache := newFakeStatsCache()
	svc := newTestStats(statsFixture(), cache, true)

	_, err := svc.Get(context.Background(), "owner")
	require.NoError(t, err)

	svc.Invalidate(context.Background(), "owner")
	assert.Equal(t, 1, cache.deletes)

	_, err = svc.Get(context.Background(), "owner")
	require.NoError(t, err)
	assert.Equal(t, 2, cache.sets)
}
