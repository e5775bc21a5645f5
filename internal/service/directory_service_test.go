package service

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/al-shafii/registry-api/internal/importer"
	"github.com/al-shafii/registry-api/internal/models"
	"github.com/al-shafii/registry-api/pkg/config"
	appErrors "github.com/al-shafii/registry-api/pkg/errors"
)

type memStudentRepo struct {
	mu       sync.Mutex
	students map[string]models.Student
	nextID   int
}

func newMemStudentRepo() *memStudentRepo {
	return &memStudentRepo{students: make(map[string]models.Student)}
}

func (m *memStudentRepo) List(ctx context.Context, ownerID string, filter models.StudentFilter) ([]models.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Student
	for _, s := range m.students {
		if s.OwnerID == ownerID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RegistrationDate.After(out[j].RegistrationDate)
	})
	return out, nil
}

func (m *memStudentRepo) FindByID(ctx context.Context, ownerID, id string) (*models.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.students[id]; ok && s.OwnerID == ownerID {
		return &s, nil
	}
	return nil, sql.ErrNoRows
}

func (m *memStudentRepo) FindByNameOrPhone(ctx context.Context, ownerID, query string) (*models.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.students {
		if s.OwnerID == ownerID && s.FullName == query {
			return &s, nil
		}
	}
	for _, s := range m.students {
		if s.OwnerID == ownerID && s.Phone1 == query {
			return &s, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memStudentRepo) Create(ctx context.Context, student *models.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	if student.ID == "" {
		student.ID = string(rune('a' + m.nextID))
	}
	if student.RegistrationDate.IsZero() {
		student.RegistrationDate = time.Now().UTC()
	}
	m.students[student.ID] = *student
	return nil
}

func (m *memStudentRepo) CreateMany(ctx context.Context, students []models.Student) error {
	for i := range students {
		if err := m.Create(ctx, &students[i]); err != nil {
			return err
		}
	}
	return nil
}

func (m *memStudentRepo) UpdateFields(ctx context.Context, ownerID, id string, patch models.StudentPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.students[id]
	if !ok || s.OwnerID != ownerID {
		return sql.ErrNoRows
	}
	if patch.FullName != nil {
		s.FullName = *patch.FullName
	}
	if patch.Status != nil {
		s.Status = *patch.Status
	}
	if patch.AssignedSheikh != nil {
		s.AssignedSheikh = *patch.AssignedSheikh
	}
	if patch.BirthDate != nil {
		s.BirthDate = *patch.BirthDate
	}
	if patch.Age != nil {
		s.Age = *patch.Age
	}
	if patch.AgeGroup != nil {
		s.AgeGroup = *patch.AgeGroup
	}
	m.students[id] = s
	return nil
}

func (m *memStudentRepo) BulkUpdateFields(ctx context.Context, ownerID string, patches []models.BulkPatch) error {
	for _, p := range patches {
		if _, ok := m.students[p.ID]; !ok {
			return sql.ErrNoRows
		}
	}
	for _, p := range patches {
		if err := m.UpdateFields(ctx, ownerID, p.ID, p.Patch); err != nil {
			return err
		}
	}
	return nil
}

func (m *memStudentRepo) Delete(ctx context.Context, ownerID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.students[id]; ok && s.OwnerID == ownerID {
		delete(m.students, id)
		return nil
	}
	return sql.ErrNoRows
}

func (m *memStudentRepo) GetPoints(ctx context.Context, ownerID, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.students[id]; ok && s.OwnerID == ownerID {
		return s.ReminderPoints, nil
	}
	return 0, sql.ErrNoRows
}

func (m *memStudentRepo) SetPoints(ctx context.Context, ownerID, id string, points int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.students[id]
	if !ok || s.OwnerID != ownerID {
		return sql.ErrNoRows
	}
	s.ReminderPoints = points
	m.students[id] = s
	return nil
}

func newTestDirectory(repo studentRepository) *DirectoryService {
	return NewDirectoryService(repo, validator.New(), config.RosterConfig{}, zap.NewNop())
}

func validRegisterRequest() RegisterStudentRequest {
	return RegisterStudentRequest{
		FullName:     "محمد عبدالله",
		Gender:       "male",
		BirthDate:    time.Date(2015, time.May, 15, 0, 0, 0, 0, time.UTC),
		Level:        "5 إبتدائي",
		GuardianName: "عبدالله",
		Phone1:       "0555123456",
		Address:      "حي النصر",
		Status:       "joined",
	}
}

func TestDirectoryRegister(t *testing.T) {
	repo := newMemStudentRepo()
	svc := newTestDirectory(repo)

	student, err := svc.Register(context.Background(), "owner", validRegisterRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, student.ID)
	assert.Equal(t, "owner", student.OwnerID)
	assert.False(t, student.RegistrationDate.IsZero())
	assert.Equal(t, models.AgeGroup11To13, student.AgeGroup)
}

func TestDirectoryRegisterRejectsUnknownLevel(t *testing.T) {
	svc := newTestDirectory(newMemStudentRepo())

	req := validRegisterRequest()
	req.Level = "صف وهمي"
	_, err := svc.Register(context.Background(), "owner", req)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestDirectoryRegisterRejectsSheikhOffRoster(t *testing.T) {
	roster := config.RosterConfig{Sheikhs: []string{"الشيخ يوسف", "الشيخ خالد"}}
	svc := NewDirectoryService(newMemStudentRepo(), validator.New(), roster, zap.NewNop())

	req := validRegisterRequest()
	req.AssignedSheikh = "شيخ مجهول"
	_, err := svc.Register(context.Background(), "owner", req)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)

	// A roster name and the empty assignment both pass.
	req.AssignedSheikh = "الشيخ يوسف"
	_, err = svc.Register(context.Background(), "owner", req)
	require.NoError(t, err)

	req.AssignedSheikh = ""
	_, err = svc.Register(context.Background(), "owner", req)
	require.NoError(t, err)
}

func TestDirectoryPatchesRejectSheikhOffRoster(t *testing.T) {
	roster := config.RosterConfig{Sheikhs: []string{"الشيخ يوسف"}}
	repo := newMemStudentRepo()
	svc := NewDirectoryService(repo, validator.New(), roster, zap.NewNop())

	student, err := svc.Register(context.Background(), "owner", validRegisterRequest())
	require.NoError(t, err)

	bogus := "شيخ مجهول"
	_, err = svc.Update(context.Background(), "owner", student.ID, models.StudentPatch{AssignedSheikh: &bogus})
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)

	err = svc.BulkUpdate(context.Background(), "owner", []models.BulkPatch{
		{ID: student.ID, Patch: models.StudentPatch{AssignedSheikh: &bogus}},
	})
	appErr = appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)

	listed := "الشيخ يوسف"
	got, err := svc.Update(context.Background(), "owner", student.ID, models.StudentPatch{AssignedSheikh: &listed})
	require.NoError(t, err)
	assert.Equal(t, listed, got.AssignedSheikh)
}

func TestDirectoryUpdateNotFound(t *testing.T) {
	svc := newTestDirectory(newMemStudentRepo())

	name := "جديد"
	_, err := svc.Update(context.Background(), "owner", "missing", models.StudentPatch{FullName: &name})
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}

func TestDirectoryUpdateIsOwnerScoped(t *testing.T) {
	repo := newMemStudentRepo()
	svc := newTestDirectory(repo)

	student, err := svc.Register(context.Background(), "owner-a", validRegisterRequest())
	require.NoError(t, err)

	name := "مخترق"
	_, err = svc.Update(context.Background(), "owner-b", student.ID, models.StudentPatch{FullName: &name})
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}

func TestDirectoryBulkUpdateFailsWholeBatch(t *testing.T) {
	repo := newMemStudentRepo()
	svc := newTestDirectory(repo)

	student, err := svc.Register(context.Background(), "owner", validRegisterRequest())
	require.NoError(t, err)

	status := models.StatusPostponed
	err = svc.BulkUpdate(context.Background(), "owner", []models.BulkPatch{
		{ID: student.ID, Patch: models.StudentPatch{Status: &status}},
		{ID: "missing", Patch: models.StudentPatch{Status: &status}},
	})
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)

	// Nothing committed.
	got, err := svc.Get(context.Background(), "owner", student.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusJoined, got.Status)
}

func TestDirectoryAddPointsSequential(t *testing.T) {
	repo := newMemStudentRepo()
	svc := newTestDirectory(repo)

	student, err := svc.Register(context.Background(), "owner", validRegisterRequest())
	require.NoError(t, err)

	total, err := svc.AddPoints(context.Background(), "owner", student.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, total)

	total, err = svc.AddPoints(context.Background(), "owner", student.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, 10, total)
}

// racingPointsRepo holds both readers at the read step until each has
// observed the starting value, forcing the read-modify-write overlap.
type racingPointsRepo struct {
	*memStudentRepo
	barrier *sync.WaitGroup
}

func (r *racingPointsRepo) GetPoints(ctx context.Context, ownerID, id string) (int, error) {
	points, err := r.memStudentRepo.GetPoints(ctx, ownerID, id)
	r.barrier.Done()
	r.barrier.Wait()
	return points, err
}

func TestDirectoryAddPointsConcurrentLosesUpdate(t *testing.T) {
	mem := newMemStudentRepo()
	barrier := &sync.WaitGroup{}
	barrier.Add(2)
	repo := &racingPointsRepo{memStudentRepo: mem, barrier: barrier}
	svc := newTestDirectory(repo)

	student, err := svc.Register(context.Background(), "owner", validRegisterRequest())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.AddPoints(context.Background(), "owner", student.ID, 5)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Both increments read 0 and wrote 5: one update is lost.
	points, err := mem.GetPoints(context.Background(), "owner", student.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, points)
}

func TestDirectorySubscribeDeliversSnapshots(t *testing.T) {
	repo := newMemStudentRepo()
	svc := newTestDirectory(repo)

	var (
		mu        sync.Mutex
		snapshots [][]models.Student
	)
	unsubscribe, err := svc.Subscribe(context.Background(), "owner", func(students []models.Student) {
		mu.Lock()
		defer mu.Unlock()
		snapshots = append(snapshots, students)
	})
	require.NoError(t, err)

	// Initial snapshot is delivered on subscribe.
	mu.Lock()
	require.Len(t, snapshots, 1)
	assert.Empty(t, snapshots[0])
	mu.Unlock()

	_, err = svc.Register(context.Background(), "owner", validRegisterRequest())
	require.NoError(t, err)

	mu.Lock()
	require.Len(t, snapshots, 2)
	assert.Len(t, snapshots[1], 1)
	mu.Unlock()

	unsubscribe()
	_, err = svc.Register(context.Background(), "owner", validRegisterRequest())
	require.NoError(t, err)

	mu.Lock()
	assert.Len(t, snapshots, 2)
	mu.Unlock()
}

func TestDirectorySubscribeScopedToOwner(t *testing.T) {
	repo := newMemStudentRepo()
	svc := newTestDirectory(repo)

	var count int
	unsubscribe, err := svc.Subscribe(context.Background(), "owner-a", func([]models.Student) {
		count++
	})
	require.NoError(t, err)
	defer unsubscribe()

	_, err = svc.Register(context.Background(), "owner-b", validRegisterRequest())
	require.NoError(t, err)

	// Only the initial snapshot; the other owner's change is invisible.
	assert.Equal(t, 1, count)
}

func TestDirectoryListNewestFirst(t *testing.T) {
	repo := newMemStudentRepo()
	svc := newTestDirectory(repo)

	old := models.Student{OwnerID: "owner", FullName: "قديم", BirthDate: time.Now(),
		RegistrationDate: time.Now().Add(-48 * time.Hour)}
	recent := models.Student{OwnerID: "owner", FullName: "جديد", BirthDate: time.Now(),
		RegistrationDate: time.Now()}
	_, err := svc.CreateMany(context.Background(), "owner", []models.Student{old, recent})
	require.NoError(t, err)

	students, err := svc.List(context.Background(), "owner", models.StudentFilter{})
	require.NoError(t, err)
	require.Len(t, students, 2)
	assert.Equal(t, "جديد", students[0].FullName)
	assert.Equal(t, "قديم", students[1].FullName)
}

func TestDirectoryUpdateEmptyPatchIsIdempotent(t *testing.T) {
	repo := newMemStudentRepo()
	svc := newTestDirectory(repo)

	student, err := svc.Register(context.Background(), "owner", validRegisterRequest())
	require.NoError(t, err)

	var notifications int
	unsubscribe, err := svc.Subscribe(context.Background(), "owner", func([]models.Student) {
		notifications++
	})
	require.NoError(t, err)
	defer unsubscribe()

	got, err := svc.Update(context.Background(), "owner", student.ID, models.StudentPatch{})
	require.NoError(t, err)
	assert.Equal(t, student.FullName, got.FullName)
	assert.Equal(t, student.ReminderPoints, got.ReminderPoints)
	// Only the initial snapshot; a no-op update fires nothing.
	assert.Equal(t, 1, notifications)
}

func TestNormalizeCreateSubscribeRoundTrip(t *testing.T) {
	repo := newMemStudentRepo()
	svc := newTestDirectory(repo)

	var latest []models.Student
	unsubscribe, err := svc.Subscribe(context.Background(), "owner", func(students []models.Student) {
		latest = students
	})
	require.NoError(t, err)
	defer unsubscribe()

	header := make([]any, len(importer.RequiredHeaders))
	for i, h := range importer.RequiredHeaders {
		header[i] = h
	}
	rows := [][]any{
		header,
		{"محمد عبدالله", "ذكر", "15/05/2010", "خاتم", "عبدالله", "0555", "", "الحي", "تم الانضمام", 1, ""},
		{"سارة أحمد", "أنثى", float64(40313), "جامعي", "أحمد", "0556", "", "الحي", "مؤجل", 2, ""},
	}
	normalized, err := importer.Normalize(rows, time.Now().UTC())
	require.NoError(t, err)

	_, err = svc.CreateMany(context.Background(), "owner", normalized)
	require.NoError(t, err)

	require.Len(t, latest, 2)
	for _, s := range latest {
		assert.Equal(t, "owner", s.OwnerID)
		assert.NotEmpty(t, s.ID)
		assert.False(t, s.RegistrationDate.IsZero())
	}
}

func TestDirectoryFindOneNotFound(t *testing.T) {
	svc := newTestDirectory(newMemStudentRepo())

	_, err := svc.FindOne(context.Background(), "owner", "لا أحد")
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}
