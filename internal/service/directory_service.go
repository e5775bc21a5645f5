package service

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/al-shafii/registry-api/internal/models"
	"github.com/al-shafii/registry-api/pkg/config"
	appErrors "github.com/al-shafii/registry-api/pkg/errors"
)

type studentRepository interface {
	List(ctx context.Context, ownerID string, filter models.StudentFilter) ([]models.Student, error)
	FindByID(ctx context.Context, ownerID, id string) (*models.Student, error)
	FindByNameOrPhone(ctx context.Context, ownerID, query string) (*models.Student, error)
	Create(ctx context.Context, student *models.Student) error
	CreateMany(ctx context.Context, students []models.Student) error
	UpdateFields(ctx context.Context, ownerID, id string, patch models.StudentPatch) error
	BulkUpdateFields(ctx context.Context, ownerID string, patches []models.BulkPatch) error
	Delete(ctx context.Context, ownerID, id string) error
	GetPoints(ctx context.Context, ownerID, id string) (int, error)
	SetPoints(ctx context.Context, ownerID, id string, points int) error
}

// RegisterStudentRequest holds payload for registering a single student.
type RegisterStudentRequest struct {
	FullName       string    `json:"full_name" validate:"required,min=2"`
	Gender         string    `json:"gender" validate:"required,oneof=male female"`
	BirthDate      time.Time `json:"birth_date" validate:"required"`
	Level          string    `json:"level" validate:"required"`
	GuardianName   string    `json:"guardian_name" validate:"required,min=2"`
	Phone1         string    `json:"phone1" validate:"required"`
	Phone2         string    `json:"phone2"`
	Address        string    `json:"address" validate:"required,min=5"`
	Status         string    `json:"status" validate:"required,oneof=joined postponed moved rejected"`
	PageNumber     int       `json:"page_number" validate:"gte=0"`
	AssignedSheikh string    `json:"assigned_sheikh"`
	Note           string    `json:"note"`
}

// SnapshotFunc receives the full ordered student list, newest
// registration first, whenever the collection changes.
type SnapshotFunc func([]models.Student)

// DirectoryService owns the canonical student collection: it is the only
// sanctioned mutation and query surface, and it fans each change out to
// the registered subscribers.
type DirectoryService struct {
	repo      studentRepository
	validator *validator.Validate
	roster    map[string]struct{}
	logger    *zap.Logger
	now       func() time.Time

	mu        sync.Mutex
	nextToken int
	listeners map[string]map[int]SnapshotFunc
	onChange  func(ctx context.Context, ownerID string)
}

// SetChangeHook registers a callback fired after every committed
// mutation, before subscriber fan-out. Used to drop derived caches.
func (s *DirectoryService) SetChangeHook(fn func(ctx context.Context, ownerID string)) {
	s.onChange = fn
}

// NewDirectoryService constructs the directory service.
func NewDirectoryService(repo studentRepository, validate *validator.Validate, roster config.RosterConfig, logger *zap.Logger) *DirectoryService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	rosterSet := make(map[string]struct{}, len(roster.Sheikhs))
	for _, name := range roster.Sheikhs {
		rosterSet[name] = struct{}{}
	}
	return &DirectoryService{
		repo:      repo,
		validator: validate,
		roster:    rosterSet,
		logger:    logger,
		now:       time.Now,
		listeners: make(map[string]map[int]SnapshotFunc),
	}
}

// validSheikh accepts the empty assignment and, when a roster is
// configured, only names on it. An empty roster leaves the field open.
func (s *DirectoryService) validSheikh(name string) bool {
	if name == "" || len(s.roster) == 0 {
		return true
	}
	_, ok := s.roster[name]
	return ok
}

// List returns the owner's students matching the filter (one-shot read;
// live views use Subscribe instead).
func (s *DirectoryService) List(ctx context.Context, ownerID string, filter models.StudentFilter) ([]models.Student, error) {
	students, err := s.repo.List(ctx, ownerID, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	return students, nil
}

// Get returns a single record.
func (s *DirectoryService) Get(ctx context.Context, ownerID, id string) (*models.Student, error) {
	student, err := s.repo.FindByID(ctx, ownerID, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

// FindOne performs the points-desk lookup: exact full-name match first,
// then phone1. At most one record is returned.
func (s *DirectoryService) FindOne(ctx context.Context, ownerID, query string) (*models.Student, error) {
	student, err := s.repo.FindByNameOrPhone(ctx, ownerID, query)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no student matched the search")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to search student")
	}
	return student, nil
}

// Register creates one student. The registration date is stamped to "now"
// by the store layer and the derived age fields are computed here, at
// write time.
func (s *DirectoryService) Register(ctx context.Context, ownerID string, req RegisterStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	if !models.ValidLevel(req.Level) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown grade level")
	}
	if !s.validSheikh(req.AssignedSheikh) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "sheikh is not on the roster")
	}

	age := models.CalculateAge(req.BirthDate, s.now())
	student := &models.Student{
		OwnerID:        ownerID,
		FullName:       req.FullName,
		Gender:         models.Gender(req.Gender),
		BirthDate:      req.BirthDate,
		Age:            age,
		AgeGroup:       models.AgeGroupFor(age),
		Level:          req.Level,
		GuardianName:   req.GuardianName,
		Phone1:         req.Phone1,
		Phone2:         req.Phone2,
		Address:        req.Address,
		Status:         models.Status(req.Status),
		PageNumber:     req.PageNumber,
		AssignedSheikh: req.AssignedSheikh,
		Note:           req.Note,
	}
	if err := s.repo.Create(ctx, student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student")
	}
	s.notify(ctx, ownerID)
	return student, nil
}

// CreateMany commits an already-normalized batch in one all-or-nothing
// write. Records reaching this operation must carry a parsed birth date;
// the normalizer guarantees that for imports.
func (s *DirectoryService) CreateMany(ctx context.Context, ownerID string, students []models.Student) ([]models.Student, error) {
	if len(students) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "no records to import")
	}
	for i := range students {
		if students[i].FullName == "" || students[i].BirthDate.IsZero() {
			return nil, appErrors.Clone(appErrors.ErrValidation, "record missing name or birth date")
		}
		students[i].OwnerID = ownerID
	}
	if err := s.repo.CreateMany(ctx, students); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to import students")
	}
	s.notify(ctx, ownerID)
	return students, nil
}

// Update merges the supplied fields into the record. Nothing is
// re-derived here: a caller changing the birth date must send recomputed
// age fields along (the HTTP layer does).
func (s *DirectoryService) Update(ctx context.Context, ownerID, id string, patch models.StudentPatch) (*models.Student, error) {
	if patch.Level != nil && !models.ValidLevel(*patch.Level) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown grade level")
	}
	if patch.AssignedSheikh != nil && !s.validSheikh(*patch.AssignedSheikh) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "sheikh is not on the roster")
	}
	if err := s.repo.UpdateFields(ctx, ownerID, id, patch); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update student")
	}
	student, err := s.repo.FindByID(ctx, ownerID, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload student")
	}
	if !patch.IsZero() {
		s.notify(ctx, ownerID)
	}
	return student, nil
}

// BulkUpdate applies the cohort-reassignment patches as one batch. A
// single missing id fails the whole batch and nothing is committed;
// callers retry after fixing the selection.
func (s *DirectoryService) BulkUpdate(ctx context.Context, ownerID string, patches []models.BulkPatch) error {
	if len(patches) == 0 {
		return appErrors.Clone(appErrors.ErrValidation, "no updates supplied")
	}
	for _, p := range patches {
		if p.Patch.AssignedSheikh != nil && !s.validSheikh(*p.Patch.AssignedSheikh) {
			return appErrors.Clone(appErrors.ErrValidation, "sheikh is not on the roster")
		}
	}
	if err := s.repo.BulkUpdateFields(ctx, ownerID, patches); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "batch contains an unknown student id")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to apply bulk update")
	}
	s.notify(ctx, ownerID)
	return nil
}

// Delete permanently removes the record. There is no undo.
func (s *DirectoryService) Delete(ctx context.Context, ownerID, id string) error {
	if err := s.repo.Delete(ctx, ownerID, id); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete student")
	}
	s.notify(ctx, ownerID)
	return nil
}

// AddPoints adds delta to the student's reminder points and returns the
// new total. This is deliberately a read followed by a write over two
// round trips; two concurrent increments on the same record can read the
// same starting value and lose one update (last write wins). The store
// offers an atomic increment for callers that need the race closed.
func (s *DirectoryService) AddPoints(ctx context.Context, ownerID, id string, delta int) (int, error) {
	current, err := s.repo.GetPoints(ctx, ownerID, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read points")
	}
	total := current + delta
	if err := s.repo.SetPoints(ctx, ownerID, id, total); err != nil {
		if err == sql.ErrNoRows {
			return 0, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to write points")
	}
	s.notify(ctx, ownerID)
	return total, nil
}

// Subscribe registers fn for every change in the owner's collection and
// immediately delivers the current snapshot. The returned func
// unregisters the listener; views must call it on teardown.
func (s *DirectoryService) Subscribe(ctx context.Context, ownerID string, fn SnapshotFunc) (func(), error) {
	students, err := s.repo.List(ctx, ownerID, models.StudentFilter{})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load snapshot")
	}

	s.mu.Lock()
	s.nextToken++
	token := s.nextToken
	if s.listeners[ownerID] == nil {
		s.listeners[ownerID] = make(map[int]SnapshotFunc)
	}
	s.listeners[ownerID][token] = fn
	s.mu.Unlock()

	fn(students)

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners[ownerID], token)
		if len(s.listeners[ownerID]) == 0 {
			delete(s.listeners, ownerID)
		}
	}, nil
}

// notify reloads the owner's ordered collection and invokes every
// listener synchronously. Mutations already committed; a failed reload
// only costs subscribers one refresh, so it is logged and swallowed.
func (s *DirectoryService) notify(ctx context.Context, ownerID string) {
	if s.onChange != nil {
		s.onChange(ctx, ownerID)
	}

	s.mu.Lock()
	fns := make([]SnapshotFunc, 0, len(s.listeners[ownerID]))
	for _, fn := range s.listeners[ownerID] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	if len(fns) == 0 {
		return
	}

	students, err := s.repo.List(ctx, ownerID, models.StudentFilter{})
	if err != nil {
		s.logger.Warn("snapshot reload failed", zap.String("owner_id", ownerID), zap.Error(err))
		return
	}
	for _, fn := range fns {
		fn(students)
	}
}
