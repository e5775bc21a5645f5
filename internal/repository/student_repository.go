package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/al-shafii/registry-api/internal/models"
)

const studentColumns = `id, owner_id, full_name, gender, birth_date, age, age_group, level, guardian_name,
        phone1, phone2, address, registration_date, status, page_number, reminder_points, assigned_sheikh, note`

// StudentRepository manages persistence for student records. Every query
// is scoped to the owning user's partition of the collection.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// List returns the owner's students matching the filter, newest
// registration first.
func (r *StudentRepository) List(ctx context.Context, ownerID string, filter models.StudentFilter) ([]models.Student, error) {
	conditions := []string{"owner_id = $1"}
	args := []interface{}{ownerID}

	if len(filter.Levels) > 0 {
		placeholders := make([]string, len(filter.Levels))
		for i, level := range filter.Levels {
			args = append(args, level)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("level IN (%s)", strings.Join(placeholders, ", ")))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ", ")))
	}
	if filter.Gender != "" {
		args = append(args, filter.Gender)
		conditions = append(conditions, fmt.Sprintf("gender = $%d", len(args)))
	}
	if filter.Sheikh != "" {
		args = append(args, filter.Sheikh)
		conditions = append(conditions, fmt.Sprintf("assigned_sheikh = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		n := len(args)
		conditions = append(conditions, fmt.Sprintf(
			"(LOWER(full_name) LIKE $%d OR LOWER(guardian_name) LIKE $%d OR page_number::text LIKE $%d)", n, n, n))
	}

	query := fmt.Sprintf(`SELECT %s FROM students WHERE %s ORDER BY registration_date DESC`,
		studentColumns, strings.Join(conditions, " AND "))

	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	return students, nil
}

// ListByRegistrationRange returns the owner's students registered inside
// [from, to), newest first.
func (r *StudentRepository) ListByRegistrationRange(ctx context.Context, ownerID string, from, to time.Time) ([]models.Student, error) {
	query := fmt.Sprintf(`SELECT %s FROM students WHERE owner_id = $1 AND registration_date >= $2 AND registration_date < $3 ORDER BY registration_date DESC`, studentColumns)
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, ownerID, from, to); err != nil {
		return nil, fmt.Errorf("list students by registration range: %w", err)
	}
	return students, nil
}

// FindByID fetches a single record.
func (r *StudentRepository) FindByID(ctx context.Context, ownerID, id string) (*models.Student, error) {
	query := fmt.Sprintf(`SELECT %s FROM students WHERE owner_id = $1 AND id = $2`, studentColumns)
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, ownerID, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// FindByNameOrPhone looks up exactly one record: full-name match first,
// phone1 only when the name yields nothing.
func (r *StudentRepository) FindByNameOrPhone(ctx context.Context, ownerID, query string) (*models.Student, error) {
	byName := fmt.Sprintf(`SELECT %s FROM students WHERE owner_id = $1 AND full_name = $2 LIMIT 1`, studentColumns)
	var student models.Student
	err := r.db.GetContext(ctx, &student, byName, ownerID, query)
	if err == nil {
		return &student, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("find student by name: %w", err)
	}

	byPhone := fmt.Sprintf(`SELECT %s FROM students WHERE owner_id = $1 AND phone1 = $2 LIMIT 1`, studentColumns)
	if err := r.db.GetContext(ctx, &student, byPhone, ownerID, query); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find student by phone: %w", err)
	}
	return &student, nil
}

const insertStudent = `INSERT INTO students (id, owner_id, full_name, gender, birth_date, age, age_group, level, guardian_name,
        phone1, phone2, address, registration_date, status, page_number, reminder_points, assigned_sheikh, note)
        VALUES (:id, :owner_id, :full_name, :gender, :birth_date, :age, :age_group, :level, :guardian_name,
        :phone1, :phone2, :address, :registration_date, :status, :page_number, :reminder_points, :assigned_sheikh, :note)`

// Create inserts a new student record. A fresh id is assigned and the
// registration date stamped unless the record already carries one.
func (r *StudentRepository) Create(ctx context.Context, student *models.Student) error {
	prepareForInsert(student, time.Now().UTC())
	if _, err := r.db.NamedExecContext(ctx, insertStudent, student); err != nil {
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

// CreateMany inserts records in one transaction; either every record is
// stored or none, so subscribers never observe a partial import.
func (r *StudentRepository) CreateMany(ctx context.Context, students []models.Student) error {
	if len(students) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bulk insert: %w", err)
	}
	now := time.Now().UTC()
	for i := range students {
		prepareForInsert(&students[i], now)
		if _, err := tx.NamedExecContext(ctx, insertStudent, &students[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("bulk insert student %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bulk insert: %w", err)
	}
	return nil
}

// UpdateFields merges only the supplied fields into the record. Fields
// not present in the patch are untouched; an empty patch is a no-op that
// still verifies existence. Returns sql.ErrNoRows when the id is absent.
func (r *StudentRepository) UpdateFields(ctx context.Context, ownerID, id string, patch models.StudentPatch) error {
	set, args := patchAssignments(patch)
	if len(set) == 0 {
		var exists int
		err := r.db.GetContext(ctx, &exists, `SELECT 1 FROM students WHERE owner_id = $1 AND id = $2`, ownerID, id)
		if err == sql.ErrNoRows {
			return sql.ErrNoRows
		}
		if err != nil {
			return fmt.Errorf("check student: %w", err)
		}
		return nil
	}

	args = append(args, ownerID, id)
	query := fmt.Sprintf(`UPDATE students SET %s WHERE owner_id = $%d AND id = $%d`,
		strings.Join(set, ", "), len(args)-1, len(args))
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update student: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update student rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// BulkUpdateFields applies every patch in a single transaction. One
// missing id fails the whole batch; nothing is committed.
func (r *StudentRepository) BulkUpdateFields(ctx context.Context, ownerID string, patches []models.BulkPatch) error {
	if len(patches) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bulk update: %w", err)
	}
	for _, p := range patches {
		set, args := patchAssignments(p.Patch)
		if len(set) == 0 {
			continue
		}
		args = append(args, ownerID, p.ID)
		query := fmt.Sprintf(`UPDATE students SET %s WHERE owner_id = $%d AND id = $%d`,
			strings.Join(set, ", "), len(args)-1, len(args))
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("bulk update student %s: %w", p.ID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("bulk update rows for %s: %w", p.ID, err)
		}
		if affected == 0 {
			_ = tx.Rollback()
			return sql.ErrNoRows
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bulk update: %w", err)
	}
	return nil
}

// Delete permanently removes the record. There is no soft delete.
func (r *StudentRepository) Delete(ctx context.Context, ownerID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM students WHERE owner_id = $1 AND id = $2`, ownerID, id)
	if err != nil {
		return fmt.Errorf("delete student: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete student rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// GetPoints reads the current reminder-point total.
func (r *StudentRepository) GetPoints(ctx context.Context, ownerID, id string) (int, error) {
	var points int
	err := r.db.GetContext(ctx, &points, `SELECT reminder_points FROM students WHERE owner_id = $1 AND id = $2`, ownerID, id)
	if err == sql.ErrNoRows {
		return 0, sql.ErrNoRows
	}
	if err != nil {
		return 0, fmt.Errorf("get points: %w", err)
	}
	return points, nil
}

// SetPoints writes an absolute reminder-point total. Combined with
// GetPoints this is the two-round-trip path where concurrent increments
// can lose an update.
func (r *StudentRepository) SetPoints(ctx context.Context, ownerID, id string, points int) error {
	res, err := r.db.ExecContext(ctx, `UPDATE students SET reminder_points = $3 WHERE owner_id = $1 AND id = $2`, ownerID, id, points)
	if err != nil {
		return fmt.Errorf("set points: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set points rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// IncrementPoints is the store-native atomic increment, closing the
// read-modify-write race for callers that opt into it.
func (r *StudentRepository) IncrementPoints(ctx context.Context, ownerID, id string, delta int) (int, error) {
	var points int
	err := r.db.GetContext(ctx, &points,
		`UPDATE students SET reminder_points = reminder_points + $3 WHERE owner_id = $1 AND id = $2 RETURNING reminder_points`,
		ownerID, id, delta)
	if err == sql.ErrNoRows {
		return 0, sql.ErrNoRows
	}
	if err != nil {
		return 0, fmt.Errorf("increment points: %w", err)
	}
	return points, nil
}

func prepareForInsert(student *models.Student, now time.Time) {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	if student.RegistrationDate.IsZero() {
		student.RegistrationDate = now
	}
}

// patchAssignments renders the non-nil patch fields into SET clauses with
// positional args, preserving a fixed column order.
func patchAssignments(patch models.StudentPatch) ([]string, []interface{}) {
	var (
		set  []string
		args []interface{}
	)
	add := func(column string, value interface{}) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.FullName != nil {
		add("full_name", *patch.FullName)
	}
	if patch.Gender != nil {
		add("gender", *patch.Gender)
	}
	if patch.BirthDate != nil {
		add("birth_date", *patch.BirthDate)
	}
	if patch.Age != nil {
		add("age", *patch.Age)
	}
	if patch.AgeGroup != nil {
		add("age_group", *patch.AgeGroup)
	}
	if patch.Level != nil {
		add("level", *patch.Level)
	}
	if patch.GuardianName != nil {
		add("guardian_name", *patch.GuardianName)
	}
	if patch.Phone1 != nil {
		add("phone1", *patch.Phone1)
	}
	if patch.Phone2 != nil {
		add("phone2", *patch.Phone2)
	}
	if patch.Address != nil {
		add("address", *patch.Address)
	}
	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.PageNumber != nil {
		add("page_number", *patch.PageNumber)
	}
	if patch.AssignedSheikh != nil {
		add("assigned_sheikh", *patch.AssignedSheikh)
	}
	if patch.Note != nil {
		add("note", *patch.Note)
	}
	return set, args
}
