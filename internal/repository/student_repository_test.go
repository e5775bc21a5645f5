package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/al-shafii/registry-api/internal/models"
)

func newStudentMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func anyArgs(n int) []driver.Value {
	args := make([]driver.Value, n)
	for i := range args {
		args[i] = sqlmock.AnyArg()
	}
	return args
}

func studentRows(ids ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "owner_id", "full_name", "gender", "birth_date", "age", "age_group",
		"level", "guardian_name", "phone1", "phone2", "address", "registration_date", "status", "page_number",
		"reminder_points", "assigned_sheikh", "note"})
	for _, id := range ids {
		rows.AddRow(id, "owner", "محمد", "male", time.Now(), 10, "7-10", "خاتم", "أحمد",
			"0555", "", "الحي", time.Now(), "joined", 1, 0, "", "")
	}
	return rows
}

func TestStudentRepositoryListOrdersByRegistration(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery(`SELECT (.|\n)* FROM students WHERE owner_id = \$1 ORDER BY registration_date DESC`).
		WithArgs("owner").
		WillReturnRows(studentRows("1", "2"))

	students, err := repo.List(context.Background(), "owner", models.StudentFilter{})
	require.NoError(t, err)
	assert.Len(t, students, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery(`WHERE owner_id = \$1 AND level IN \(\$2, \$3\) AND status IN \(\$4\) AND gender = \$5(.|\n)*ORDER BY registration_date DESC`).
		WithArgs("owner", "خاتم", "جامعي", "joined", "male").
		WillReturnRows(studentRows("1"))

	students, err := repo.List(context.Background(), "owner", models.StudentFilter{
		Levels:   []string{"خاتم", "جامعي"},
		Statuses: []models.Status{models.StatusJoined},
		Gender:   models.GenderMale,
	})
	require.NoError(t, err)
	assert.Len(t, students, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryCreateStampsIDAndRegistration(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectExec("INSERT INTO students").
		WithArgs(anyArgs(18)...).
		WillReturnResult(sqlmock.NewResult(1, 1))

	student := &models.Student{OwnerID: "owner", FullName: "محمد", BirthDate: time.Now()}
	err := repo.Create(context.Background(), student)
	require.NoError(t, err)
	assert.NotEmpty(t, student.ID)
	assert.False(t, student.RegistrationDate.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryCreateManyRollsBackOnFailure(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO students").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO students").WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	students := []models.Student{
		{OwnerID: "owner", FullName: "أ", BirthDate: time.Now()},
		{OwnerID: "owner", FullName: "ب", BirthDate: time.Now()},
	}
	err := repo.CreateMany(context.Background(), students)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryUpdateFieldsNotFound(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectExec(`UPDATE students SET full_name = \$1 WHERE owner_id = \$2 AND id = \$3`).
		WithArgs("جديد", "owner", "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	name := "جديد"
	err := repo.UpdateFields(context.Background(), "owner", "missing", models.StudentPatch{FullName: &name})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryUpdateFieldsEmptyPatchChecksExistence(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery(`SELECT 1 FROM students WHERE owner_id = \$1 AND id = \$2`).
		WithArgs("owner", "s1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	err := repo.UpdateFields(context.Background(), "owner", "s1", models.StudentPatch{})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryBulkUpdateRollsBackOnMissingID(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE students SET status = \$1`).
		WithArgs("joined", "owner", "s1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE students SET status = \$1`).
		WithArgs("joined", "owner", "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	status := models.StatusJoined
	patches := []models.BulkPatch{
		{ID: "s1", Patch: models.StudentPatch{Status: &status}},
		{ID: "missing", Patch: models.StudentPatch{Status: &status}},
	}
	err := repo.BulkUpdateFields(context.Background(), "owner", patches)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryDeleteNotFound(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectExec(`DELETE FROM students WHERE owner_id = \$1 AND id = \$2`).
		WithArgs("owner", "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), "owner", "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryFindByNameOrPhoneFallsBackToPhone(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery(`WHERE owner_id = \$1 AND full_name = \$2 LIMIT 1`).
		WithArgs("owner", "0555").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`WHERE owner_id = \$1 AND phone1 = \$2 LIMIT 1`).
		WithArgs("owner", "0555").
		WillReturnRows(studentRows("s1"))

	student, err := repo.FindByNameOrPhone(context.Background(), "owner", "0555")
	require.NoError(t, err)
	assert.Equal(t, "s1", student.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryIncrementPointsReturnsNewTotal(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery(`UPDATE students SET reminder_points = reminder_points \+ \$3`).
		WithArgs("owner", "s1", 5).
		WillReturnRows(sqlmock.NewRows([]string{"reminder_points"}).AddRow(15))

	total, err := repo.IncrementPoints(context.Background(), "owner", "s1", 5)
	require.NoError(t, err)
	assert.Equal(t, 15, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}
