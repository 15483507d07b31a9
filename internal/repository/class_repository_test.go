package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/dance-school-api/internal/models"
)

var classDetailCols = []string{"id", "name", "modality", "level", "weekdays", "start_time", "end_time", "capacity",
	"monthly_price", "enrollment_fee", "teacher_id", "active", "created_at", "updated_at", "teacher_name", "current_students"}

func TestClassRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewClassRepository(db)

	now := time.Now()
	active := true
	mock.ExpectQuery(regexp.QuoteMeta("WHERE 1=1 AND LOWER(c.modality) = LOWER($1) AND $2 = ANY(c.weekdays) AND c.active = $3 ORDER BY c.start_time ASC LIMIT 10 OFFSET 10")).
		WithArgs("ballet", "mon", true).
		WillReturnRows(sqlmock.NewRows(classDetailCols).
			AddRow("class-1", "Ballet I", "ballet", "beginner", "{mon,wed}", "18:00", "19:00", 12, "150.00", "50.00", nil, true, now, now, nil, 4))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM classes c WHERE 1=1 AND")).
		WithArgs("ballet", "mon", true).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(11))

	classes, total, err := repo.List(context.Background(), models.ClassFilter{
		Modality: "ballet", Weekday: "mon", Active: &active, Page: 2, PageSize: 10, SortBy: "start_time",
	})
	require.NoError(t, err)
	assert.Equal(t, 11, total)
	require.Len(t, classes, 1)
	assert.Equal(t, []string{"mon", "wed"}, []string(classes[0].Weekdays))
	assert.Equal(t, "150", classes[0].MonthlyPrice.String())
	assert.Equal(t, 8, classes[0].SeatsLeft())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClassRepositoryFindByIDNotFound(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewClassRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM classes c WHERE c.id = $1")).WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClassRepositoryCountCurrentEnrollments(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewClassRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM enrollments WHERE class_id = $1 AND status IN ('pending', 'active')")).
		WithArgs("class-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := repo.CountCurrentEnrollments(context.Background(), "class-1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClassRepositoryDeactivate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewClassRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE classes SET active = FALSE")).
		WithArgs("class-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Deactivate(context.Background(), "class-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
