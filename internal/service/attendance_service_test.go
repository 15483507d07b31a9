package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/dance-school-api/internal/models"
	appErrors "github.com/noah-isme/dance-school-api/pkg/errors"
)

const (
	activeEnrollmentID  = "1a2b3c4d-0000-4000-8000-000000000001"
	pendingEnrollmentID = "1a2b3c4d-0000-4000-8000-000000000002"
)

type fakeAttendanceRepo struct {
	upserted []models.Attendance
	bulk     []models.Attendance
	active   map[string]bool
	summary  models.AttendanceSummary
}

func (f *fakeAttendanceRepo) Upsert(ctx context.Context, record *models.Attendance) (*models.Attendance, error) {
	f.upserted = append(f.upserted, *record)
	stored := *record
	stored.ID = "att-1"
	return &stored, nil
}

func (f *fakeAttendanceRepo) BulkUpsert(ctx context.Context, records []models.Attendance) error {
	f.bulk = append(f.bulk, records...)
	return nil
}

func (f *fakeAttendanceRepo) ActiveEnrollmentIDs(ctx context.Context, classID string, ids []string) (map[string]bool, error) {
	out := map[string]bool{}
	for _, id := range ids {
		if f.active[id] {
			out[id] = true
		}
	}
	return out, nil
}

func (f *fakeAttendanceRepo) ClassReport(ctx context.Context, classID string, date time.Time) ([]models.AttendanceReportRow, error) {
	return []models.AttendanceReportRow{{EnrollmentID: activeEnrollmentID, StudentName: "Ana Lima"}}, nil
}

func (f *fakeAttendanceRepo) StudentSummary(ctx context.Context, studentID, classID string, from, to *time.Time) (*models.AttendanceSummary, error) {
	summary := f.summary
	return &summary, nil
}

func newAttendanceServiceForTest(repo *fakeAttendanceRepo) *AttendanceService {
	enrollments := &fakeEnrollmentRepo{}
	enrollments.insert(models.Enrollment{ID: activeEnrollmentID, StudentID: studentUUID, ClassID: classUUID, Active: true, Status: models.EnrollmentStatusActive})
	enrollments.insert(models.Enrollment{ID: pendingEnrollmentID, StudentID: "other", ClassID: classUUID, Status: models.EnrollmentStatusPending})
	svc := NewAttendanceService(repo, enrollments, nil, nil)
	svc.now = func() time.Time { return time.Date(2024, 3, 11, 20, 0, 0, 0, time.UTC) }
	return svc
}

func TestAttendanceServiceMark(t *testing.T) {
	repo := &fakeAttendanceRepo{}
	svc := newAttendanceServiceForTest(repo)
	teacher := "teacher-1"

	stored, err := svc.Mark(context.Background(), MarkAttendanceRequest{EnrollmentID: activeEnrollmentID, Date: "2024-03-11", Status: "present"}, &teacher)
	require.NoError(t, err)
	assert.Equal(t, "att-1", stored.ID)
	assert.Equal(t, models.AttendanceStatusPresent, stored.Status)
	assert.Equal(t, time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), stored.Date)
	assert.Equal(t, &teacher, stored.RecordedBy)
}

func TestAttendanceServiceMarkRejections(t *testing.T) {
	svc := newAttendanceServiceForTest(&fakeAttendanceRepo{})

	_, err := svc.Mark(context.Background(), MarkAttendanceRequest{EnrollmentID: pendingEnrollmentID, Date: "2024-03-11", Status: "present"}, nil)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)

	_, err = svc.Mark(context.Background(), MarkAttendanceRequest{EnrollmentID: activeEnrollmentID, Date: "2024-03-12", Status: "present"}, nil)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.Mark(context.Background(), MarkAttendanceRequest{EnrollmentID: activeEnrollmentID, Date: "2024-03-11", Status: "late"}, nil)
	require.Error(t, err)
	assert.Contains(t, appErrors.FromError(err).Details, "status: failed oneof")

	_, err = svc.Mark(context.Background(), MarkAttendanceRequest{EnrollmentID: studentUUID, Date: "2024-03-11", Status: "absent"}, nil)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestAttendanceServiceBulkMark(t *testing.T) {
	repo := &fakeAttendanceRepo{active: map[string]bool{activeEnrollmentID: true}}
	svc := newAttendanceServiceForTest(repo)

	result, err := svc.BulkMark(context.Background(), BulkMarkAttendanceRequest{
		ClassID: classUUID,
		Date:    "2024-03-11",
		Items: []BulkAttendanceItem{
			{EnrollmentID: activeEnrollmentID, Status: "present"},
			{EnrollmentID: pendingEnrollmentID, Status: "absent"},
		},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.Success)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, pendingEnrollmentID, result.Conflicts[0].EnrollmentID)
	require.Len(t, repo.bulk, 1)
	assert.Equal(t, activeEnrollmentID, repo.bulk[0].EnrollmentID)
}

func TestAttendanceServiceBulkMarkDuplicate(t *testing.T) {
	svc := newAttendanceServiceForTest(&fakeAttendanceRepo{})
	_, err := svc.BulkMark(context.Background(), BulkMarkAttendanceRequest{
		ClassID: classUUID,
		Date:    "2024-03-11",
		Items: []BulkAttendanceItem{
			{EnrollmentID: activeEnrollmentID, Status: "present"},
			{EnrollmentID: activeEnrollmentID, Status: "absent"},
		},
	}, nil)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestAttendanceServiceStudentSummary(t *testing.T) {
	repo := &fakeAttendanceRepo{summary: models.AttendanceSummary{Present: 5, Absent: 2, Excused: 1, Total: 8}}
	svc := newAttendanceServiceForTest(repo)

	summary, err := svc.StudentSummary(context.Background(), studentUUID, "", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 75.0, summary.Percent)

	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, -1)
	_, err = svc.StudentSummary(context.Background(), studentUUID, "", &from, &to)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
