package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/dance-school-api/internal/models"
	appErrors "github.com/noah-isme/dance-school-api/pkg/errors"
)

func TestStudentServiceCreateNormalisesTaxID(t *testing.T) {
	repo := newFakeStudentRepo()
	svc := NewStudentService(repo, nil, zap.NewNop())

	student, err := svc.Create(context.Background(), CreateStudentRequest{FullName: " Ana Lima ", TaxID: "123.456.789-09", Phone: "(11) 98888-7777"})
	require.NoError(t, err)
	assert.Equal(t, "12345678909", student.TaxID)
	assert.Equal(t, "Ana Lima", student.FullName)
	assert.Equal(t, "11988887777", student.Phone)
	assert.True(t, student.Active)
}

func TestStudentServiceCreateValidation(t *testing.T) {
	svc := NewStudentService(newFakeStudentRepo(), nil, nil)

	_, err := svc.Create(context.Background(), CreateStudentRequest{FullName: "Ana", TaxID: "123", Email: strPtr("nope")})
	appErr := appErrors.FromError(err)
	require.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Contains(t, appErr.Details, "tax_id: failed min")
	assert.Contains(t, appErr.Details, "email: failed email")
}

func TestStudentServiceCreateDuplicateTaxID(t *testing.T) {
	svc := NewStudentService(newFakeStudentRepo(testStudent()), nil, nil)

	_, err := svc.Create(context.Background(), CreateStudentRequest{FullName: "Other", TaxID: "12345678909"})
	assert.ErrorIs(t, err, appErrors.ErrConflict)
}

func TestStudentServiceUpdateLocksTaxIDAfterProvisioning(t *testing.T) {
	student := testStudent()
	student.GatewayCustomerID = strPtr("cus_1")
	svc := NewStudentService(newFakeStudentRepo(student), nil, nil)

	_, err := svc.Update(context.Background(), student.ID, UpdateStudentRequest{FullName: "Ana", TaxID: "98765432100"})
	assert.ErrorIs(t, err, appErrors.ErrPreconditionFailed)

	updated, err := svc.Update(context.Background(), student.ID, UpdateStudentRequest{FullName: "Ana Maria", TaxID: "12345678909", Active: boolPtr(false)})
	require.NoError(t, err)
	assert.Equal(t, "Ana Maria", updated.FullName)
	assert.False(t, updated.Active)
}

func TestStudentServiceDeactivate(t *testing.T) {
	repo := newFakeStudentRepo(testStudent())
	svc := NewStudentService(repo, nil, nil)

	require.NoError(t, svc.Deactivate(context.Background(), studentUUID))
	assert.Equal(t, []string{studentUUID}, repo.deactivated)
	assert.ErrorIs(t, svc.Deactivate(context.Background(), "missing"), appErrors.ErrNotFound)
}

func TestStudentServiceList(t *testing.T) {
	svc := NewStudentService(newFakeStudentRepo(testStudent()), nil, nil)

	students, pagination, err := svc.List(context.Background(), models.StudentFilter{Page: 0, PageSize: 500})
	require.NoError(t, err)
	assert.Len(t, students, 1)
	assert.Equal(t, 1, pagination.Page)
	assert.Equal(t, 20, pagination.PageSize)
}
