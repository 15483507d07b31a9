package service

import (
	"context"
	"database/sql"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/dance-school-api/internal/gateway"
	"github.com/noah-isme/dance-school-api/internal/models"
	appErrors "github.com/noah-isme/dance-school-api/pkg/errors"
)

type customerStudentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	UpdateGatewayCustomerID(ctx context.Context, id, customerID string) error
}

type customerGateway interface {
	FindCustomerByTaxID(ctx context.Context, taxID string) (*gateway.Customer, error)
	CreateCustomer(ctx context.Context, req gateway.CreateCustomerRequest) (*gateway.Customer, error)
}

// CustomerService provisions gateway customers for students. It is idempotent by tax id:
// an existing gateway customer with the student's tax id is adopted instead of creating
// a second one.
type CustomerService struct {
	students customerStudentRepository
	gateway  customerGateway
	logger   *zap.Logger
	group    singleflight.Group
}

// NewCustomerService constructs a CustomerService.
func NewCustomerService(students customerStudentRepository, gw customerGateway, logger *zap.Logger) *CustomerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CustomerService{students: students, gateway: gw, logger: logger}
}

// EnsureCustomer returns the student's gateway customer id, provisioning it when absent.
func (s *CustomerService) EnsureCustomer(ctx context.Context, studentID string) (string, error) {
	v, err, _ := s.group.Do(studentID, func() (interface{}, error) {
		return s.ensure(ctx, studentID)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *CustomerService) ensure(ctx context.Context, studentID string) (string, error) {
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return "", internalError(err, "customer: load student")
	}
	if student.HasGatewayCustomer() {
		return *student.GatewayCustomerID, nil
	}

	log := s.logger.With(zap.String("student_id", student.ID))

	customer, err := s.gateway.FindCustomerByTaxID(ctx, student.TaxID)
	if err != nil {
		return "", gatewayError("customer lookup", err)
	}
	if customer != nil {
		log.Info("adopting existing gateway customer", zap.String("customer_id", customer.ID))
	} else {
		req := gateway.CreateCustomerRequest{
			Name:              student.FullName,
			CpfCnpj:           student.TaxID,
			MobilePhone:       student.Phone,
			ExternalReference: student.ID,
		}
		if student.Email != nil {
			req.Email = *student.Email
		}
		customer, err = s.gateway.CreateCustomer(ctx, req)
		if err != nil {
			return "", gatewayError("customer creation", err)
		}
		log.Info("gateway customer created", zap.String("customer_id", customer.ID))
	}

	if err := s.students.UpdateGatewayCustomerID(ctx, student.ID, customer.ID); err != nil {
		log.Error("failed to persist gateway customer id", zap.String("customer_id", customer.ID), zap.Error(err))
		return "", appErrors.WithDetails(appErrors.ErrPersistence, "failed to save gateway customer", err)
	}
	return customer.ID, nil
}
