package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/dance-school-api/internal/gateway"
	"github.com/noah-isme/dance-school-api/internal/models"
	"github.com/noah-isme/dance-school-api/internal/repository"
)

const (
	studentUUID = "4f1c2b1e-8a4e-4a53-9d0b-6f1a2c3d4e5f"
	classUUID   = "9b2d7c3a-1e5f-4c6b-8a7d-0e1f2a3b4c5d"
)

func strPtr(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }

type fakeStudentRepo struct {
	mu            sync.Mutex
	students      map[string]models.Student
	taxIDs        map[string]string
	findCalls     int
	customerCalls int
	customerErr   error
	deactivated   []string
}

func newFakeStudentRepo(students ...models.Student) *fakeStudentRepo {
	repo := &fakeStudentRepo{students: map[string]models.Student{}, taxIDs: map[string]string{}}
	for _, s := range students {
		repo.students[s.ID] = s
		repo.taxIDs[s.TaxID] = s.ID
	}
	return repo
}

func (f *fakeStudentRepo) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Student, 0, len(f.students))
	for _, s := range f.students {
		out = append(out, s)
	}
	return out, len(out), nil
}

func (f *fakeStudentRepo) FindByID(ctx context.Context, id string) (*models.Student, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findCalls++
	s, ok := f.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &s, nil
}

func (f *fakeStudentRepo) ExistsByTaxID(ctx context.Context, taxID string, excludeID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.taxIDs[taxID]
	return ok && id != excludeID, nil
}

func (f *fakeStudentRepo) Create(ctx context.Context, student *models.Student) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if student.ID == "" {
		student.ID = fmt.Sprintf("stu-%d", len(f.students)+1)
	}
	f.students[student.ID] = *student
	f.taxIDs[student.TaxID] = student.ID
	return nil
}

func (f *fakeStudentRepo) Update(ctx context.Context, student *models.Student) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.students[student.ID]; !ok {
		return sql.ErrNoRows
	}
	f.students[student.ID] = *student
	return nil
}

func (f *fakeStudentRepo) UpdateGatewayCustomerID(ctx context.Context, id, customerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.customerCalls++
	if f.customerErr != nil {
		return f.customerErr
	}
	s, ok := f.students[id]
	if !ok {
		return sql.ErrNoRows
	}
	s.GatewayCustomerID = &customerID
	f.students[id] = s
	return nil
}

func (f *fakeStudentRepo) Deactivate(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.students[id]
	if !ok {
		return sql.ErrNoRows
	}
	s.Active = false
	f.students[id] = s
	f.deactivated = append(f.deactivated, id)
	return nil
}

type fakeClassRepo struct {
	mu        sync.Mutex
	classes   map[string]models.Class
	current   map[string]int
	byStudent map[string][]models.Class
	findCalls int
	listCalls int
	updated   []models.Class
}

func newFakeClassRepo(classes ...models.Class) *fakeClassRepo {
	repo := &fakeClassRepo{classes: map[string]models.Class{}, current: map[string]int{}, byStudent: map[string][]models.Class{}}
	for _, c := range classes {
		repo.classes[c.ID] = c
	}
	return repo
}

func (f *fakeClassRepo) List(ctx context.Context, filter models.ClassFilter) ([]models.ClassDetail, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	out := make([]models.ClassDetail, 0, len(f.classes))
	for _, c := range f.classes {
		out = append(out, models.ClassDetail{Class: c, CurrentStudents: f.current[c.ID]})
	}
	return out, len(out), nil
}

func (f *fakeClassRepo) FindByID(ctx context.Context, id string) (*models.Class, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findCalls++
	c, ok := f.classes[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &c, nil
}

func (f *fakeClassRepo) FindDetailByID(ctx context.Context, id string) (*models.ClassDetail, error) {
	c, err := f.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return &models.ClassDetail{Class: *c, CurrentStudents: f.current[id]}, nil
}

func (f *fakeClassRepo) CountCurrentEnrollments(ctx context.Context, classID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current[classID], nil
}

func (f *fakeClassRepo) ListCurrentForStudent(ctx context.Context, studentID string) ([]models.Class, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byStudent[studentID], nil
}

func (f *fakeClassRepo) Create(ctx context.Context, class *models.Class) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if class.ID == "" {
		class.ID = fmt.Sprintf("class-%d", len(f.classes)+1)
	}
	f.classes[class.ID] = *class
	return nil
}

func (f *fakeClassRepo) Update(ctx context.Context, class *models.Class) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.classes[class.ID]; !ok {
		return sql.ErrNoRows
	}
	f.classes[class.ID] = *class
	f.updated = append(f.updated, *class)
	return nil
}

func (f *fakeClassRepo) Deactivate(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.classes[id]
	if !ok {
		return sql.ErrNoRows
	}
	c.Active = false
	f.classes[id] = c
	return nil
}

type fakeEnrollmentRepo struct {
	mu          sync.Mutex
	rows        []models.Enrollment
	latestCalls int
	createCalls int
	createErr   error
	// beforeCreate runs inside Create before the row is stored; returning an error aborts the insert.
	beforeCreate func(f *fakeEnrollmentRepo, e *models.Enrollment) error
	payments     []models.Payment
	// ledger receives activation payments when set; activateErr fails ActivateWithPayment without writing.
	ledger      *fakePaymentRepo
	activateErr error
}

func (f *fakeEnrollmentRepo) insert(e models.Enrollment) {
	if e.ID == "" {
		e.ID = fmt.Sprintf("enr-%d", len(f.rows)+1)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().Add(time.Duration(len(f.rows)) * time.Millisecond)
	}
	f.rows = append(f.rows, e)
}

func (f *fakeEnrollmentRepo) FindLatestByStudentAndClass(ctx context.Context, studentID, classID string) (*models.Enrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latestCalls++
	var latest *models.Enrollment
	for i := range f.rows {
		e := f.rows[i]
		if e.StudentID != studentID || e.ClassID != classID {
			continue
		}
		switch {
		case latest == nil,
			e.IsCurrent() && !latest.IsCurrent(),
			e.IsCurrent() == latest.IsCurrent() && e.CreatedAt.After(latest.CreatedAt):
			row := e
			latest = &row
		}
	}
	if latest == nil {
		return nil, sql.ErrNoRows
	}
	return latest, nil
}

func (f *fakeEnrollmentRepo) hasCurrent(studentID, classID string) bool {
	for _, e := range f.rows {
		if e.StudentID == studentID && e.ClassID == classID && e.IsCurrent() {
			return true
		}
	}
	return false
}

func (f *fakeEnrollmentRepo) Create(ctx context.Context, e *models.Enrollment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.beforeCreate != nil {
		if err := f.beforeCreate(f, e); err != nil {
			return err
		}
	}
	if f.createErr != nil {
		return f.createErr
	}
	if f.hasCurrent(e.StudentID, e.ClassID) {
		return repository.ErrDuplicateEnrollment
	}
	if e.ID == "" {
		e.ID = fmt.Sprintf("enr-%d", len(f.rows)+1)
	}
	e.CreatedAt = time.Now().Add(time.Duration(len(f.rows)) * time.Millisecond)
	f.rows = append(f.rows, *e)
	return nil
}

func (f *fakeEnrollmentRepo) CreateWithPayment(ctx context.Context, e *models.Enrollment, p *models.Payment) error {
	if err := f.Create(ctx, e); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p.EnrollmentID = &e.ID
	if p.ID == "" {
		p.ID = fmt.Sprintf("pay-%d", len(f.payments)+1)
	}
	f.payments = append(f.payments, *p)
	return nil
}

func (f *fakeEnrollmentRepo) find(id string) int {
	for i := range f.rows {
		if f.rows[i].ID == id {
			return i
		}
	}
	return -1
}

func (f *fakeEnrollmentRepo) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i := f.find(id); i >= 0 {
		e := f.rows[i]
		return &e, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeEnrollmentRepo) findBy(match func(e models.Enrollment) bool) (*models.Enrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.rows {
		if match(e) {
			row := e
			return &row, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeEnrollmentRepo) FindByCheckoutID(ctx context.Context, checkoutID string) (*models.Enrollment, error) {
	return f.findBy(func(e models.Enrollment) bool { return e.CheckoutID != nil && *e.CheckoutID == checkoutID })
}

func (f *fakeEnrollmentRepo) FindByCheckoutToken(ctx context.Context, token string) (*models.Enrollment, error) {
	return f.findBy(func(e models.Enrollment) bool { return e.CheckoutToken != nil && *e.CheckoutToken == token })
}

func (f *fakeEnrollmentRepo) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	e, err := f.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.EnrollmentDetail{Enrollment: *e}, nil
}

func (f *fakeEnrollmentRepo) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.EnrollmentDetail
	for _, e := range f.rows {
		if filter.StudentID != "" && e.StudentID != filter.StudentID {
			continue
		}
		out = append(out, models.EnrollmentDetail{Enrollment: e})
	}
	return out, len(out), nil
}

func (f *fakeEnrollmentRepo) Roster(ctx context.Context, classID string) ([]models.EnrollmentDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.EnrollmentDetail
	for _, e := range f.rows {
		if e.ClassID == classID && e.IsCurrent() {
			out = append(out, models.EnrollmentDetail{Enrollment: e})
		}
	}
	return out, nil
}

func (f *fakeEnrollmentRepo) Activate(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.find(id)
	if i < 0 || f.rows[i].Status == models.EnrollmentStatusCancelled {
		return sql.ErrNoRows
	}
	f.rows[i].Active = true
	f.rows[i].Status = models.EnrollmentStatusActive
	return nil
}

func (f *fakeEnrollmentRepo) ActivateWithPayment(ctx context.Context, id string, p *models.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.activateErr != nil {
		return f.activateErr
	}
	i := f.find(id)
	if i < 0 || f.rows[i].Status != models.EnrollmentStatusPending {
		return sql.ErrNoRows
	}
	p.EnrollmentID = &f.rows[i].ID
	if f.ledger != nil {
		if err := f.ledger.Create(ctx, p); err != nil {
			return err
		}
	} else {
		if p.ID == "" {
			p.ID = fmt.Sprintf("pay-%d", len(f.payments)+1)
		}
		f.payments = append(f.payments, *p)
	}
	f.rows[i].Active = true
	f.rows[i].Status = models.EnrollmentStatusActive
	return nil
}

func (f *fakeEnrollmentRepo) UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.find(id)
	if i < 0 {
		return sql.ErrNoRows
	}
	if status != models.EnrollmentStatusCancelled {
		for j, e := range f.rows {
			if j != i && e.StudentID == f.rows[i].StudentID && e.ClassID == f.rows[i].ClassID && e.IsCurrent() {
				return repository.ErrDuplicateEnrollment
			}
		}
	}
	f.rows[i].Status = status
	f.rows[i].Active = status == models.EnrollmentStatusActive
	return nil
}

type fakeCustomerProvisioner struct {
	mu    sync.Mutex
	calls int
	id    string
	err   error
}

func (f *fakeCustomerProvisioner) EnsureCustomer(ctx context.Context, studentID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.id, f.err
}

type fakeGateway struct {
	mu                  sync.Mutex
	checkoutCalls       int
	findCustomerCalls   int
	createCustomerCalls int
	lastCheckout        gateway.CreateCheckoutRequest
	lastCustomer        gateway.CreateCustomerRequest
	session             *gateway.CheckoutSession
	checkoutErr         error
	existing            *gateway.Customer
	customerErr         error
}

func (f *fakeGateway) CreateCheckout(ctx context.Context, req gateway.CreateCheckoutRequest) (*gateway.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkoutCalls++
	f.lastCheckout = req
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.checkoutErr != nil {
		return nil, f.checkoutErr
	}
	if f.session != nil {
		return f.session, nil
	}
	id := fmt.Sprintf("chk_%d", f.checkoutCalls)
	return &gateway.CheckoutSession{ID: id, Link: "https://pay.example/c/" + id}, nil
}

func (f *fakeGateway) FindCustomerByTaxID(ctx context.Context, taxID string) (*gateway.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findCustomerCalls++
	if f.customerErr != nil {
		return nil, f.customerErr
	}
	return f.existing, nil
}

func (f *fakeGateway) CreateCustomer(ctx context.Context, req gateway.CreateCustomerRequest) (*gateway.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCustomerCalls++
	f.lastCustomer = req
	if f.customerErr != nil {
		return nil, f.customerErr
	}
	return &gateway.Customer{ID: "cus_new", Name: req.Name, CpfCnpj: req.CpfCnpj}, nil
}

func testStudent() models.Student {
	return models.Student{ID: studentUUID, FullName: "Ana Lima", TaxID: "12345678909", Active: true}
}

func testClass() models.Class {
	return models.Class{
		ID:            classUUID,
		Name:          "Ballet I",
		Modality:      "ballet",
		Level:         "beginner",
		Weekdays:      []string{"mon", "wed"},
		StartTime:     "18:00",
		EndTime:       "19:00",
		Capacity:      10,
		MonthlyPrice:  decimal.RequireFromString("150.00"),
		EnrollmentFee: decimal.RequireFromString("50.00"),
		Active:        true,
	}
}
