package employees

import (
	"context"
	"errors"
	"fmt"

	"github.com/toonwire/attendance-mgmt/internal/pkg/infrastructure/storage"
	"github.com/toonwire/attendance-mgmt/pkg/types"
)

var ErrEmployeeNotFound = fmt.Errorf("employee not found")
var ErrMissingFields = fmt.Errorf("missing required fields")

//go:generate moq -rm -out employeestorage_mock.go . EmployeeStorage
type EmployeeStorage interface {
	CreateOrUpdateEmployee(ctx context.Context, employee types.Employee) error
	GetEmployee(ctx context.Context, conditions ...storage.ConditionFunc) (types.Employee, error)
	QueryEmployees(ctx context.Context, conditions ...storage.ConditionFunc) (types.Collection[types.Employee], error)
	DeleteEmployee(ctx context.Context, employeeID, tenant string) error
}

type EmployeeRegistry interface {
	Enroll(ctx context.Context, employee types.Employee) (types.Employee, error)
	Update(ctx context.Context, employee types.Employee) (types.Employee, error)
	Get(ctx context.Context, employeeID string, tenants []string) (types.Employee, error)
	Query(ctx context.Context, conditions ...storage.ConditionFunc) (types.Collection[types.Employee], error)
	Delete(ctx context.Context, employeeID string, tenants []string) error
}

type registry struct {
	storage EmployeeStorage
}

func New(storage EmployeeStorage) EmployeeRegistry {
	return &registry{storage: storage}
}

func (r *registry) Enroll(ctx context.Context, employee types.Employee) (types.Employee, error) {
	if employee.EmployeeID == "" || employee.Tenant == "" || employee.Name == "" {
		return types.Employee{}, ErrMissingFields
	}

	employee.Active = true

	err := r.storage.CreateOrUpdateEmployee(ctx, employee)
	if err != nil {
		return types.Employee{}, err
	}

	return r.Get(ctx, employee.EmployeeID, []string{employee.Tenant})
}

// Update only touches an existing roster entry; an unknown id is an
// error rather than an implicit enroll.
func (r *registry) Update(ctx context.Context, employee types.Employee) (types.Employee, error) {
	existing, err := r.Get(ctx, employee.EmployeeID, []string{employee.Tenant})
	if err != nil {
		return types.Employee{}, err
	}

	if employee.Name == "" {
		employee.Name = existing.Name
	}
	if employee.Email == "" {
		employee.Email = existing.Email
	}
	if employee.ConsentToken == "" {
		employee.ConsentToken = existing.ConsentToken
	}
	employee.Active = existing.Active

	err = r.storage.CreateOrUpdateEmployee(ctx, employee)
	if err != nil {
		return types.Employee{}, err
	}

	return r.Get(ctx, employee.EmployeeID, []string{employee.Tenant})
}

func (r *registry) Get(ctx context.Context, employeeID string, tenants []string) (types.Employee, error) {
	employee, err := r.storage.GetEmployee(ctx, storage.WithEmployeeID(employeeID), storage.WithTenants(tenants))
	if err != nil {
		if errors.Is(err, storage.ErrNoRows) {
			return types.Employee{}, ErrEmployeeNotFound
		}
		return types.Employee{}, err
	}

	return employee, nil
}

func (r *registry) Query(ctx context.Context, conditions ...storage.ConditionFunc) (types.Collection[types.Employee], error) {
	return r.storage.QueryEmployees(ctx, conditions...)
}

func (r *registry) Delete(ctx context.Context, employeeID string, tenants []string) error {
	employee, err := r.Get(ctx, employeeID, tenants)
	if err != nil {
		return err
	}

	return r.storage.DeleteEmployee(ctx, employeeID, employee.Tenant)
}
