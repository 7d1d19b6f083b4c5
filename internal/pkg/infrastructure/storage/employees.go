package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/toonwire/attendance-mgmt/pkg/types"
)

func (s *Storage) CreateOrUpdateEmployee(ctx context.Context, employee types.Employee) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO employees (employee_id, tenant, name, email, active, consent_token)
		VALUES (@employee_id, @tenant, @name, @email, @active, @consent_token)
		ON CONFLICT (employee_id, tenant) DO UPDATE
		SET name = @name, email = @email, active = @active, consent_token = @consent_token,
			deleted = FALSE, deleted_on = NULL
	`, pgx.NamedArgs{
		"employee_id":   employee.EmployeeID,
		"tenant":        employee.Tenant,
		"name":          employee.Name,
		"email":         nilIfEmpty(employee.Email),
		"active":        employee.Active,
		"consent_token": nilIfEmpty(employee.ConsentToken),
	})
	return err
}

func (s *Storage) GetEmployee(ctx context.Context, conditions ...ConditionFunc) (types.Employee, error) {
	condition := newCondition(conditions...)

	query := fmt.Sprintf(`
		SELECT employee_id, tenant, name, email, active, consent_token, created_on
		FROM employees
		WHERE deleted = FALSE AND %s
	`, condition.Where())

	row := s.pool.QueryRow(ctx, query, condition.NamedArgs())

	employee, err := scanEmployee(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.Employee{}, ErrNoRows
		}
		return types.Employee{}, err
	}

	return employee, nil
}

func (s *Storage) QueryEmployees(ctx context.Context, conditions ...ConditionFunc) (types.Collection[types.Employee], error) {
	condition := newCondition(conditions...)

	query := fmt.Sprintf(`
		SELECT employee_id, tenant, name, email, active, consent_token, created_on, count(*) OVER () AS total
		FROM employees
		WHERE deleted = FALSE AND %s
		ORDER BY %s %s
		%s
	`, condition.Where(), condition.SortBy("employee_id"), condition.SortOrder(), condition.OffsetLimit())

	rows, err := s.pool.Query(ctx, query, condition.NamedArgs())
	if err != nil {
		return types.Collection[types.Employee]{}, err
	}
	defer rows.Close()

	employees := make([]types.Employee, 0)
	var total int64

	for rows.Next() {
		var employee types.Employee
		var email, consentToken *string

		err := rows.Scan(&employee.EmployeeID, &employee.Tenant, &employee.Name, &email, &employee.Active, &consentToken, &employee.CreatedAt, &total)
		if err != nil {
			return types.Collection[types.Employee]{}, err
		}

		if email != nil {
			employee.Email = *email
		}
		if consentToken != nil {
			employee.ConsentToken = *consentToken
		}

		employees = append(employees, employee)
	}
	if rows.Err() != nil {
		return types.Collection[types.Employee]{}, rows.Err()
	}

	return types.Collection[types.Employee]{
		Data:       employees,
		Count:      uint64(len(employees)),
		Offset:     uint64(condition.Offset()),
		Limit:      uint64(condition.Limit()),
		TotalCount: uint64(total),
	}, nil
}

// DeleteEmployee is a soft delete. Attendance history is retained.
func (s *Storage) DeleteEmployee(ctx context.Context, employeeID, tenant string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE employees
		SET deleted = TRUE, deleted_on = CURRENT_TIMESTAMP, active = FALSE
		WHERE employee_id = @employee_id AND tenant = @tenant AND deleted = FALSE
	`, pgx.NamedArgs{
		"employee_id": employeeID,
		"tenant":      tenant,
	})
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		return ErrNoRows
	}

	return nil
}

func scanEmployee(row deviceRow) (types.Employee, error) {
	var employee types.Employee
	var email, consentToken *string

	err := row.Scan(&employee.EmployeeID, &employee.Tenant, &employee.Name, &email, &employee.Active, &consentToken, &employee.CreatedAt)
	if err != nil {
		return types.Employee{}, err
	}

	if email != nil {
		employee.Email = *email
	}
	if consentToken != nil {
		employee.ConsentToken = *consentToken
	}

	return employee, nil
}
