package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/toonwire/attendance-mgmt/pkg/types"
)

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// AddAudit appends one audit row. The audit log is append-only.
func (s *Storage) AddAudit(ctx context.Context, audit types.AuditRecord) error {
	return addAudit(ctx, s.pool, audit)
}

func addAudit(ctx context.Context, db execer, audit types.AuditRecord) error {
	_, err := db.Exec(ctx, `
		INSERT INTO audit_log (audit_id, device_id, tenant, endpoint, payload, response, status)
		VALUES (@audit_id, @device_id, @tenant, @endpoint, @payload, @response, @status)
	`, pgx.NamedArgs{
		"audit_id":  audit.AuditID,
		"device_id": nilIfEmpty(audit.DeviceID),
		"tenant":    nilIfEmpty(audit.Tenant),
		"endpoint":  audit.Endpoint,
		"payload":   audit.Payload,
		"response":  audit.Response,
		"status":    audit.Status,
	})
	return err
}

func (s *Storage) QueryAudit(ctx context.Context, conditions ...ConditionFunc) (types.Collection[types.AuditRecord], error) {
	condition := newCondition(conditions...)

	query := fmt.Sprintf(`
		SELECT audit_id, device_id, tenant, endpoint, payload, response, status, created_on, count(*) OVER () AS total
		FROM audit_log
		WHERE %s
		ORDER BY created_on DESC
		%s
	`, condition.Where(), condition.OffsetLimit())

	rows, err := s.pool.Query(ctx, query, condition.NamedArgs())
	if err != nil {
		return types.Collection[types.AuditRecord]{}, err
	}
	defer rows.Close()

	records := make([]types.AuditRecord, 0)
	var total int64

	for rows.Next() {
		var record types.AuditRecord
		var deviceID, tenant *string

		err := rows.Scan(&record.AuditID, &deviceID, &tenant, &record.Endpoint, &record.Payload, &record.Response, &record.Status, &record.CreatedAt, &total)
		if err != nil {
			return types.Collection[types.AuditRecord]{}, err
		}

		if deviceID != nil {
			record.DeviceID = *deviceID
		}
		if tenant != nil {
			record.Tenant = *tenant
		}

		records = append(records, record)
	}
	if rows.Err() != nil {
		return types.Collection[types.AuditRecord]{}, rows.Err()
	}

	return types.Collection[types.AuditRecord]{
		Data:       records,
		Count:      uint64(len(records)),
		Offset:     uint64(condition.Offset()),
		Limit:      uint64(condition.Limit()),
		TotalCount: uint64(total),
	}, nil
}
