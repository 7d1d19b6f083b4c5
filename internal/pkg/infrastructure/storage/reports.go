package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/toonwire/attendance-mgmt/pkg/types"
)

func (s *Storage) InsertReport(ctx context.Context, report types.Report) error {
	params, _ := json.Marshal(report.Params)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO reports (report_id, tenant, kind, params, status)
		VALUES (@report_id, @tenant, @kind, @params, 'pending')
	`, pgx.NamedArgs{
		"report_id": report.ReportID,
		"tenant":    report.Tenant,
		"kind":      report.Kind,
		"params":    string(params),
	})
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return err
	}

	return nil
}

func (s *Storage) GetReport(ctx context.Context, conditions ...ConditionFunc) (types.Report, error) {
	condition := newCondition(conditions...)

	query := fmt.Sprintf(`
		SELECT report_id, tenant, kind, params, status, content_type, created_on, completed_on
		FROM reports
		WHERE %s
	`, condition.Where())

	row := s.pool.QueryRow(ctx, query, condition.NamedArgs())

	report, err := scanReport(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.Report{}, ErrNoRows
		}
		return types.Report{}, err
	}

	return report, nil
}

// GetReportContent returns the rendered report body. Only ready
// reports have content.
func (s *Storage) GetReportContent(ctx context.Context, reportID, tenant string) ([]byte, string, error) {
	var content []byte
	var contentType *string

	err := s.pool.QueryRow(ctx, `
		SELECT content, content_type
		FROM reports
		WHERE report_id = @report_id AND tenant = @tenant AND status = 'ready'
	`, pgx.NamedArgs{
		"report_id": reportID,
		"tenant":    tenant,
	}).Scan(&content, &contentType)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", ErrNoRows
		}
		return nil, "", err
	}

	ct := "application/octet-stream"
	if contentType != nil {
		ct = *contentType
	}

	return content, ct, nil
}

func (s *Storage) QueryReports(ctx context.Context, conditions ...ConditionFunc) (types.Collection[types.Report], error) {
	condition := newCondition(conditions...)

	query := fmt.Sprintf(`
		SELECT report_id, tenant, kind, params, status, content_type, created_on, completed_on, count(*) OVER () AS total
		FROM reports
		WHERE %s
		ORDER BY created_on DESC
		%s
	`, condition.Where(), condition.OffsetLimit())

	rows, err := s.pool.Query(ctx, query, condition.NamedArgs())
	if err != nil {
		return types.Collection[types.Report]{}, err
	}
	defer rows.Close()

	reports := make([]types.Report, 0)
	var total int64

	for rows.Next() {
		var report types.Report
		var params []byte
		var contentType *string

		err := rows.Scan(&report.ReportID, &report.Tenant, &report.Kind, &params, &report.Status, &contentType, &report.CreatedAt, &report.CompletedAt, &total)
		if err != nil {
			return types.Collection[types.Report]{}, err
		}

		if len(params) > 0 {
			json.Unmarshal(params, &report.Params)
		}
		if contentType != nil {
			report.ContentType = *contentType
		}

		reports = append(reports, report)
	}
	if rows.Err() != nil {
		return types.Collection[types.Report]{}, rows.Err()
	}

	return types.Collection[types.Report]{
		Data:       reports,
		Count:      uint64(len(reports)),
		Offset:     uint64(condition.Offset()),
		Limit:      uint64(condition.Limit()),
		TotalCount: uint64(total),
	}, nil
}

// CompleteReport stores the rendered content and marks the report
// ready.
func (s *Storage) CompleteReport(ctx context.Context, reportID string, content []byte, contentType string, completedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE reports
		SET status = 'ready', content = @content, content_type = @content_type, completed_on = @completed_on
		WHERE report_id = @report_id AND status = 'pending'
	`, pgx.NamedArgs{
		"report_id":    reportID,
		"content":      content,
		"content_type": contentType,
		"completed_on": completedAt.UTC(),
	})
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		return ErrNoRows
	}

	return nil
}

func (s *Storage) FailReport(ctx context.Context, reportID string, completedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE reports
		SET status = 'failed', completed_on = @completed_on
		WHERE report_id = @report_id AND status = 'pending'
	`, pgx.NamedArgs{
		"report_id":    reportID,
		"completed_on": completedAt.UTC(),
	})
	return err
}

func (s *Storage) DeleteReport(ctx context.Context, reportID, tenant string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM reports WHERE report_id = @report_id AND tenant = @tenant
	`, pgx.NamedArgs{
		"report_id": reportID,
		"tenant":    tenant,
	})
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		return ErrNoRows
	}

	return nil
}

func scanReport(row deviceRow) (types.Report, error) {
	var report types.Report
	var params []byte
	var contentType *string

	err := row.Scan(&report.ReportID, &report.Tenant, &report.Kind, &params, &report.Status, &contentType, &report.CreatedAt, &report.CompletedAt)
	if err != nil {
		return types.Report{}, err
	}

	if len(params) > 0 {
		json.Unmarshal(params, &report.Params)
	}
	if contentType != nil {
		report.ContentType = *contentType
	}

	return report, nil
}
