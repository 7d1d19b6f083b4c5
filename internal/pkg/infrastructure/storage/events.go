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

// InsertEventAndAudit persists an attendance event together with its
// audit row in one transaction. A unique violation on event_id rolls
// everything back and is reported as ErrAlreadyExists so that the
// caller can answer with a duplicate status.
func (s *Storage) InsertEventAndAudit(ctx context.Context, event types.AttendanceEvent, audit types.AuditRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	location, _ := json.Marshal(event.Location)
	scores, _ := json.Marshal(event.Scores)
	breakInfo, _ := json.Marshal(event.Break)

	_, err = tx.Exec(ctx, `
		INSERT INTO attendance_events (event_id, employee_id, event_type, ts, device_id, tenant, location, scores, break_info, consent_token, device_signature, raw_payload, status)
		VALUES (@event_id, @employee_id, @event_type, @ts, @device_id, @tenant, @location, @scores, @break_info, @consent_token, @device_signature, @raw_payload, @status)
	`, pgx.NamedArgs{
		"event_id":         event.EventID,
		"employee_id":      event.EmployeeID,
		"event_type":       event.EventType,
		"ts":               event.Timestamp.UTC(),
		"device_id":        event.DeviceID,
		"tenant":           event.Tenant,
		"location":         nullableJSON(event.Location, location),
		"scores":           nullableJSON(event.Scores, scores),
		"break_info":       nullableJSON(event.Break, breakInfo),
		"consent_token":    event.ConsentToken,
		"device_signature": event.DeviceSignature,
		"raw_payload":      event.RawPayload,
		"status":           event.Status,
	})
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return err
	}

	err = addAudit(ctx, tx, audit)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func nullableJSON(v any, marshalled []byte) any {
	switch t := v.(type) {
	case *types.Location:
		if t == nil {
			return nil
		}
	case *types.Scores:
		if t == nil {
			return nil
		}
	case *types.BreakInfo:
		if t == nil {
			return nil
		}
	}
	return string(marshalled)
}

func (s *Storage) GetEvent(ctx context.Context, conditions ...ConditionFunc) (types.AttendanceEvent, error) {
	condition := newCondition(conditions...)

	query := fmt.Sprintf(`
		SELECT event_id, employee_id, event_type, ts, device_id, tenant, location, scores, break_info, consent_token, device_signature, raw_payload, status, received_at
		FROM attendance_events
		WHERE %s
	`, condition.Where())

	row := s.pool.QueryRow(ctx, query, condition.NamedArgs())

	event, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.AttendanceEvent{}, ErrNoRows
		}
		return types.AttendanceEvent{}, err
	}

	return event, nil
}

func (s *Storage) QueryEvents(ctx context.Context, conditions ...ConditionFunc) (types.Collection[types.AttendanceEvent], error) {
	condition := newCondition(conditions...)

	query := fmt.Sprintf(`
		SELECT event_id, employee_id, event_type, ts, device_id, tenant, location, scores, break_info, consent_token, device_signature, raw_payload, status, received_at, count(*) OVER () AS total
		FROM attendance_events
		WHERE %s
		ORDER BY %s %s
		%s
	`, condition.Where(), condition.SortBy("ts"), condition.SortOrder(), condition.OffsetLimit())

	rows, err := s.pool.Query(ctx, query, condition.NamedArgs())
	if err != nil {
		return types.Collection[types.AttendanceEvent]{}, err
	}
	defer rows.Close()

	events := make([]types.AttendanceEvent, 0)
	var total int64

	for rows.Next() {
		event, t, err := scanEventWithTotal(rows)
		if err != nil {
			return types.Collection[types.AttendanceEvent]{}, err
		}
		total = t
		events = append(events, event)
	}
	if rows.Err() != nil {
		return types.Collection[types.AttendanceEvent]{}, rows.Err()
	}

	return types.Collection[types.AttendanceEvent]{
		Data:       events,
		Count:      uint64(len(events)),
		Offset:     uint64(condition.Offset()),
		Limit:      uint64(condition.Limit()),
		TotalCount: uint64(total),
	}, nil
}

// CountEventsByType aggregates event counts per event type for a
// tenant within a time range, for the summary report.
func (s *Storage) CountEventsByType(ctx context.Context, tenant string, from, to time.Time) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT event_type, count(*)
		FROM attendance_events
		WHERE tenant = @tenant AND ts >= @from AND ts <= @to AND status = 'processed'
		GROUP BY event_type
	`, pgx.NamedArgs{
		"tenant": tenant,
		"from":   from.UTC(),
		"to":     to.UTC(),
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int64{}

	for rows.Next() {
		var eventType string
		var count int64
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, err
		}
		counts[eventType] = count
	}

	return counts, rows.Err()
}

func scanEvent(row deviceRow) (types.AttendanceEvent, error) {
	var event types.AttendanceEvent
	var location, scores, breakInfo []byte
	var consentToken, deviceSignature *string

	err := row.Scan(&event.EventID, &event.EmployeeID, &event.EventType, &event.Timestamp, &event.DeviceID, &event.Tenant,
		&location, &scores, &breakInfo, &consentToken, &deviceSignature, &event.RawPayload, &event.Status, &event.ReceivedAt)
	if err != nil {
		return types.AttendanceEvent{}, err
	}

	unmarshalEventDetails(&event, location, scores, breakInfo, consentToken, deviceSignature)

	return event, nil
}

func scanEventWithTotal(rows pgx.Rows) (types.AttendanceEvent, int64, error) {
	var event types.AttendanceEvent
	var location, scores, breakInfo []byte
	var consentToken, deviceSignature *string
	var total int64

	err := rows.Scan(&event.EventID, &event.EmployeeID, &event.EventType, &event.Timestamp, &event.DeviceID, &event.Tenant,
		&location, &scores, &breakInfo, &consentToken, &deviceSignature, &event.RawPayload, &event.Status, &event.ReceivedAt, &total)
	if err != nil {
		return types.AttendanceEvent{}, 0, err
	}

	unmarshalEventDetails(&event, location, scores, breakInfo, consentToken, deviceSignature)

	return event, total, nil
}

func unmarshalEventDetails(event *types.AttendanceEvent, location, scores, breakInfo []byte, consentToken, deviceSignature *string) {
	if len(location) > 0 {
		event.Location = &types.Location{}
		json.Unmarshal(location, event.Location)
	}
	if len(scores) > 0 {
		event.Scores = &types.Scores{}
		json.Unmarshal(scores, event.Scores)
	}
	if len(breakInfo) > 0 {
		event.Break = &types.BreakInfo{}
		json.Unmarshal(breakInfo, event.Break)
	}
	if consentToken != nil {
		event.ConsentToken = *consentToken
	}
	if deviceSignature != nil {
		event.DeviceSignature = *deviceSignature
	}
}
