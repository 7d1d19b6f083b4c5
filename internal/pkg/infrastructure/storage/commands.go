package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/toonwire/attendance-mgmt/pkg/types"
)

func (s *Storage) InsertCommand(ctx context.Context, cmd types.Command) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO device_commands (command_id, device_id, tenant, name, payload, priority, issued_at, expires_at, server_signature, status)
		VALUES (@command_id, @device_id, @tenant, @name, @payload, @priority, @issued_at, @expires_at, @server_signature, 'pending')
	`, pgx.NamedArgs{
		"command_id":       cmd.CommandID,
		"device_id":        cmd.DeviceID,
		"tenant":           cmd.Tenant,
		"name":             cmd.Name,
		"payload":          cmd.Payload,
		"priority":         cmd.Priority,
		"issued_at":        cmd.IssuedAt.UTC(),
		"expires_at":       cmd.ExpiresAt.UTC(),
		"server_signature": cmd.ServerSignature,
	})
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return err
	}

	return nil
}

func (s *Storage) GetCommand(ctx context.Context, conditions ...ConditionFunc) (types.Command, error) {
	condition := newCondition(conditions...)

	query := fmt.Sprintf(`
		SELECT command_id, device_id, tenant, name, payload, priority, issued_at, expires_at, server_signature, status, completed_at, ack_status, ack_message, execution_time_ms, raw_ack
		FROM device_commands
		WHERE %s
	`, condition.Where())

	row := s.pool.QueryRow(ctx, query, condition.NamedArgs())

	cmd, err := scanCommand(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.Command{}, ErrNoRows
		}
		return types.Command{}, err
	}

	return cmd, nil
}

// PendingCommands returns the not yet expired pending commands for a
// device, highest priority first, then oldest first.
func (s *Storage) PendingCommands(ctx context.Context, deviceID string, now time.Time) ([]types.Command, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT command_id, device_id, tenant, name, payload, priority, issued_at, expires_at, server_signature, status, completed_at, ack_status, ack_message, execution_time_ms, raw_ack
		FROM device_commands
		WHERE device_id = @device_id AND status = 'pending' AND expires_at > @now
		ORDER BY priority DESC, issued_at ASC
	`, pgx.NamedArgs{
		"device_id": deviceID,
		"now":       now.UTC(),
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	commands := make([]types.Command, 0)

	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		commands = append(commands, cmd)
	}

	return commands, rows.Err()
}

func (s *Storage) QueryCommands(ctx context.Context, conditions ...ConditionFunc) (types.Collection[types.Command], error) {
	condition := newCondition(conditions...)

	query := fmt.Sprintf(`
		SELECT command_id, device_id, tenant, name, payload, priority, issued_at, expires_at, server_signature, status, completed_at, ack_status, ack_message, execution_time_ms, raw_ack, count(*) OVER () AS total
		FROM device_commands
		WHERE %s
		ORDER BY %s %s
		%s
	`, condition.Where(), condition.SortBy("issued_at"), condition.SortOrder(), condition.OffsetLimit())

	rows, err := s.pool.Query(ctx, query, condition.NamedArgs())
	if err != nil {
		return types.Collection[types.Command]{}, err
	}
	defer rows.Close()

	commands := make([]types.Command, 0)
	var total int64

	for rows.Next() {
		cmd, t, err := scanCommandWithTotal(rows)
		if err != nil {
			return types.Collection[types.Command]{}, err
		}
		total = t
		commands = append(commands, cmd)
	}
	if rows.Err() != nil {
		return types.Collection[types.Command]{}, rows.Err()
	}

	return types.Collection[types.Command]{
		Data:       commands,
		Count:      uint64(len(commands)),
		Offset:     uint64(condition.Offset()),
		Limit:      uint64(condition.Limit()),
		TotalCount: uint64(total),
	}, nil
}

// CompleteCommand records the acknowledgement for a pending command.
// The conditional update makes re-acknowledgement idempotent: a second
// ack for the same command matches no row and updated is false.
func (s *Storage) CompleteCommand(ctx context.Context, commandID, ackStatus, ackMessage string, executionTimeMS *int, rawAck string, completedAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE device_commands
		SET status = 'completed', completed_at = @completed_at, ack_status = @ack_status,
			ack_message = @ack_message, execution_time_ms = @execution_time_ms, raw_ack = @raw_ack
		WHERE command_id = @command_id AND status = 'pending'
	`, pgx.NamedArgs{
		"command_id":        commandID,
		"completed_at":      completedAt.UTC(),
		"ack_status":        ackStatus,
		"ack_message":       ackMessage,
		"execution_time_ms": executionTimeMS,
		"raw_ack":           rawAck,
	})
	if err != nil {
		return false, err
	}

	return tag.RowsAffected() > 0, nil
}

// ExpireCommands moves pending commands past their expiry to expired
// and returns the affected command ids.
func (s *Storage) ExpireCommands(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE device_commands
		SET status = 'expired'
		WHERE status = 'pending' AND expires_at <= @now
		RETURNING command_id
	`, pgx.NamedArgs{"now": now.UTC()})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0)

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// ExpirePendingCommandsForDevice expires every pending command for a
// device, used when the device is revoked.
func (s *Storage) ExpirePendingCommandsForDevice(ctx context.Context, deviceID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE device_commands
		SET status = 'expired'
		WHERE device_id = @device_id AND status = 'pending'
	`, pgx.NamedArgs{"device_id": deviceID})
	if err != nil {
		return 0, err
	}

	return tag.RowsAffected(), nil
}

func scanCommand(row deviceRow) (types.Command, error) {
	var cmd types.Command
	var payload, ackStatus, ackMessage, rawAck *string

	err := row.Scan(&cmd.CommandID, &cmd.DeviceID, &cmd.Tenant, &cmd.Name, &payload, &cmd.Priority,
		&cmd.IssuedAt, &cmd.ExpiresAt, &cmd.ServerSignature, &cmd.Status,
		&cmd.CompletedAt, &ackStatus, &ackMessage, &cmd.ExecutionTimeMS, &rawAck)
	if err != nil {
		return types.Command{}, err
	}

	assignCommandOptionals(&cmd, payload, ackStatus, ackMessage, rawAck)

	return cmd, nil
}

func scanCommandWithTotal(rows pgx.Rows) (types.Command, int64, error) {
	var cmd types.Command
	var payload, ackStatus, ackMessage, rawAck *string
	var total int64

	err := rows.Scan(&cmd.CommandID, &cmd.DeviceID, &cmd.Tenant, &cmd.Name, &payload, &cmd.Priority,
		&cmd.IssuedAt, &cmd.ExpiresAt, &cmd.ServerSignature, &cmd.Status,
		&cmd.CompletedAt, &ackStatus, &ackMessage, &cmd.ExecutionTimeMS, &rawAck, &total)
	if err != nil {
		return types.Command{}, 0, err
	}

	assignCommandOptionals(&cmd, payload, ackStatus, ackMessage, rawAck)

	return cmd, total, nil
}

func assignCommandOptionals(cmd *types.Command, payload, ackStatus, ackMessage, rawAck *string) {
	if payload != nil {
		cmd.Payload = *payload
	}
	if ackStatus != nil {
		cmd.AckStatus = *ackStatus
	}
	if ackMessage != nil {
		cmd.AckMessage = *ackMessage
	}
	if rawAck != nil {
		cmd.RawAck = *rawAck
	}
}
