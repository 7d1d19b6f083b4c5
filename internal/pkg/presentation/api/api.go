package api

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/toonwire/attendance-mgmt/internal/pkg/application/commands"
	"github.com/toonwire/attendance-mgmt/internal/pkg/application/devices"
	"github.com/toonwire/attendance-mgmt/internal/pkg/application/employees"
	"github.com/toonwire/attendance-mgmt/internal/pkg/application/reports"
	"github.com/toonwire/attendance-mgmt/internal/pkg/infrastructure/storage"
	"github.com/toonwire/attendance-mgmt/internal/pkg/presentation/api/auth"
	"github.com/toonwire/attendance-mgmt/pkg/toon"
	"github.com/toonwire/attendance-mgmt/pkg/types"
)

var tracer = otel.Tracer("attendance-mgmt/api")

func endSpan(err error, span trace.Span) {
	tracing.RecordAnyErrorAndEndSpan(err, span)
}

// RegisterHandlers mounts the operator endpoints. They speak the typed
// TOON dialect and are guarded by the rego bearer-token authorizer.
func RegisterHandlers(ctx context.Context, router *chi.Mux, policies io.Reader, registry employees.EmployeeRegistry, reportSvc reports.ReportService, deviceSvc devices.DeviceManagement, cmdSvc commands.CommandService) (*chi.Mux, error) {

	log := logging.GetFromContext(ctx)

	authorizer, err := auth.NewAuthorizer(ctx, policies)
	if err != nil {
		return nil, fmt.Errorf("failed to create api authorizer: %w", err)
	}

	router.Group(func(r chi.Router) {
		r.Use(authorizer.RequireAccess(auth.ScopeEmployees))

		r.Post("/employees/list", listEmployees(log, registry))
		r.Post("/employees/enroll", enrollEmployee(log, registry))
		r.Post("/employees/update", updateEmployee(log, registry))
		r.Post("/employees/delete", deleteEmployee(log, registry))
	})

	router.Group(func(r chi.Router) {
		r.Use(authorizer.RequireAccess(auth.ScopeReports))

		r.Post("/reports/attendance", requestAttendanceReport(log, reportSvc))
		r.Post("/reports/summary", summarizeAttendance(log, reportSvc))
		r.Get("/reports/{reportID}/download", downloadReport(log, reportSvc))
		r.Delete("/reports/{reportID}", deleteReport(log, reportSvc))
	})

	router.Group(func(r chi.Router) {
		r.Use(authorizer.RequireAccess(auth.ScopeDevices))

		r.Get("/devices", queryDevices(log, deviceSvc))
		r.Get("/devices/export", exportDevices(log, deviceSvc))
		r.Get("/devices/{deviceID}", getDevice(log, deviceSvc))
		r.Post("/devices/command", issueCommand(log, deviceSvc, cmdSvc))
		r.Post("/devices/revoke", revokeDevice(log, deviceSvc))
		r.Post("/devices/bulk-revoke", bulkRevokeDevices(log, deviceSvc))
		r.Post("/devices/firmware", publishFirmware(log, cmdSvc))
	})

	return router, nil
}

func listEmployees(log *slog.Logger, registry employees.EmployeeRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		ctx, span := tracer.Start(r.Context(), "list-employees")
		defer func() { endSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		tenants := auth.GetTenantsWithAllowedScopes(ctx, auth.ScopeEmployees)

		tokens, derr := decodeBody(r)
		if derr != nil {
			err = derr
			writeTypedError(w, types.ErrPayloadCorrupted(derr.Error()))
			return
		}

		conditions := []storage.ConditionFunc{storage.WithTenants(tenants)}
		if id := tokenStr(tokens, "E1"); id != "" {
			conditions = append(conditions, storage.WithEmployeeID(id))
		}
		if n, ok := tokens["OFFSET"].(float64); ok {
			conditions = append(conditions, storage.WithOffset(int(n)))
		}
		if n, ok := tokens["LIMIT"].(float64); ok {
			conditions = append(conditions, storage.WithLimit(int(n)))
		}

		collection, err := registry.Query(ctx, conditions...)
		if err != nil {
			requestLogger.Error("unable to query employees", "err", err.Error())
			writeTypedError(w, types.ErrInternal())
			return
		}

		list := lo.Map(collection.Data, func(e types.Employee, _ int) any {
			return employeeTokens(e)
		})

		writeTyped(w, http.StatusOK, map[string]any{
			"S1":        "ok",
			"EMP_COUNT": int(collection.TotalCount),
			"EMP":       list,
			"TS":        nowISO(),
		})
	}
}

func enrollEmployee(log *slog.Logger, registry employees.EmployeeRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		ctx, span := tracer.Start(r.Context(), "enroll-employee")
		defer func() { endSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		tenants := auth.GetTenantsWithAllowedScopes(ctx, auth.ScopeEmployees)

		tokens, derr := decodeBody(r)
		if derr != nil {
			err = derr
			writeTypedError(w, types.ErrPayloadCorrupted(derr.Error()))
			return
		}

		tenant, perr := resolveTenant(tokens, tenants)
		if perr != nil {
			err = perr
			writeTypedError(w, perr)
			return
		}

		employee, err := registry.Enroll(ctx, types.Employee{
			EmployeeID:   tokenStr(tokens, "E1"),
			Tenant:       tenant,
			Name:         tokenStr(tokens, "NAME"),
			Email:        tokenStr(tokens, "EMAIL"),
			ConsentToken: tokenStr(tokens, "C1"),
		})
		if err != nil {
			if errors.Is(err, employees.ErrMissingFields) {
				writeTypedError(w, types.ErrMissingTokens("E1", "NAME"))
				return
			}
			requestLogger.Error("unable to enroll employee", "err", err.Error())
			writeTypedError(w, types.ErrInternal())
			return
		}

		writeTyped(w, http.StatusCreated, map[string]any{
			"S1":  "ok",
			"EMP": employeeTokens(employee),
			"TS":  nowISO(),
		})
	}
}

func updateEmployee(log *slog.Logger, registry employees.EmployeeRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		ctx, span := tracer.Start(r.Context(), "update-employee")
		defer func() { endSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		tenants := auth.GetTenantsWithAllowedScopes(ctx, auth.ScopeEmployees)

		tokens, derr := decodeBody(r)
		if derr != nil {
			err = derr
			writeTypedError(w, types.ErrPayloadCorrupted(derr.Error()))
			return
		}

		tenant, perr := resolveTenant(tokens, tenants)
		if perr != nil {
			err = perr
			writeTypedError(w, perr)
			return
		}

		update := types.Employee{
			EmployeeID:   tokenStr(tokens, "E1"),
			Tenant:       tenant,
			Name:         tokenStr(tokens, "NAME"),
			Email:        tokenStr(tokens, "EMAIL"),
			ConsentToken: tokenStr(tokens, "C1"),
		}
		if active, ok := tokens["ACTIVE"].(bool); ok {
			update.Active = active
		}

		employee, err := registry.Update(ctx, update)
		if err != nil {
			if errors.Is(err, employees.ErrEmployeeNotFound) {
				writeTypedError(w, errEmployeeNotFound())
				return
			}
			requestLogger.Error("unable to update employee", "err", err.Error())
			writeTypedError(w, types.ErrInternal())
			return
		}

		writeTyped(w, http.StatusOK, map[string]any{
			"S1":  "ok",
			"EMP": employeeTokens(employee),
			"TS":  nowISO(),
		})
	}
}

func deleteEmployee(log *slog.Logger, registry employees.EmployeeRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		ctx, span := tracer.Start(r.Context(), "delete-employee")
		defer func() { endSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		tenants := auth.GetTenantsWithAllowedScopes(ctx, auth.ScopeEmployees)

		tokens, derr := decodeBody(r)
		if derr != nil {
			err = derr
			writeTypedError(w, types.ErrPayloadCorrupted(derr.Error()))
			return
		}

		employeeID := tokenStr(tokens, "E1")
		if employeeID == "" {
			err = types.ErrMissingTokens("E1")
			writeTypedError(w, err.(*types.ProtocolError))
			return
		}

		err = registry.Delete(ctx, employeeID, tenants)
		if err != nil {
			if errors.Is(err, employees.ErrEmployeeNotFound) {
				writeTypedError(w, errEmployeeNotFound())
				return
			}
			requestLogger.Error("unable to delete employee", "err", err.Error())
			writeTypedError(w, types.ErrInternal())
			return
		}

		writeTyped(w, http.StatusOK, map[string]any{"S1": "ok", "TS": nowISO()})
	}
}

// requestAttendanceReport kicks off report rendering and waits a short
// while for the result, so that small reports come back inline as the
// binary response. Reports still rendering after the grace period are
// answered with their id for a later download.
func requestAttendanceReport(log *slog.Logger, svc reports.ReportService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		ctx, span := tracer.Start(r.Context(), "request-attendance-report")
		defer func() { endSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		tenants := auth.GetTenantsWithAllowedScopes(ctx, auth.ScopeReports)

		tokens, derr := decodeBody(r)
		if derr != nil {
			err = derr
			writeTypedError(w, types.ErrPayloadCorrupted(derr.Error()))
			return
		}

		tenant, perr := resolveTenant(tokens, tenants)
		if perr != nil {
			err = perr
			writeTypedError(w, perr)
			return
		}

		from, to, perr := timeRange(tokens)
		if perr != nil {
			err = perr
			writeTypedError(w, perr)
			return
		}

		format := tokenStr(tokens, "FORMAT")
		if format == "" {
			format = reports.FormatCSV
		}

		report, err := svc.RequestAttendance(ctx, reports.Request{
			Tenant:     tenant,
			From:       from,
			To:         to,
			EmployeeID: tokenStr(tokens, "E1"),
			Format:     format,
		})
		if err != nil {
			if errors.Is(err, reports.ErrBadRequest) {
				writeTypedError(w, types.ErrPayloadCorrupted(err.Error()))
				return
			}
			requestLogger.Error("unable to request report", "err", err.Error())
			writeTypedError(w, types.ErrInternal())
			return
		}

		for i := 0; i < 30; i++ {
			content, contentType, derr := svc.Download(ctx, report.ReportID, tenants)
			if derr == nil {
				writeBinary(w, report.ReportID, contentType, content)
				return
			}
			if !errors.Is(derr, reports.ErrReportNotReady) {
				break
			}

			select {
			case <-ctx.Done():
				err = ctx.Err()
				return
			case <-time.After(100 * time.Millisecond):
			}
		}

		writeTyped(w, http.StatusAccepted, map[string]any{
			"S1":   "pending",
			"RPT1": report.ReportID,
			"TS":   nowISO(),
		})
	}
}

func summarizeAttendance(log *slog.Logger, svc reports.ReportService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		ctx, span := tracer.Start(r.Context(), "summarize-attendance")
		defer func() { endSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		tenants := auth.GetTenantsWithAllowedScopes(ctx, auth.ScopeReports)

		tokens, derr := decodeBody(r)
		if derr != nil {
			err = derr
			writeTypedError(w, types.ErrPayloadCorrupted(derr.Error()))
			return
		}

		tenant, perr := resolveTenant(tokens, tenants)
		if perr != nil {
			err = perr
			writeTypedError(w, perr)
			return
		}

		from, to, perr := timeRange(tokens)
		if perr != nil {
			err = perr
			writeTypedError(w, perr)
			return
		}

		summary, err := svc.Summarize(ctx, tenant, from, to)
		if err != nil {
			requestLogger.Error("unable to summarize", "err", err.Error())
			writeTypedError(w, types.ErrInternal())
			return
		}

		counts := make(map[string]any, len(summary.Counts))
		for eventType, n := range summary.Counts {
			counts[eventType] = n
		}

		writeTyped(w, http.StatusOK, map[string]any{
			"S1":     "ok",
			"FROM":   summary.From.UTC().Format(time.RFC3339),
			"TO":     summary.To.UTC().Format(time.RFC3339),
			"COUNTS": counts,
			"TOTAL":  summary.Total,
			"TS":     nowISO(),
		})
	}
}

func downloadReport(log *slog.Logger, svc reports.ReportService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		ctx, span := tracer.Start(r.Context(), "download-report")
		defer func() { endSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		tenants := auth.GetTenantsWithAllowedScopes(ctx, auth.ScopeReports)
		reportID := chi.URLParam(r, "reportID")

		content, contentType, err := svc.Download(ctx, reportID, tenants)
		if err != nil {
			switch {
			case errors.Is(err, reports.ErrReportNotFound):
				writeTypedError(w, types.ErrReportNotFound())
			case errors.Is(err, reports.ErrReportNotReady):
				writeTypedError(w, types.ErrReportNotReady())
			default:
				requestLogger.Error("unable to download report", "err", err.Error())
				writeTypedError(w, types.ErrInternal())
			}
			return
		}

		writeBinary(w, reportID, contentType, content)
	}
}

func deleteReport(log *slog.Logger, svc reports.ReportService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		ctx, span := tracer.Start(r.Context(), "delete-report")
		defer func() { endSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		tenants := auth.GetTenantsWithAllowedScopes(ctx, auth.ScopeReports)

		err = svc.Delete(ctx, chi.URLParam(r, "reportID"), tenants)
		if err != nil {
			if errors.Is(err, reports.ErrReportNotFound) {
				writeTypedError(w, types.ErrReportNotFound())
				return
			}
			requestLogger.Error("unable to delete report", "err", err.Error())
			writeTypedError(w, types.ErrInternal())
			return
		}

		writeTyped(w, http.StatusOK, map[string]any{"S1": "ok", "TS": nowISO()})
	}
}

func queryDevices(log *slog.Logger, svc devices.DeviceManagement) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		ctx, span := tracer.Start(r.Context(), "query-devices")
		defer func() { endSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		tenants := auth.GetTenantsWithAllowedScopes(ctx, auth.ScopeDevices)

		conditions := []storage.ConditionFunc{storage.WithTenants(tenants)}
		if t := r.URL.Query().Get("type"); t != "" {
			conditions = append(conditions, storage.WithDeviceType(t))
		}
		if s := r.URL.Query().Get("status"); s != "" {
			conditions = append(conditions, storage.WithStatus(s))
		}

		collection, err := svc.Query(ctx, conditions...)
		if err != nil {
			requestLogger.Error("unable to query devices", "err", err.Error())
			writeTypedError(w, types.ErrInternal())
			return
		}

		list := lo.Map(collection.Data, func(d types.Device, _ int) any {
			return deviceTokens(d)
		})

		writeTyped(w, http.StatusOK, map[string]any{
			"S1":        "ok",
			"DEV_COUNT": int(collection.TotalCount),
			"DEV":       list,
			"TS":        nowISO(),
		})
	}
}

func getDevice(log *slog.Logger, svc devices.DeviceManagement) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		ctx, span := tracer.Start(r.Context(), "get-device")
		defer func() { endSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		tenants := auth.GetTenantsWithAllowedScopes(ctx, auth.ScopeDevices)

		device, err := svc.GetDevice(ctx, chi.URLParam(r, "deviceID"), tenants)
		if err != nil {
			if errors.Is(err, devices.ErrDeviceNotFound) {
				writeTypedError(w, types.ErrDeviceNotFound())
				return
			}
			requestLogger.Error("unable to fetch device", "err", err.Error())
			writeTypedError(w, types.ErrInternal())
			return
		}

		writeTyped(w, http.StatusOK, map[string]any{
			"S1":  "ok",
			"DEV": deviceTokens(device),
			"TS":  nowISO(),
		})
	}
}

func issueCommand(log *slog.Logger, deviceSvc devices.DeviceManagement, cmdSvc commands.CommandService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		ctx, span := tracer.Start(r.Context(), "issue-command")
		defer func() { endSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		tenants := auth.GetTenantsWithAllowedScopes(ctx, auth.ScopeDevices)

		tokens, derr := decodeBody(r)
		if derr != nil {
			err = derr
			writeTypedError(w, types.ErrPayloadCorrupted(derr.Error()))
			return
		}

		deviceID := tokenStr(tokens, "D1")
		name := tokenStr(tokens, "CMD2")
		if deviceID == "" || name == "" {
			err = types.ErrMissingTokens("D1", "CMD2")
			writeTypedError(w, err.(*types.ProtocolError))
			return
		}

		device, err := deviceSvc.GetDevice(ctx, deviceID, tenants)
		if err != nil {
			if errors.Is(err, devices.ErrDeviceNotFound) {
				writeTypedError(w, types.ErrDeviceNotFound())
				return
			}
			requestLogger.Error("unable to fetch device", "err", err.Error())
			writeTypedError(w, types.ErrInternal())
			return
		}

		cmd := types.Command{
			DeviceID: device.DeviceID,
			Tenant:   device.Tenant,
			Name:     name,
			Payload:  tokenStr(tokens, "CMD3"),
		}
		if priority, ok := tokens["CMD4"].(float64); ok {
			cmd.Priority = int(priority)
		}
		if ttl, ok := tokens["TTL"].(float64); ok && ttl > 0 {
			cmd.ExpiresAt = time.Now().UTC().Add(time.Duration(ttl) * time.Second)
		}

		issued, err := cmdSvc.Issue(ctx, cmd)
		if err != nil {
			requestLogger.Error("unable to issue command", "err", err.Error())
			writeTypedError(w, types.ErrInternal())
			return
		}

		writeTyped(w, http.StatusCreated, map[string]any{
			"S1":       "ok",
			"CMD1":     issued.CommandID,
			"CMD5":     issued.ExpiresAt.UTC().Format(time.RFC3339),
			"SIG_SERV": issued.ServerSignature,
			"TS":       nowISO(),
		})
	}
}

func revokeDevice(log *slog.Logger, svc devices.DeviceManagement) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		ctx, span := tracer.Start(r.Context(), "revoke-device")
		defer func() { endSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		tenants := auth.GetTenantsWithAllowedScopes(ctx, auth.ScopeDevices)

		tokens, derr := decodeBody(r)
		if derr != nil {
			err = derr
			writeTypedError(w, types.ErrPayloadCorrupted(derr.Error()))
			return
		}

		deviceID := tokenStr(tokens, "D1")
		if deviceID == "" {
			err = types.ErrMissingTokens("D1")
			writeTypedError(w, err.(*types.ProtocolError))
			return
		}

		err = svc.Revoke(ctx, deviceID, tenants)
		if err != nil {
			if errors.Is(err, devices.ErrDeviceNotFound) {
				writeTypedError(w, types.ErrDeviceNotFound())
				return
			}
			requestLogger.Error("unable to revoke device", "err", err.Error())
			writeTypedError(w, types.ErrInternal())
			return
		}

		writeTyped(w, http.StatusOK, map[string]any{"S1": "ok", "D1": deviceID, "TS": nowISO()})
	}
}

func bulkRevokeDevices(log *slog.Logger, svc devices.DeviceManagement) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		ctx, span := tracer.Start(r.Context(), "bulk-revoke-devices")
		defer func() { endSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		tenants := auth.GetTenantsWithAllowedScopes(ctx, auth.ScopeDevices)

		tokens, derr := decodeBody(r)
		if derr != nil {
			err = derr
			writeTypedError(w, types.ErrPayloadCorrupted(derr.Error()))
			return
		}

		deviceIDs := stringList(tokens["D1"])
		if len(deviceIDs) == 0 {
			err = types.ErrMissingTokens("D1")
			writeTypedError(w, err.(*types.ProtocolError))
			return
		}

		revoked, err := svc.BulkRevoke(ctx, deviceIDs, tenants)
		if err != nil {
			requestLogger.Error("bulk revoke failed", "err", err.Error())
			writeTypedError(w, types.ErrInternal())
			return
		}

		writeTyped(w, http.StatusOK, map[string]any{
			"S1":      "ok",
			"REVOKED": revoked,
			"TS":      nowISO(),
		})
	}
}

func exportDevices(log *slog.Logger, svc devices.DeviceManagement) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		ctx, span := tracer.Start(r.Context(), "export-devices")
		defer func() { endSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		tenants := auth.GetTenantsWithAllowedScopes(ctx, auth.ScopeDevices)

		collection, err := svc.Query(ctx, storage.WithTenants(tenants))
		if err != nil {
			requestLogger.Error("unable to query devices", "err", err.Error())
			writeTypedError(w, types.ErrInternal())
			return
		}

		var buf strings.Builder
		cw := csv.NewWriter(&buf)
		cw.Write([]string{"device_id", "tenant", "device_type", "status", "firmware_version", "last_seen", "registered_at"})
		for _, d := range collection.Data {
			cw.Write([]string{
				d.DeviceID, d.Tenant, d.DeviceType, d.Status, d.FirmwareVersion,
				d.LastSeen.UTC().Format(time.RFC3339),
				d.RegisteredAt.UTC().Format(time.RFC3339),
			})
		}
		cw.Flush()
		if err = cw.Error(); err != nil {
			requestLogger.Error("unable to render export", "err", err.Error())
			writeTypedError(w, types.ErrInternal())
			return
		}

		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("X-TOON-RESP", fmt.Sprintf("S1:ok|DEV_COUNT:%d|TS:%s", len(collection.Data), nowISO()))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(buf.String()))
	}
}

func publishFirmware(log *slog.Logger, svc commands.CommandService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		ctx, span := tracer.Start(r.Context(), "publish-firmware")
		defer func() { endSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		tokens, derr := decodeBody(r)
		if derr != nil {
			err = derr
			writeTypedError(w, types.ErrPayloadCorrupted(derr.Error()))
			return
		}

		release := types.FirmwareRelease{
			Version:           tokenStr(tokens, "FW2"),
			DeviceType:        tokenStr(tokens, "D2"),
			BundleURLTemplate: tokenStr(tokens, "FW3"),
			Checksum:          tokenStr(tokens, "FW4"),
			PolicyID:          tokenStr(tokens, "P1"),
		}
		if size, ok := tokens["FW5"].(float64); ok {
			release.SizeBytes = int64(size)
		}

		if release.Version == "" || release.DeviceType == "" {
			err = types.ErrMissingTokens("FW2", "D2")
			writeTypedError(w, err.(*types.ProtocolError))
			return
		}
		if !types.IsValidDeviceType(release.DeviceType) {
			err = types.ErrInvalidDeviceType(release.DeviceType)
			writeTypedError(w, err.(*types.ProtocolError))
			return
		}

		published, err := svc.PublishFirmware(ctx, release)
		if err != nil {
			requestLogger.Error("unable to publish firmware", "err", err.Error())
			writeTypedError(w, types.ErrInternal())
			return
		}

		writeTyped(w, http.StatusCreated, map[string]any{
			"S1":     "ok",
			"FW1":    published.FirmwareID,
			"FW2":    published.Version,
			"FW_SIG": published.ServerSignature,
			"TS":     nowISO(),
		})
	}
}

func employeeTokens(e types.Employee) map[string]any {
	tokens := map[string]any{
		"E1":     e.EmployeeID,
		"T1":     e.Tenant,
		"NAME":   e.Name,
		"ACTIVE": e.Active,
	}
	if e.Email != "" {
		tokens["EMAIL"] = e.Email
	}
	return tokens
}

func deviceTokens(d types.Device) map[string]any {
	tokens := map[string]any{
		"D1":     d.DeviceID,
		"D2":     d.DeviceType,
		"T1":     d.Tenant,
		"STATUS": d.Status,
		"LAST":   d.LastSeen.UTC().Format(time.RFC3339),
		"REG":    d.RegisteredAt.UTC().Format(time.RFC3339),
	}
	if d.FirmwareVersion != "" {
		tokens["FW2"] = d.FirmwareVersion
	}
	return tokens
}

func decodeBody(r *http.Request) (map[string]any, error) {
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}

	payload := strings.TrimSpace(string(body))
	if payload == "" {
		return map[string]any{}, nil
	}

	tokens, _, err := toon.Decode(payload)
	return tokens, err
}

// resolveTenant picks the tenant a mutation applies to: an explicit T1
// token must be allowed for the caller, otherwise the caller must have
// exactly one tenant to default to.
func resolveTenant(tokens map[string]any, allowed []string) (string, *types.ProtocolError) {
	tenant := tokenStr(tokens, "T1")

	if tenant == "" {
		if len(allowed) == 1 {
			return allowed[0], nil
		}
		return "", types.ErrMissingTokens("T1")
	}

	for _, t := range allowed {
		if t == tenant {
			return tenant, nil
		}
	}

	return "", types.ErrUnauthorized()
}

func timeRange(tokens map[string]any) (time.Time, time.Time, *types.ProtocolError) {
	from, ok := parseDate(tokenStr(tokens, "FROM"))
	if !ok {
		return time.Time{}, time.Time{}, types.ErrMissingTokens("FROM")
	}
	to, ok := parseDate(tokenStr(tokens, "TO"))
	if !ok {
		return time.Time{}, time.Time{}, types.ErrMissingTokens("TO")
	}
	return from, to, nil
}

func parseDate(s string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}

func errEmployeeNotFound() *types.ProtocolError {
	return &types.ProtocolError{Code: "employee_not_found", HTTPStatus: http.StatusNotFound}
}

func writeTyped(w http.ResponseWriter, status int, tokens map[string]any) {
	w.Header().Set("Content-Type", "application/toon")
	w.WriteHeader(status)
	w.Write([]byte(toon.EncodeTyped(tokens)))
}

func writeTypedError(w http.ResponseWriter, perr *types.ProtocolError) {
	tokens := perr.Tokens()
	tokens["TS"] = nowISO()
	writeTyped(w, perr.HTTPStatus, tokens)
}

func writeBinary(w http.ResponseWriter, reportID, contentType string, content []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-TOON-RESP", fmt.Sprintf("S1:ok|RPT1:%s|FMT:%s|TS:%s", reportID, contentType, nowISO()))
	w.WriteHeader(http.StatusOK)
	w.Write(content)
}
