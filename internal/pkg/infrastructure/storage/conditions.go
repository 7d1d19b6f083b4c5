package storage

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

type ConditionFunc func(*Condition) *Condition

type Condition struct {
	DeviceID   string
	EventID    string
	EmployeeID string
	CommandID  string
	ReportID   string

	Tenant  string
	Tenants []string

	DeviceType string
	Status     string
	EventTypes []string

	From time.Time
	To   time.Time

	sortBy    string
	sortOrder string

	offset *int
	limit  *int
}

func (c Condition) NamedArgs() pgx.NamedArgs {
	args := pgx.NamedArgs{}

	if c.DeviceID != "" {
		args["device_id"] = c.DeviceID
	}
	if c.EventID != "" {
		args["event_id"] = c.EventID
	}
	if c.EmployeeID != "" {
		args["employee_id"] = c.EmployeeID
	}
	if c.CommandID != "" {
		args["command_id"] = c.CommandID
	}
	if c.ReportID != "" {
		args["report_id"] = c.ReportID
	}
	if c.Tenant != "" {
		args["tenant"] = c.Tenant
	}
	if c.Tenants != nil {
		args["tenants"] = c.Tenants
	}
	if c.DeviceType != "" {
		args["device_type"] = c.DeviceType
	}
	if c.Status != "" {
		args["status"] = c.Status
	}
	if len(c.EventTypes) > 0 {
		args["event_types"] = c.EventTypes
	}
	if !c.From.IsZero() {
		args["from"] = c.From.UTC()
	}
	if !c.To.IsZero() {
		args["to"] = c.To.UTC()
	}
	if c.offset != nil {
		args["offset"] = *c.offset
	}
	if c.limit != nil {
		args["limit"] = *c.limit
	}

	return args
}

func (c Condition) Where() string {
	where := []string{}

	if c.DeviceID != "" {
		where = append(where, "device_id = @device_id")
	}
	if c.EventID != "" {
		where = append(where, "event_id = @event_id")
	}
	if c.EmployeeID != "" {
		where = append(where, "employee_id = @employee_id")
	}
	if c.CommandID != "" {
		where = append(where, "command_id = @command_id")
	}
	if c.ReportID != "" {
		where = append(where, "report_id = @report_id")
	}

	if len(c.Tenant) > 0 && len(c.Tenants) > 0 && slices.Contains(c.Tenants, c.Tenant) {
		where = append(where, "tenant = @tenant")
	} else if len(c.Tenants) > 0 {
		where = append(where, "tenant = ANY(@tenants)")
	} else if c.Tenant != "" {
		where = append(where, "tenant = @tenant")
	}

	if c.DeviceType != "" {
		where = append(where, "device_type = @device_type")
	}
	if c.Status != "" {
		where = append(where, "status = @status")
	}
	if len(c.EventTypes) > 0 {
		where = append(where, "event_type = ANY(@event_types)")
	}
	if !c.From.IsZero() {
		where = append(where, "ts >= @from")
	}
	if !c.To.IsZero() {
		where = append(where, "ts <= @to")
	}

	if len(where) == 0 {
		return "TRUE"
	}

	return strings.Join(where, " AND ")
}

func (c Condition) SortBy(def string) string {
	if c.sortBy == "" {
		return def
	}
	return c.sortBy
}

func (c Condition) SortOrder() string {
	if c.sortOrder == "" {
		return "ASC"
	}
	return c.sortOrder
}

func (c Condition) OffsetLimit() string {
	offsetLimit := ""

	if c.offset != nil {
		offsetLimit += fmt.Sprintf("OFFSET %d ", *c.offset)
	}
	if c.limit != nil {
		offsetLimit += fmt.Sprintf("LIMIT %d ", *c.limit)
	}

	return offsetLimit
}

func (c Condition) Offset() int {
	if c.offset == nil {
		return 0
	}
	return *c.offset
}

func (c Condition) Limit() int {
	if c.limit == nil {
		return 0
	}
	return *c.limit
}

func WithDeviceID(deviceID string) ConditionFunc {
	return func(c *Condition) *Condition {
		c.DeviceID = deviceID
		return c
	}
}

func WithEventID(eventID string) ConditionFunc {
	return func(c *Condition) *Condition {
		c.EventID = eventID
		return c
	}
}

func WithEmployeeID(employeeID string) ConditionFunc {
	return func(c *Condition) *Condition {
		c.EmployeeID = employeeID
		return c
	}
}

func WithCommandID(commandID string) ConditionFunc {
	return func(c *Condition) *Condition {
		c.CommandID = commandID
		return c
	}
}

func WithReportID(reportID string) ConditionFunc {
	return func(c *Condition) *Condition {
		c.ReportID = reportID
		return c
	}
}

func WithTenant(tenant string) ConditionFunc {
	return func(c *Condition) *Condition {
		c.Tenants = append(c.Tenants, tenant)
		c.Tenants = unique(c.Tenants)
		c.Tenant = tenant
		return c
	}
}

func WithTenants(tenants []string) ConditionFunc {
	return func(c *Condition) *Condition {
		c.Tenants = unique(tenants)
		return c
	}
}

func WithDeviceType(deviceType string) ConditionFunc {
	return func(c *Condition) *Condition {
		c.DeviceType = deviceType
		return c
	}
}

func WithStatus(status string) ConditionFunc {
	return func(c *Condition) *Condition {
		c.Status = status
		return c
	}
}

func WithEventTypes(eventTypes []string) ConditionFunc {
	return func(c *Condition) *Condition {
		c.EventTypes = eventTypes
		return c
	}
}

func WithTimeRange(from, to time.Time) ConditionFunc {
	return func(c *Condition) *Condition {
		c.From = from
		c.To = to
		return c
	}
}

func WithOffset(offset int) ConditionFunc {
	return func(c *Condition) *Condition {
		c.offset = &offset
		return c
	}
}

func WithLimit(limit int) ConditionFunc {
	return func(c *Condition) *Condition {
		c.limit = &limit
		return c
	}
}

func WithSortBy(sortBy string) ConditionFunc {
	return func(c *Condition) *Condition {
		switch strings.ToLower(sortBy) {
		case "device_id":
			c.sortBy = "device_id"
		case "employee_id":
			c.sortBy = "employee_id"
		case "timestamp", "ts":
			c.sortBy = "ts"
		case "received_at":
			c.sortBy = "received_at"
		case "last_seen":
			c.sortBy = "last_seen"
		case "issued_at":
			c.sortBy = "issued_at"
		}
		return c
	}
}

func WithSortDesc(desc bool) ConditionFunc {
	return func(c *Condition) *Condition {
		if desc {
			c.sortOrder = "DESC"
		} else {
			c.sortOrder = "ASC"
		}
		return c
	}
}

func unique(s []string) []string {
	keys := make(map[string]bool)
	list := []string{}
	for _, entry := range s {
		if _, value := keys[entry]; !value {
			keys[entry] = true
			list = append(list, entry)
		}
	}
	return list
}

func newCondition(conditions ...ConditionFunc) *Condition {
	condition := &Condition{}
	for _, f := range conditions {
		f(condition)
	}
	return condition
}
