package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/open-policy-agent/opa/v1/rego"
	"go.opentelemetry.io/otel"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"

	"github.com/toonwire/attendance-mgmt/pkg/types"
)

type accessContextKey struct{ name string }

var accessCtxKey = &accessContextKey{"access"}

var tracer = otel.Tracer("attendance-mgmt/authz")

type Scope string

const (
	ScopeEmployees Scope = "employees"
	ScopeReports   Scope = "reports"
	ScopeDevices   Scope = "devices"
	ScopeAdmin     Scope = "admin"
)

var AnyScope Scope = Scope("any")

// Authorizer guards operator endpoints with a bearer token evaluated
// against a rego policy. The policy decides, per tenant, which scopes
// the token grants.
type Authorizer interface {
	RequireAccess(scopes ...Scope) func(http.Handler) http.Handler
}

type accessMap map[string]map[Scope]struct{}

type impl struct {
	query rego.PreparedEvalQuery
}

func NewAuthorizer(ctx context.Context, policies io.Reader) (Authorizer, error) {
	module, err := io.ReadAll(policies)
	if err != nil {
		return nil, fmt.Errorf("unable to read authz policies: %s", err.Error())
	}

	query, err := rego.New(
		rego.Query("x = data.attendance.authz.allow"),
		rego.Module("authz.rego", string(module)),
	).PrepareForEval(ctx)

	if err != nil {
		return nil, err
	}

	return &impl{query: query}, nil
}

func (a *impl) RequireAccess(scopes ...Scope) func(http.Handler) http.Handler {

	requiredScopes := make([]string, 0, len(scopes))
	for _, s := range scopes {
		requiredScopes = append(requiredScopes, string(s))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var err error

			logger := logging.GetFromContext(r.Context())

			_, span := tracer.Start(r.Context(), "check-auth")
			defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

			token := r.Header.Get("Authorization")

			if token == "" || !strings.HasPrefix(token, "Bearer ") {
				err = errors.New("authorization header missing")
				logger.Info(err.Error())
				writeUnauthorized(w)
				return
			}

			input := map[string]any{
				"token":  token[7:],
				"scopes": requiredScopes,
			}

			results, err := a.query.Eval(r.Context(), rego.EvalInput(input))
			if err != nil {
				logger.Error("opa eval failed", "err", err.Error())
				writeInternal(w)
				return
			}

			if len(results) == 0 {
				err = errors.New("opa query could not be satisfied")
				logger.Error("auth failed", "err", err.Error())
				writeInternal(w)
				return
			}

			binding := results[0].Bindings["x"]

			// a failed authz comes back as a single bool
			if allowed, ok := binding.(bool); ok && !allowed {
				err = errors.New("authorization failed")
				logger.Warn(err.Error())
				writeUnauthorized(w)
				return
			}

			result, ok := binding.(map[string]any)
			if !ok {
				err = errors.New("unexpected result type")
				logger.Error("opa error", "err", err.Error())
				writeInternal(w)
				return
			}

			anyAccess, ok1 := result["access"]
			access, ok2 := anyAccess.(map[string]any)

			if !ok1 || !ok2 {
				err = errors.New("bad response from authz policy engine")
				logger.Error("opa error", "err", err.Error())
				writeInternal(w)
				return
			}

			accessObj := accessMap{}

			for tenant, anyScopes := range access {
				grantedScopes, ok := anyScopes.([]any)
				if !ok {
					logger.Error("rego response type error")
					writeInternal(w)
					return
				}

				accessObj[tenant] = map[Scope]struct{}{}

				for _, s := range grantedScopes {
					scope := s.(string)
					accessObj[tenant][Scope(scope)] = struct{}{}
				}
			}

			if len(accessObj) == 0 {
				// requested scopes were not allowed in any tenant
				err = errors.New("authorization failed")
				logger.Warn(err.Error())
				writeUnauthorized(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAccess(r.Context(), accessObj)))
		})
	}
}

// GetTenantsWithAllowedScopes extracts the names of allowed tenants,
// if any, from the provided context.
func GetTenantsWithAllowedScopes(ctx context.Context, scopes ...Scope) []string {
	access, ok := ctx.Value(accessCtxKey).(accessMap)
	requiredScopeCount := len(scopes)

	if !ok || requiredScopeCount == 0 {
		return []string{}
	}

	// AnyScope disables the scope filtering below
	if requiredScopeCount == 1 && scopes[0] == AnyScope {
		requiredScopeCount = 0
	}

	tenants := make([]string, 0, len(access))

	for t, allowedScopes := range access {
		idx := 0

		for idx < requiredScopeCount {
			if _, ok := allowedScopes[scopes[idx]]; !ok {
				break
			}
			idx++
		}

		if idx == requiredScopeCount {
			tenants = append(tenants, t)
		}
	}

	return tenants
}

func WithAccess(ctx context.Context, access accessMap) context.Context {
	return context.WithValue(ctx, accessCtxKey, access)
}

func writeUnauthorized(w http.ResponseWriter) {
	perr := types.ErrUnauthorized()
	w.Header().Set("Content-Type", "application/toon")
	w.WriteHeader(perr.HTTPStatus)
	fmt.Fprintf(w, "ERR1:%s|TS:%s", perr.Code, time.Now().UTC().Format(time.RFC3339))
}

func writeInternal(w http.ResponseWriter) {
	perr := types.ErrInternal()
	w.Header().Set("Content-Type", "application/toon")
	w.WriteHeader(perr.HTTPStatus)
	fmt.Fprintf(w, "ERR1:%s|TS:%s", perr.Code, time.Now().UTC().Format(time.RFC3339))
}
