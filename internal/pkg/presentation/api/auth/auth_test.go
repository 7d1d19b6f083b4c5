package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/matryer/is"
)

const testPolicy = `
package attendance.authz

import rego.v1

default allow := false

allow := access if {
	input.token == "operator-secret"
	access := {"access": {"acme": ["employees", "reports"], "globex": ["reports"]}}
}
`

func TestRequireAccessRejectsMissingToken(t *testing.T) {
	is := is.New(t)
	authorizer := newTestAuthorizer(t)

	handler := authorizer.RequireAccess(ScopeReports)(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/reports/summary", nil))

	is.Equal(w.Code, http.StatusUnauthorized)
	is.True(strings.Contains(w.Body.String(), "ERR1:unauthorized"))
}

func TestRequireAccessRejectsUnknownToken(t *testing.T) {
	is := is.New(t)
	authorizer := newTestAuthorizer(t)

	handler := authorizer.RequireAccess(ScopeReports)(okHandler())

	r := httptest.NewRequest("GET", "/reports/summary", nil)
	r.Header.Set("Authorization", "Bearer not-a-valid-token")

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	is.Equal(w.Code, http.StatusUnauthorized)
}

func TestRequireAccessStoresAllowedTenants(t *testing.T) {
	is := is.New(t)
	authorizer := newTestAuthorizer(t)

	var tenants []string
	handler := authorizer.RequireAccess(ScopeReports)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenants = GetTenantsWithAllowedScopes(r.Context(), ScopeReports)
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest("GET", "/reports/summary", nil)
	r.Header.Set("Authorization", "Bearer operator-secret")

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	is.Equal(w.Code, http.StatusOK)
	is.Equal(len(tenants), 2)
}

func TestScopeFilteringExcludesTenantsWithoutScope(t *testing.T) {
	is := is.New(t)
	authorizer := newTestAuthorizer(t)

	var tenants []string
	handler := authorizer.RequireAccess(AnyScope)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenants = GetTenantsWithAllowedScopes(r.Context(), ScopeEmployees)
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest("GET", "/employees/list", nil)
	r.Header.Set("Authorization", "Bearer operator-secret")

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	// only acme grants the employees scope
	is.Equal(tenants, []string{"acme"})
}

func newTestAuthorizer(t *testing.T) Authorizer {
	t.Helper()
	authorizer, err := NewAuthorizer(context.Background(), strings.NewReader(testPolicy))
	if err != nil {
		t.Fatal(err)
	}
	return authorizer
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}
