package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                               "/",
		"/metrics":                       "/metrics",
		"/v1/auth/login":                 "/v1/auth/login",
		"/v1/roles/abc":                  "/v1/roles/:id",
		"/v1/roles/abc/permissions":      "/v1/roles/:id/permissions",
		"/v1/permissions/p-3":            "/v1/permissions/:id",
		"/v1/users/u-1/roles":            "/v1/users/:id/roles",
		"/v1/users/u-1/permissions":      "/v1/users/:id/permissions",
		"/v1/users/u-1/roles/r-9":        "/v1/users/:id/roles/:role_id",
		"/v1/permissions?category=roles": "/v1/permissions",
		"/v1/mfa/status":                 "/v1/mfa/status",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
