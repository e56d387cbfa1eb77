package models

import "testing"

func TestParseRole(t *testing.T) {
	tests := []struct {
		input string
		want  Role
	}{
		{"VIEWER", RoleViewer},
		{"DEVELOPER", RoleDeveloper},
		{"SECURITY_ANALYST", RoleSecurityAnalyst},
		{"ADMIN", RoleAdmin},
		{"admin", RoleViewer}, // matching is case-sensitive
		{"", RoleViewer},
		{"SUPERUSER", RoleViewer},
		{"garbage", RoleViewer},
	}
	for _, tt := range tests {
		if got := ParseRole(tt.input); got != tt.want {
			t.Errorf("ParseRole(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestRoleAllows_Ordering(t *testing.T) {
	roles := []Role{RoleViewer, RoleDeveloper, RoleSecurityAnalyst, RoleAdmin}

	for _, caller := range roles {
		for _, required := range roles {
			want := caller >= required
			if got := caller.Allows(required); got != want {
				t.Errorf("%s.Allows(%s) = %v, want %v", caller, required, got, want)
			}
		}
	}
}

func TestRoleAllows_DeveloperCannotCancel(t *testing.T) {
	// Cancellation is gated on SECURITY_ANALYST; DEVELOPER outranks
	// VIEWER but must still be refused.
	if RoleDeveloper.Allows(RoleSecurityAnalyst) {
		t.Error("DEVELOPER must not satisfy a SECURITY_ANALYST gate")
	}
	if !RoleAdmin.Allows(RoleSecurityAnalyst) {
		t.Error("ADMIN must satisfy a SECURITY_ANALYST gate")
	}
}

func TestRoleString(t *testing.T) {
	tests := []struct {
		role Role
		want string
	}{
		{RoleViewer, "VIEWER"},
		{RoleDeveloper, "DEVELOPER"},
		{RoleSecurityAnalyst, "SECURITY_ANALYST"},
		{RoleAdmin, "ADMIN"},
		{Role(99), "VIEWER"},
	}
	for _, tt := range tests {
		if got := tt.role.String(); got != tt.want {
			t.Errorf("Role(%d).String() = %q, want %q", tt.role, got, tt.want)
		}
	}
}
