package model

import "testing"

func TestParseRole_KnownValues(t *testing.T) {
	if got := ParseRole("admin"); got != RoleAdmin {
		t.Errorf("ParseRole(admin) = %q, want %q", got, RoleAdmin)
	}
	if got := ParseRole("member"); got != RoleMember {
		t.Errorf("ParseRole(member) = %q, want %q", got, RoleMember)
	}
}

// 不明な値はすべてmemberに倒れること
func TestParseRole_UnknownValuesFallBackToMember(t *testing.T) {
	for _, raw := range []string{"", "Admin", "ADMIN", "owner", "superuser", " admin"} {
		if got := ParseRole(raw); got != RoleMember {
			t.Errorf("ParseRole(%q) = %q, want %q", raw, got, RoleMember)
		}
	}
}

func TestRole_Permits(t *testing.T) {
	tests := []struct {
		have     Role
		required Role
		want     bool
	}{
		{RoleAdmin, RoleAdmin, true},
		{RoleAdmin, RoleMember, true},
		{RoleMember, RoleMember, true},
		{RoleMember, RoleAdmin, false},
		{Role("owner"), RoleMember, false},
		{RoleAdmin, Role("owner"), false},
	}

	for _, tt := range tests {
		if got := tt.have.Permits(tt.required); got != tt.want {
			t.Errorf("%q.Permits(%q) = %v, want %v", tt.have, tt.required, got, tt.want)
		}
	}
}

func TestRole_IsValid(t *testing.T) {
	if !RoleAdmin.IsValid() || !RoleMember.IsValid() {
		t.Error("admin and member should be valid")
	}
	if Role("guest").IsValid() {
		t.Error("guest should not be valid")
	}
}
