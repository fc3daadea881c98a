package auth

import (
	"errors"
	"reflect"
	"testing"

	"waveline/internal/config"
)

func TestPermissionsFromRoles(t *testing.T) {
	s := New(config.Default())
	got := s.Permissions([]string{"viewer", "ghost"}, []string{PermEntityRemove})
	if want := []string{PermEntityRemove, PermWaveRead}; !reflect.DeepEqual(got, want) {
		t.Fatalf("permissions %v, want %v", got, want)
	}
	if !s.HasRole(RoleAnonymous) {
		t.Fatalf("default config should define the anonymous role")
	}
	ops := s.Permissions([]string{"operator"}, nil)
	if err := Require(ops, PermWaveControl); err != nil {
		t.Fatalf("operator should control waves: %v", err)
	}
}

func TestRequireForbidden(t *testing.T) {
	err := Require([]string{PermWaveRead}, PermWaveControl)
	var fe ForbiddenError
	if !errors.As(err, &fe) || fe.Permission != PermWaveControl {
		t.Fatalf("expected ForbiddenError, got %v", err)
	}
	if perms := New(nil).Permissions([]string{"operator"}, nil); len(perms) != 0 {
		t.Fatalf("nil config should grant nothing")
	}
}
