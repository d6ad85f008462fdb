package creds

import (
	"context"
	"errors"
	"testing"

	"github.com/coalmine/coalmine/internal/model"
)

func TestStatic_Scoped(t *testing.T) {
	s := NewStatic()
	s.AddRole("handler.slack", "tok-1", model.Permission{
		Actions:   []string{"webhook:post"},
		Resources: []string{"https://hooks.example.com/*"},
	})

	cr, err := s.Scoped(context.Background(), "handler.slack", "prod-notify-slack")
	if err != nil {
		t.Fatalf("Scoped: %v", err)
	}
	if cr.Token != "tok-1" || cr.RoleKey != "handler.slack" || cr.SessionName != "prod-notify-slack" {
		t.Errorf("credentials: %+v", cr)
	}
}

func TestStatic_UnknownRole(t *testing.T) {
	s := NewStatic()
	_, err := s.Scoped(context.Background(), "handler.pager", "s")
	if !errors.Is(err, ErrUnknownRole) {
		t.Errorf("err: %v, want ErrUnknownRole", err)
	}
}

func TestStatic_EmptyRoleIsAnonymous(t *testing.T) {
	s := NewStatic()
	cr, err := s.Scoped(context.Background(), "", "prod-check-httpGet")
	if err != nil {
		t.Fatalf("Scoped: %v", err)
	}
	if cr.Token != "" || cr.SessionName != "prod-check-httpGet" {
		t.Errorf("credentials: %+v", cr)
	}
}

func TestStatic_Permissions(t *testing.T) {
	s := NewStatic()
	perm := model.Permission{Actions: []string{"metrics:read"}}
	s.AddRole("check.promThreshold", "tok", perm)

	got := s.Permissions("check.promThreshold")
	if len(got) != 1 || got[0].Actions[0] != "metrics:read" {
		t.Errorf("Permissions: %+v", got)
	}
	if !s.HasRole("check.promThreshold") || s.HasRole("nope") {
		t.Error("HasRole mismatch")
	}
}

func TestSessionName(t *testing.T) {
	if got := SessionName("dev", "check", "tlsExpiry"); got != "dev-check-tlsExpiry" {
		t.Errorf("SessionName: %q", got)
	}
}
