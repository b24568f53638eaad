package main

import (
	"io/fs"
	"testing"
	"time"

	"github.com/hms/hms/internal/config"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/migrations"
)

func TestTopicPolicy(t *testing.T) {
	p := topicPolicy("hms")

	tests := []struct {
		topic string
		roles []string
		want  bool
	}{
		{"hms.pharmacy", []string{auth.RolePharmacist}, true},
		{"hms.pharmacy", []string{auth.RoleNurse}, false},
		{"hms.ward", []string{auth.RoleNurse}, true},
		{"hms.ward", []string{auth.RolePatient}, false},
		{"hms.scheduling", []string{auth.RoleAdmin}, true},
		{"hms.unknown", []string{auth.RolePatient}, true},
	}
	for _, tt := range tests {
		if got := p.Allowed(tt.roles, tt.topic); got != tt.want {
			t.Errorf("Allowed(%v, %s) = %v, want %v", tt.roles, tt.topic, got, tt.want)
		}
	}
}

func TestRelayConfig_OverridesDefaults(t *testing.T) {
	rc := relayConfig(&config.Config{OutboxBatchSize: 25, OutboxPollInterval: 5 * time.Second})
	if rc.BatchSize != 25 || rc.PollInterval != 5*time.Second {
		t.Errorf("unexpected relay config %+v", rc)
	}
	if rc.MaxRetries != 10 {
		t.Errorf("expected default max retries, got %d", rc.MaxRetries)
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	names, err := fs.Glob(migrations.FS, "*.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(names) == 0 || names[0] != "001_core.sql" {
		t.Errorf("expected 001_core.sql to be embedded, got %v", names)
	}
}
