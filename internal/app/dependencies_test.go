package app

import (
	"context"
	"strings"
	"testing"
)

func TestNewDependencies_Memory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AdminIDs = []string{"admin-1"}

	deps, err := NewDependencies(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("memory dependencies: %v", err)
	}
	defer func() { _ = deps.Close() }()

	if deps.Tx == nil || deps.Orders == nil || deps.Products == nil ||
		deps.PaymentLog == nil || deps.Admins == nil || deps.Outbox == nil || deps.Timeline == nil {
		t.Fatal("all repositories must be initialized")
	}
	if deps.Logger == nil {
		t.Fatal("logger must default when nil is passed")
	}

	exists, err := deps.Admins.Exists("admin-1")
	if err != nil {
		t.Fatalf("check provisioned admin: %v", err)
	}
	if !exists {
		t.Fatal("admin from config must be provisioned")
	}

	if err := deps.Ping(context.Background()); err != nil {
		t.Fatalf("memory storage must always be reachable: %v", err)
	}
	if err := deps.Close(); err != nil {
		t.Fatalf("close memory dependencies: %v", err)
	}
}

func TestNewDependencies_PostgresRequiresDSN(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageDriver = StorageDriverPostgres
	cfg.PostgresDSN = ""

	if _, err := NewDependencies(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected error for postgres driver without dsn")
	}
}

func TestNewDependencies_UnsupportedDriver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageDriver = "cassandra"

	_, err := NewDependencies(context.Background(), cfg, nil)
	if err == nil {
		t.Fatal("expected error for unsupported driver")
	}
	if !strings.Contains(err.Error(), "cassandra") {
		t.Fatalf("error must name the driver, got %v", err)
	}
}
