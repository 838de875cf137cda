package db

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestSessionSettings(t *testing.T) {
	got := sessionSettings(PoolOptions{LockTimeout: 1500 * time.Millisecond, IdleInTxTimeout: 10 * time.Second})
	want := []string{
		"SET lock_timeout = 1500",
		"SET idle_in_transaction_session_timeout = 10000",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d settings, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("setting %d: expected %q, got %q", i, want[i], got[i])
		}
	}

	if s := sessionSettings(PoolOptions{}); len(s) != 0 {
		t.Errorf("expected no settings for zero options, got %v", s)
	}
}

func TestNewPool_EmptyConnString(t *testing.T) {
	if _, err := NewPool(context.Background(), "", PoolOptions{}); err == nil {
		t.Fatal("expected error for empty connection string")
	}
}

func TestNewPool_AppliesLockTimeout(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := NewPool(ctx, dsn, PoolOptions{MaxConns: 2, LockTimeout: 750 * time.Millisecond})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer pool.Close()

	var setting string
	if err := pool.QueryRow(ctx, "SHOW lock_timeout").Scan(&setting); err != nil {
		t.Fatalf("show lock_timeout: %v", err)
	}
	if setting != "750ms" {
		t.Fatalf("expected lock_timeout 750ms, got %s", setting)
	}
}
