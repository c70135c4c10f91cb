package db

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/tebi01/stock-market-e18-jobmaster/internal/config"
	"github.com/tebi01/stock-market-e18-jobmaster/internal/entity"
)

func TestOpenJobStore_SQLite(t *testing.T) {
	store, closeFn, err := OpenJobStore(context.Background(), config.Common{
		StoreDriver: config.DriverSQLite,
		SQLitePath:  ":memory:",
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = closeFn() }()

	id := uuid.New()
	job := &entity.Job{ID: id, Type: entity.TypeEstimateGains, Status: entity.StatusPending, Data: entity.JobData{UserEmail: "ana@example.com"}}
	if err := store.Create(context.Background(), job); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := store.GetByID(context.Background(), id)
	if err != nil || got.Data.UserEmail != "ana@example.com" {
		t.Fatalf("unexpected get: %+v, %v", got, err)
	}
}

func TestOpenJobStore_UnknownDriver(t *testing.T) {
	if _, _, err := OpenJobStore(context.Background(), config.Common{StoreDriver: "mongo"}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestNewRedisClient_BadURL(t *testing.T) {
	if _, err := NewRedisClient(context.Background(), "not a url"); err == nil {
		t.Fatal("expected parse error")
	}
}
