package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://"+s.Addr(), time.Hour)
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()

	store, err := NewRedisStore("redis://"+s.Addr(), time.Hour)
	if err != nil {
		t.Fatalf("NewRedisStore failed: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestGetModeDefaultsToIdle(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	mode, err := store.GetMode(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetMode failed: %v", err)
	}
	if mode != ModeIdle {
		t.Errorf("expected %s for fresh user, got %s", ModeIdle, mode)
	}
}

func TestSetAndGetMode(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.SetMode(ctx, "user-1", ModeAwaitingName); err != nil {
		t.Fatalf("SetMode failed: %v", err)
	}

	mode, err := store.GetMode(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetMode failed: %v", err)
	}
	if mode != ModeAwaitingName {
		t.Errorf("expected %s, got %s", ModeAwaitingName, mode)
	}
}

func TestSetModeOverwrites(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.SetMode(ctx, "user-1", ModeAwaitingName); err != nil {
		t.Fatalf("SetMode failed: %v", err)
	}
	// Last request wins
	if err := store.SetMode(ctx, "user-1", ModeAwaitingBio); err != nil {
		t.Fatalf("SetMode failed: %v", err)
	}

	mode, err := store.GetMode(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetMode failed: %v", err)
	}
	if mode != ModeAwaitingBio {
		t.Errorf("expected %s, got %s", ModeAwaitingBio, mode)
	}
}

func TestSetModeRejectsUnknownMode(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	if err := store.SetMode(context.Background(), "user-1", "awaiting_something"); err == nil {
		t.Error("expected error for unknown mode, got nil")
	}
}

func TestClearMode(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.SetMode(ctx, "user-1", ModeAwaitingConfession); err != nil {
		t.Fatalf("SetMode failed: %v", err)
	}
	if err := store.ClearMode(ctx, "user-1"); err != nil {
		t.Fatalf("ClearMode failed: %v", err)
	}

	mode, err := store.GetMode(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetMode failed: %v", err)
	}
	if mode != ModeIdle {
		t.Errorf("expected %s after clear, got %s", ModeIdle, mode)
	}
}

func TestClearModeWhenUnset(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	// Clearing an unset mode should not error
	if err := store.ClearMode(context.Background(), "user-1"); err != nil {
		t.Errorf("ClearMode for unset mode failed: %v", err)
	}
}

func TestModeExpires(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()

	store, err := NewRedisStore("redis://"+s.Addr(), time.Second)
	if err != nil {
		t.Fatalf("NewRedisStore failed: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.SetMode(ctx, "user-1", ModeAwaitingName); err != nil {
		t.Fatalf("SetMode failed: %v", err)
	}

	s.FastForward(2 * time.Second)

	mode, err := store.GetMode(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetMode failed: %v", err)
	}
	if mode != ModeIdle {
		t.Errorf("expected %s after expiry, got %s", ModeIdle, mode)
	}
}

func TestModeIsolation(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.SetMode(ctx, "user-1", ModeAwaitingName); err != nil {
		t.Fatalf("SetMode user-1 failed: %v", err)
	}
	if err := store.SetMode(ctx, "user-2", ModeAwaitingBio); err != nil {
		t.Fatalf("SetMode user-2 failed: %v", err)
	}

	if err := store.ClearMode(ctx, "user-1"); err != nil {
		t.Fatalf("ClearMode user-1 failed: %v", err)
	}

	mode1, err := store.GetMode(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetMode user-1 failed: %v", err)
	}
	if mode1 != ModeIdle {
		t.Errorf("expected user-1 idle, got %s", mode1)
	}

	mode2, err := store.GetMode(ctx, "user-2")
	if err != nil {
		t.Fatalf("GetMode user-2 failed: %v", err)
	}
	if mode2 != ModeAwaitingBio {
		t.Errorf("expected user-2 %s, got %s", ModeAwaitingBio, mode2)
	}
}
