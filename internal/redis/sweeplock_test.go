package redis

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestSweepLock_OnlyOneHolder(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	a := NewSweepLock(client, zap.NewNop())
	b := NewSweepLock(client, zap.NewNop())

	if a.Owner() == b.Owner() {
		t.Fatal("holders must have distinct owner tokens")
	}

	ok, err := a.Acquire(ctx, 15*time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire should succeed: %v", err)
	}

	ok, err = b.Acquire(ctx, 15*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("second holder must not acquire a held lease")
	}

	if got, _ := mr.Get(SweepLockKey); got != a.Owner() {
		t.Errorf("expected lease owned by %s, got %s", a.Owner(), got)
	}
	if ttl := mr.TTL(SweepLockKey); ttl != 15*time.Minute {
		t.Errorf("expected ttl 15m, got %s", ttl)
	}
}

func TestSweepLock_ExpiresWithPeriod(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	a := NewSweepLock(client, zap.NewNop())
	b := NewSweepLock(client, zap.NewNop())

	if ok, _ := a.Acquire(ctx, time.Minute); !ok {
		t.Fatal("first acquire should succeed")
	}

	mr.FastForward(time.Minute + time.Second)

	ok, err := b.Acquire(ctx, time.Minute)
	if err != nil || !ok {
		t.Fatalf("lease should be free after its ttl: %v", err)
	}
}

func TestSweepLock_ReleaseOnlyOwnLease(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	a := NewSweepLock(client, zap.NewNop())
	b := NewSweepLock(client, zap.NewNop())

	if ok, _ := a.Acquire(ctx, time.Minute); !ok {
		t.Fatal("first acquire should succeed")
	}

	if err := b.Release(ctx); err != nil {
		t.Fatalf("release by non-owner should not error: %v", err)
	}
	if !mr.Exists(SweepLockKey) {
		t.Fatal("non-owner must not delete the lease")
	}

	if err := a.Release(ctx); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if mr.Exists(SweepLockKey) {
		t.Fatal("owner release should delete the lease")
	}

	if ok, _ := b.Acquire(ctx, time.Minute); !ok {
		t.Fatal("lease should be free after release")
	}
}

func TestSweepLock_OwnerRenews(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	a := NewSweepLock(client, zap.NewNop())

	if ok, _ := a.Acquire(ctx, time.Minute); !ok {
		t.Fatal("first acquire should succeed")
	}
	mr.FastForward(59 * time.Second)

	ok, err := a.Acquire(ctx, time.Minute)
	if err != nil || !ok {
		t.Fatalf("holder should renew its own lease: %v", err)
	}
	if ttl := mr.TTL(SweepLockKey); ttl != time.Minute {
		t.Errorf("expected renewed ttl 1m, got %s", ttl)
	}
}
