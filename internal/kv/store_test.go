package kv

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestMemoryStoreStrings(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemoryStore()

	if _, err := m.Get(ctx, "missing"); err != ErrNotFound {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}

	if err := m.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, err := m.Get(ctx, "k")
	if err != nil || v != "v" {
		t.Errorf("Get = %q, %v, want v, nil", v, err)
	}

	ok, err := m.Exists(ctx, "k")
	if err != nil || !ok {
		t.Errorf("Exists = %v, %v, want true, nil", ok, err)
	}

	if err := m.Del(ctx, "k"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, err := m.Get(ctx, "k"); err != ErrNotFound {
		t.Errorf("Get after Del = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreTTL(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemoryStore()

	if err := m.SetTTL(ctx, "k", "v", 20*time.Millisecond); err != nil {
		t.Fatalf("SetTTL: %v", err)
	}
	if _, err := m.Get(ctx, "k"); err != nil {
		t.Fatalf("Get before expiry: %v", err)
	}

	time.Sleep(40 * time.Millisecond)
	if _, err := m.Get(ctx, "k"); err != ErrNotFound {
		t.Errorf("Get after expiry = %v, want ErrNotFound", err)
	}
	if ok, _ := m.Exists(ctx, "k"); ok {
		t.Error("Exists after expiry = true, want false")
	}
}

func TestMemoryStoreListAppendTrim(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemoryStore()

	for i := 0; i < 8; i++ {
		if err := m.ListAppendTrim(ctx, "ring", fmt.Sprintf("v%d", i), 5); err != nil {
			t.Fatalf("ListAppendTrim: %v", err)
		}
	}

	n, err := m.ListLen(ctx, "ring")
	if err != nil || n != 5 {
		t.Errorf("ListLen = %d, %v, want 5, nil", n, err)
	}

	got, err := m.ListLastN(ctx, "ring", 3)
	if err != nil {
		t.Fatalf("ListLastN: %v", err)
	}
	want := []string{"v5", "v6", "v7"}
	if len(got) != len(want) {
		t.Fatalf("ListLastN returned %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %q, want %q", i, got[i], want[i])
		}
	}

	// Asking for more than exists returns what is there.
	got, err = m.ListLastN(ctx, "ring", 100)
	if err != nil || len(got) != 5 {
		t.Errorf("ListLastN(100) returned %d entries, %v, want 5, nil", len(got), err)
	}
}

func TestMemoryStoreHashes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemoryStore()

	if _, err := m.HGet(ctx, "h", "f"); err != ErrNotFound {
		t.Errorf("HGet(missing hash) = %v, want ErrNotFound", err)
	}
	if err := m.HSet(ctx, "h", "f", "v"); err != nil {
		t.Fatalf("HSet: %v", err)
	}
	if _, err := m.HGet(ctx, "h", "other"); err != ErrNotFound {
		t.Errorf("HGet(missing field) = %v, want ErrNotFound", err)
	}
	v, err := m.HGet(ctx, "h", "f")
	if err != nil || v != "v" {
		t.Errorf("HGet = %q, %v, want v, nil", v, err)
	}
}
