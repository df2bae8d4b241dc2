package cache

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryGetSet(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	if _, ok, _ := c.Get(ctx, "missing"); ok {
		t.Error("пустой кэш не должен ничего возвращать")
	}

	if err := c.Set(ctx, "price:wt_1", "2300", time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	v, ok, err := c.Get(ctx, "price:wt_1")
	if err != nil || !ok || v != "2300" {
		t.Errorf("Get = (%q, %v, %v); want (2300, true, nil)", v, ok, err)
	}
}

func TestMemoryTTL(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	now := time.Now()
	c.now = func() time.Time { return now }

	c.Set(ctx, "key", "value", time.Hour)

	now = now.Add(30 * time.Minute)
	if _, ok, _ := c.Get(ctx, "key"); !ok {
		t.Error("запись не должна истекать раньше TTL")
	}

	now = now.Add(31 * time.Minute)
	if _, ok, _ := c.Get(ctx, "key"); ok {
		t.Error("запись должна истечь после TTL")
	}
}

func TestMemoryDeleteByPrefix(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	c.Set(ctx, "price:wt_1:cx_1", "100", time.Hour)
	c.Set(ctx, "price:wt_1:cx_2", "200", time.Hour)
	c.Set(ctx, "price:wt_2:cx_1", "300", time.Hour)
	c.Set(ctx, "breakdown:price:wt_1:cx_1", "{}", time.Hour)

	if err := c.DeleteByPrefix(ctx, "price:wt_1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok, _ := c.Get(ctx, "price:wt_1:cx_1"); ok {
		t.Error("записи с префиксом должны быть удалены")
	}
	if _, ok, _ := c.Get(ctx, "price:wt_1:cx_2"); ok {
		t.Error("записи с префиксом должны быть удалены")
	}
	if _, ok, _ := c.Get(ctx, "price:wt_2:cx_1"); !ok {
		t.Error("записи с другим префиксом должны остаться")
	}
	if _, ok, _ := c.Get(ctx, "breakdown:price:wt_1:cx_1"); !ok {
		t.Error("breakdown-записи задевает только свой префикс")
	}
}

func TestMemoryConcurrent(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.Set(ctx, "shared", "v", time.Minute)
		}()
		go func() {
			defer wg.Done()
			c.Get(ctx, "shared")
		}()
	}
	wg.Wait()

	if v, ok, _ := c.Get(ctx, "shared"); !ok || v != "v" {
		t.Errorf("после конкурентных записей ожидается (v, true), got (%q, %v)", v, ok)
	}
}
