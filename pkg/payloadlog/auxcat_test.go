package payloadlog

import (
	"context"
	"testing"
)

func TestCatalogRefreshAndQuery(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	payloads := map[uint64]string{
		1: `{"text":"a"}`,
		2: `{"text":"a longer payload than the others"}`,
		3: `{"text":"bb"}`,
	}
	for id, p := range payloads {
		if err := s.Put(id, []byte(p)); err != nil {
			t.Fatalf("Put(%d): %v", id, err)
		}
	}

	cat, err := OpenCatalog(dir)
	if err != nil {
		t.Fatalf("OpenCatalog: %v", err)
	}
	defer cat.Close()

	ctx := context.Background()
	if err := cat.Refresh(ctx, s); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	n, err := cat.PointCount(ctx)
	if err != nil {
		t.Fatalf("PointCount: %v", err)
	}
	if n != len(payloads) {
		t.Fatalf("PointCount = %d, want %d", n, len(payloads))
	}

	largest, err := cat.Largest(ctx, 1)
	if err != nil {
		t.Fatalf("Largest: %v", err)
	}
	if len(largest) != 1 || largest[0] != 2 {
		t.Fatalf("Largest = %v, want [2]", largest)
	}
}

func TestCatalogRefreshReflectsDeletes(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.Put(1, []byte(`{"text":"x"}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(2, []byte(`{"text":"y"}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Delete(1); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	cat, err := OpenCatalog(dir)
	if err != nil {
		t.Fatalf("OpenCatalog: %v", err)
	}
	defer cat.Close()

	ctx := context.Background()
	if err := cat.Refresh(ctx, s); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	n, err := cat.PointCount(ctx)
	if err != nil {
		t.Fatalf("PointCount: %v", err)
	}
	if n != 1 {
		t.Fatalf("PointCount = %d, want 1 (after delete)", n)
	}
}
