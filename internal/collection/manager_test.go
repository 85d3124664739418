package collection

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/kura/internal/errs"
)

func newTestManager(t *testing.T, root string) *Manager {
	t.Helper()
	m, err := NewManager(context.Background(), root, testOptions())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { m.Close(context.Background()) })
	return m
}

func TestManagerGetOrCreate(t *testing.T) {
	m := newTestManager(t, t.TempDir())
	ctx := context.Background()

	if _, err := m.Get("docs"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("Get missing = %v, want not found", err)
	}

	c, err := m.GetOrCreate(ctx, "docs")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	got, err := m.Get("docs")
	if err != nil {
		t.Fatalf("Get after create: %v", err)
	}
	if got != c {
		t.Error("Get returned a different collection instance")
	}
	again, err := m.GetOrCreate(ctx, "docs")
	if err != nil || again != c {
		t.Errorf("GetOrCreate twice: %v, same=%v", err, again == c)
	}
}

func TestManagerNameValidation(t *testing.T) {
	m := newTestManager(t, t.TempDir())
	ctx := context.Background()

	for _, name := range []string{"", ".hidden", "a/b", "../escape", "has space", "-leading"} {
		_, err := m.GetOrCreate(ctx, name)
		if errs.KindOf(err) != errs.KindValidation {
			t.Errorf("GetOrCreate(%q) = %v, want validation error", name, err)
		}
	}
	for _, name := range []string{"docs", "a", "my-collection.v2", "A_B"} {
		if _, err := m.GetOrCreate(ctx, name); err != nil {
			t.Errorf("GetOrCreate(%q) = %v, want ok", name, err)
		}
	}
}

func TestManagerDeleteDestroys(t *testing.T) {
	root := t.TempDir()
	m := newTestManager(t, root)
	ctx := context.Background()

	c, err := m.GetOrCreate(ctx, "docs")
	if err != nil {
		t.Fatal(err)
	}
	mustPut(t, c, rec("a", []float32{1, 0, 0}, "a", nil))

	deleted, err := m.Delete(ctx, "docs")
	if err != nil || !deleted {
		t.Fatalf("Delete = %v, %v", deleted, err)
	}
	if _, err := os.Stat(filepath.Join(root, "docs")); !os.IsNotExist(err) {
		t.Errorf("collection directory still exists: %v", err)
	}
	if _, err := m.Get("docs"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("Get after delete = %v, want not found", err)
	}
	deleted, err = m.Delete(ctx, "docs")
	if err != nil || deleted {
		t.Errorf("second Delete = %v, %v, want false, nil", deleted, err)
	}
}

func TestManagerReopenDiscoversCollections(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	m, err := NewManager(ctx, root, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"alpha", "beta"} {
		c, err := m.GetOrCreate(ctx, name)
		if err != nil {
			t.Fatal(err)
		}
		mustPut(t, c, rec("a", []float32{1, 0, 0}, "a", nil))
	}
	if err := m.Close(ctx); err != nil {
		t.Fatal(err)
	}

	m = newTestManager(t, root)
	infos := m.List(ctx)
	if len(infos) != 2 {
		t.Fatalf("List = %d collections, want 2", len(infos))
	}
	if infos[0].Name != "alpha" || infos[1].Name != "beta" {
		t.Errorf("List order: %+v", infos)
	}
	for _, info := range infos {
		if info.Count != 1 {
			t.Errorf("%s count = %d, want 1", info.Name, info.Count)
		}
	}
}

func TestManagerStatus(t *testing.T) {
	m := newTestManager(t, t.TempDir())
	ctx := context.Background()

	c, err := m.GetOrCreate(ctx, "docs")
	if err != nil {
		t.Fatal(err)
	}
	mustPut(t, c, rec("a", []float32{1, 0, 0}, "a", nil))
	mustPut(t, c, rec("b", []float32{0, 1, 0}, "b", nil))

	status := m.Status(ctx)
	if status.TotalRecords != 2 {
		t.Errorf("TotalRecords = %d, want 2", status.TotalRecords)
	}
	if len(status.Collections) != 1 || status.Collections[0].IndexSize != 2 {
		t.Errorf("Collections = %+v", status.Collections)
	}
	if status.DiskUsageBytes == nil || *status.DiskUsageBytes == 0 {
		t.Error("DiskUsageBytes not reported")
	}
}

func TestManagerQuarantinesUnopenableCollection(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	// A collection whose store file is a directory cannot open.
	if err := os.MkdirAll(filepath.Join(root, "broken", storeFile), 0o755); err != nil {
		t.Fatal(err)
	}

	m := newTestManager(t, root)
	healthy, err := m.GetOrCreate(ctx, "healthy")
	if err != nil {
		t.Fatal(err)
	}
	mustPut(t, healthy, rec("a", []float32{1, 0, 0}, "a", nil))

	broken, err := m.Get("broken")
	if err != nil {
		t.Fatalf("quarantined collection should stay listed: %v", err)
	}
	putErr := broken.Put(ctx, rec("x", []float32{1, 0, 0}, "x", nil))
	if errs.KindOf(putErr) != errs.KindStorage {
		t.Errorf("Put on quarantined = %v, want storage error", putErr)
	}

	// The healthy collection keeps serving.
	if _, err := healthy.Get(ctx, "a"); err != nil {
		t.Errorf("healthy collection affected: %v", err)
	}
}
