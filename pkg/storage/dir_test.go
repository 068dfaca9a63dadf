package storage

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func testBackendContract(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := b.GetItem(ctx, "app"); ok || err != nil {
		t.Fatalf("GetItem(missing) = ok %v, err %v", ok, err)
	}
	if err := b.SetItem(ctx, "app", `{"state":{},"version":0}`); err != nil {
		t.Fatalf("SetItem: %v", err)
	}
	if err := b.SetItem(ctx, "app", `{"state":{"n":1},"version":0}`); err != nil {
		t.Fatalf("SetItem overwrite: %v", err)
	}
	v, ok, err := b.GetItem(ctx, "app")
	if err != nil || !ok || v != `{"state":{"n":1},"version":0}` {
		t.Fatalf("GetItem = %q, %v, %v", v, ok, err)
	}
	if err := b.RemoveItem(ctx, "app"); err != nil {
		t.Fatalf("RemoveItem: %v", err)
	}
	if err := b.RemoveItem(ctx, "app"); err != nil {
		t.Fatalf("RemoveItem(missing): %v", err)
	}
	if _, ok, _ := b.GetItem(ctx, "app"); ok {
		t.Fatal("item still present after remove")
	}
}

func TestMemory_Contract(t *testing.T) {
	testBackendContract(t, NewMemory())
}

func TestDir_Contract(t *testing.T) {
	testBackendContract(t, NewDir(filepath.Join(t.TempDir(), "nested")))
}

func TestDir_EscapesNames(t *testing.T) {
	dir := t.TempDir()
	d := NewDir(dir)
	ctx := context.Background()

	if err := d.SetItem(ctx, "user/42 settings", "x"); err != nil {
		t.Fatal(err)
	}
	path := d.Path("user/42 settings")
	if filepath.Dir(path) != dir {
		t.Fatalf("path %s escaped the root", path)
	}
	name, ok := d.NameFromPath(path)
	if !ok || name != "user/42 settings" {
		t.Fatalf("NameFromPath = %q, %v", name, ok)
	}

	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", fi.Mode().Perm())
	}
}

func TestDir_NamesSkipsForeignFiles(t *testing.T) {
	dir := t.TempDir()
	d := NewDir(dir)
	ctx := context.Background()
	_ = d.SetItem(ctx, "b", "1")
	_ = d.SetItem(ctx, "a", "1")
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	names, err := d.Names(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(names, []string{"a", "b"}) {
		t.Fatalf("Names() = %v", names)
	}
}

func TestDir_NamesMissingDir(t *testing.T) {
	names, err := NewDir(filepath.Join(t.TempDir(), "absent")).Names(context.Background())
	if err != nil || len(names) != 0 {
		t.Fatalf("Names() = %v, %v", names, err)
	}
}

func TestMmap_Contract(t *testing.T) {
	testBackendContract(t, NewMmap(t.TempDir()))
}

func TestMmap_EmptyFile(t *testing.T) {
	m := NewMmap(t.TempDir())
	if err := os.WriteFile(m.Path("empty"), nil, 0o600); err != nil {
		t.Fatal(err)
	}
	v, ok, err := m.GetItem(context.Background(), "empty")
	if err != nil || !ok || v != "" {
		t.Fatalf("GetItem(empty) = %q, %v, %v", v, ok, err)
	}
}

func TestAsync_Wrapping(t *testing.T) {
	mem := NewMemory()
	a := Async(mem)
	if !IsAsync(a) || IsAsync(mem) {
		t.Fatal("IsAsync mismatch")
	}
	if Async(a) != a {
		t.Fatal("Async should not double wrap")
	}
	if _, err := a.(Lister).Names(context.Background()); err != nil {
		t.Fatalf("Names through async wrapper: %v", err)
	}
}
