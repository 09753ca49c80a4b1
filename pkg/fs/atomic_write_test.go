package fs_test

import (
	"strings"
	"testing"

	"github.com/parquedb/parquedb/pkg/fs"
)

func TestAtomicWriteFile_VisibleOnlyAfterWrite(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	real := fs.NewReal()
	writer := fs.NewAtomicWriter(real)

	path := dir + "/final.txt"

	if _, err := real.Stat(path); err == nil {
		t.Fatalf("final.txt exists before the write completes")
	}

	if err := writer.WriteWithDefaults(path, strings.NewReader("hello")); err != nil {
		t.Fatalf("AtomicWriteFile: %v", err)
	}

	got, err := real.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if string(got) != "hello" {
		t.Fatalf("content=%q, want %q", string(got), "hello")
	}
}

func TestAtomicWriteFile_ReplacesExistingContent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	real := fs.NewReal()
	writer := fs.NewAtomicWriter(real)

	path := dir + "/final.txt"

	if err := writer.WriteWithDefaults(path, strings.NewReader("first")); err != nil {
		t.Fatalf("AtomicWriteFile (first): %v", err)
	}

	if err := writer.WriteWithDefaults(path, strings.NewReader("second, and longer")); err != nil {
		t.Fatalf("AtomicWriteFile (second): %v", err)
	}

	got, err := real.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if string(got) != "second, and longer" {
		t.Fatalf("content=%q, want %q", string(got), "second, and longer")
	}
}
