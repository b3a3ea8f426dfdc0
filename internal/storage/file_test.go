package storage

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"claimrelay/internal/participant"
	logx "claimrelay/pkg/logx"
)

func openTestStore(t *testing.T, path string) Store {
	t.Helper()
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "users_data.json")
	ctx := context.Background()

	t0 := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	want := map[string]participant.Record{
		"u1": {Username: "alice", DisplayName: "Alice", UserID: "u1", SessionID: "s1",
			SubmittedAt: participant.At(t0), TimerStartedAt: participant.At(t0)},
		"u2": {Username: "bob", DisplayName: "Bob", UserID: "u2", SessionID: "s2",
			SubmittedAt: participant.At(t0), TimerStartedAt: participant.At(t0),
			TimerDoneAt: participant.At(t0.Add(2 * time.Minute)), Completed: true},
	}

	st := openTestStore(t, path)
	if err := st.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// A fresh store models a fresh process.
	got, err := openTestStore(t, path).Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestFileStoreWritesPrettyJSON(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "users_data.json")
	st := openTestStore(t, path)
	if err := st.Save(context.Background(), map[string]participant.Record{"u1": {UserID: "u1"}}); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(b), "{\n  \"u1\": {\n    \"username\"") {
		t.Fatalf("unexpected layout:\n%s", b)
	}
}

func TestFileStoreLoadMissingAndCorrupt(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := context.Background()

	_, err := openTestStore(t, filepath.Join(dir, "missing.json")).Load(ctx)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("err = %v, want fs.ErrNotExist", err)
	}

	corrupt := filepath.Join(dir, "corrupt.json")
	if err := os.WriteFile(corrupt, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err = openTestStore(t, corrupt).Load(ctx)
	var ioErr *IOError
	if !errors.As(err, &ioErr) || ioErr.Op != "load" {
		t.Fatalf("err = %v, want load IOError", err)
	}
}

func TestFileStoreSaveFailureIsIOError(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "users_data.json")
	st := openTestStore(t, path)
	// A directory where the temp file should go makes the write fail.
	if err := os.Mkdir(path+".tmp", 0o755); err != nil {
		t.Fatal(err)
	}
	err := st.Save(context.Background(), map[string]participant.Record{})
	var ioErr *IOError
	if !errors.As(err, &ioErr) || ioErr.Op != "save" {
		t.Fatalf("err = %v, want save IOError", err)
	}
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "none"}, logx.Nop())
	if st != nil || err != nil {
		t.Fatalf("disabled store = %v, %v", st, err)
	}
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty path")
	}
}
