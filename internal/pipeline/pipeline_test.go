package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/keepup-labs/keepup/internal/archive"
	"github.com/keepup-labs/keepup/internal/backup"
	"github.com/keepup-labs/keepup/internal/digest"
	"github.com/keepup-labs/keepup/internal/entries"
	"github.com/keepup-labs/keepup/internal/fetch"
	"github.com/keepup-labs/keepup/internal/procmgr"
	"github.com/keepup-labs/keepup/internal/source"
	"github.com/keepup-labs/keepup/internal/state"
	"github.com/keepup-labs/keepup/internal/swap"
)

type noopProcs struct{}

func (noopProcs) Find(ctx context.Context, names []string) ([]procmgr.Handle, error) {
	return nil, nil
}
func (noopProcs) Terminate(ctx context.Context, h procmgr.Handle) error { return nil }
func (noopProcs) Kill(ctx context.Context, h procmgr.Handle) error      { return nil }
func (noopProcs) Launch(spec procmgr.LaunchSpec) (int, error)           { return 1, nil }

func md5hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

// newRunner wires a Runner against real stages, with staging and state kept
// inside the test's temp dirs.
func newRunner(t *testing.T, opts ...Option) (*Runner, *state.Store) {
	t.Helper()
	store, err := state.Load(filepath.Join(t.TempDir(), state.FileName))
	if err != nil {
		t.Fatal(err)
	}
	r := New(
		source.New(),
		fetch.New(
			fetch.WithStagingRoot(t.TempDir()),
			fetch.WithRetryPolicy(2, time.Millisecond),
		),
		swap.New(noopProcs{}),
		store,
		append([]Option{WithConcurrency(4)}, opts...)...,
	)
	return r, store
}

func urlEntry(name, rawURL, target string) entries.Entry {
	return entries.Entry{
		Name:   name,
		Source: entries.Source{Type: entries.SourceURL, URL: rawURL},
		Target: target,
	}
}

func TestRun_URLEntryUpdated(t *testing.T) {
	payload := []byte("tool v2 bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	target := filepath.Join(t.TempDir(), "tool")
	if err := os.WriteFile(target, []byte("tool v1"), 0o755); err != nil {
		t.Fatal(err)
	}

	e := urlEntry("tool", srv.URL+"/tool.bin", target)
	e.Checksum = md5hex(payload)

	r, _ := newRunner(t)
	sum := r.Run(context.Background(), []entries.Entry{e})

	if sum.Updated != 1 || sum.Failed != 0 {
		t.Fatalf("summary = %+v, want 1 updated", sum)
	}
	got, _ := os.ReadFile(target)
	if !bytes.Equal(got, payload) {
		t.Errorf("target content = %q, want payload", got)
	}
	// The pre-update target was snapshotted exactly once.
	backups, _ := filepath.Glob(target + ".*.bak")
	if len(backups) != 1 {
		t.Errorf("backups = %v, want one", backups)
	}
}

func TestRun_ChecksumMismatchLeavesTargetUntouched(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("corrupted payload"))
	}))
	defer srv.Close()

	target := filepath.Join(t.TempDir(), "tool")
	original := []byte("tool v1")
	if err := os.WriteFile(target, original, 0o755); err != nil {
		t.Fatal(err)
	}
	before, _ := os.Stat(target)

	e := urlEntry("tool", srv.URL+"/tool.bin", target)
	e.Checksum = md5hex([]byte("the real payload"))

	r, _ := newRunner(t)
	sum := r.Run(context.Background(), []entries.Entry{e})

	if sum.Failed != 1 {
		t.Fatalf("summary = %+v, want 1 failed", sum)
	}
	res := sum.Results[0]
	if res.Kind != FailureChecksumMismatch {
		t.Errorf("Kind = %q, want ChecksumMismatch", res.Kind)
	}
	got, _ := os.ReadFile(target)
	if !bytes.Equal(got, original) {
		t.Errorf("target content changed on mismatch: %q", got)
	}
	after, _ := os.Stat(target)
	if !after.ModTime().Equal(before.ModTime()) {
		t.Error("target mtime changed on mismatch")
	}
	if backups, _ := filepath.Glob(target + ".*.bak"); len(backups) != 0 {
		t.Errorf("backups = %v, want none", backups)
	}
}

func TestRun_SecondRunSkipsViaETag(t *testing.T) {
	var gets atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v2"`)
		if r.Method == http.MethodGet {
			gets.Add(1)
			w.Write([]byte("tool v2"))
		}
	}))
	defer srv.Close()

	target := filepath.Join(t.TempDir(), "tool")
	e := urlEntry("tool", srv.URL+"/tool.bin", target)

	r, _ := newRunner(t)
	first := r.Run(context.Background(), []entries.Entry{e})
	if first.Updated != 1 {
		t.Fatalf("first run = %+v, want 1 updated", first)
	}
	second := r.Run(context.Background(), []entries.Entry{e})
	if second.Skipped != 1 {
		t.Fatalf("second run = %+v, want 1 skipped", second)
	}
	if second.Results[0].Outcome != OutcomeSkipped {
		t.Errorf("Outcome = %q, want skipped-up-to-date", second.Results[0].Outcome)
	}
	if n := gets.Load(); n != 1 {
		t.Errorf("payload downloaded %d times, want 1", n)
	}
}

func TestRun_FingerprintSkipWithoutValidators(t *testing.T) {
	// No ETag or Last-Modified: the identity is only known after the
	// download, but the second run must still skip the swap.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("stable payload"))
	}))
	defer srv.Close()

	target := filepath.Join(t.TempDir(), "tool")
	e := urlEntry("tool", srv.URL+"/tool.bin", target)

	r, _ := newRunner(t)
	if sum := r.Run(context.Background(), []entries.Entry{e}); sum.Updated != 1 {
		t.Fatalf("first run = %+v, want 1 updated", sum)
	}
	info1, _ := os.Stat(target)

	if sum := r.Run(context.Background(), []entries.Entry{e}); sum.Skipped != 1 {
		t.Fatalf("second run = %+v, want 1 skipped", sum)
	}
	info2, _ := os.Stat(target)
	if !info2.ModTime().Equal(info1.ModTime()) {
		t.Error("target rewritten on unchanged content")
	}
}

func TestRun_FailuresAreIsolated(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("fine"))
	}))
	defer good.Close()

	dir := t.TempDir()
	list := []entries.Entry{
		urlEntry("broken", bad.URL+"/x", filepath.Join(dir, "broken")),
		urlEntry("healthy", good.URL+"/y", filepath.Join(dir, "healthy")),
	}

	r, _ := newRunner(t)
	sum := r.Run(context.Background(), list)

	if sum.Failed != 1 || sum.Updated != 1 {
		t.Fatalf("summary = %+v, want 1 failed and 1 updated", sum)
	}
	if sum.Results[0].Kind != FailureSourceUnavailable {
		t.Errorf("broken entry Kind = %q, want SourceUnavailable", sum.Results[0].Kind)
	}
	if sum.Results[1].Outcome != OutcomeUpdated {
		t.Errorf("healthy entry Outcome = %q, want updated", sum.Results[1].Outcome)
	}
}

func TestRun_ExpiredContextReportsTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dir := t.TempDir()
	list := []entries.Entry{
		urlEntry("a", "http://unused.invalid/a", filepath.Join(dir, "a")),
		urlEntry("b", "http://unused.invalid/b", filepath.Join(dir, "b")),
	}

	r, _ := newRunner(t, WithConcurrency(1))
	sum := r.Run(ctx, list)

	if sum.TimedOut != 2 {
		t.Fatalf("summary = %+v, want 2 timed out", sum)
	}
	for _, res := range sum.Results {
		if res.Outcome != OutcomeTimedOut {
			t.Errorf("entry %s Outcome = %q, want skipped-timeout", res.Name, res.Outcome)
		}
	}
}

func TestRun_ArchiveEntryInstallsInnerFile(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range map[string]string{
		"rclone-v1.0/README.txt": "docs",
		"rclone-v1.0/rclone":     "rclone binary",
	} {
		f, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		f.Write([]byte(content))
	}
	zw.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	target := filepath.Join(t.TempDir(), "rclone")
	e := urlEntry("rclone", srv.URL+"/rclone.zip", target)
	e.Archive = true
	e.ArchiveInnerPath = "rclone-*/rclone"

	r, _ := newRunner(t)
	sum := r.Run(context.Background(), []entries.Entry{e})

	if sum.Updated != 1 {
		t.Fatalf("summary = %+v, want 1 updated", sum)
	}
	got, _ := os.ReadFile(target)
	if string(got) != "rclone binary" {
		t.Errorf("target content = %q, want inner file", got)
	}
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("new version"))
	}))
	defer srv.Close()

	target := filepath.Join(t.TempDir(), "tool")
	original := []byte("old version")
	if err := os.WriteFile(target, original, 0o755); err != nil {
		t.Fatal(err)
	}

	e := urlEntry("tool", srv.URL+"/tool", target)

	r, store := newRunner(t, WithDryRun(true))
	sum := r.Run(context.Background(), []entries.Entry{e})

	if !sum.DryRun || sum.Updated != 1 {
		t.Fatalf("summary = %+v, want dry-run with 1 would-update", sum)
	}
	got, _ := os.ReadFile(target)
	if !bytes.Equal(got, original) {
		t.Errorf("dry run modified target: %q", got)
	}
	if backups, _ := filepath.Glob(target + ".*.bak"); len(backups) != 0 {
		t.Errorf("dry run created backups: %v", backups)
	}
	if _, known := store.Get("tool"); known {
		t.Error("dry run recorded state")
	}
}

func TestRun_ForceIgnoresRecordedToken(t *testing.T) {
	var gets atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"same"`)
		if r.Method == http.MethodGet {
			gets.Add(1)
			w.Write([]byte("payload"))
		}
	}))
	defer srv.Close()

	target := filepath.Join(t.TempDir(), "tool")
	e := urlEntry("tool", srv.URL+"/tool", target)

	r, _ := newRunner(t, WithForce(true))
	r.Run(context.Background(), []entries.Entry{e})
	r.Run(context.Background(), []entries.Entry{e})

	if n := gets.Load(); n != 2 {
		t.Errorf("payload downloaded %d times, want 2 under --force", n)
	}
}

func TestRun_SharedTargetSerializesSwaps(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "payload for %s", r.URL.Path)
	}))
	defer srv.Close()

	target := filepath.Join(t.TempDir(), "shared")
	list := []entries.Entry{
		urlEntry("one", srv.URL+"/one", target),
		urlEntry("two", srv.URL+"/two", target),
	}

	r, _ := newRunner(t, WithConcurrency(2))
	sum := r.Run(context.Background(), list)

	if sum.Updated != 2 {
		t.Fatalf("summary = %+v, want 2 updated", sum)
	}
	// Whichever swap landed last, the target holds one complete payload.
	got, _ := os.ReadFile(target)
	if string(got) != "payload for /one" && string(got) != "payload for /two" {
		t.Errorf("target content = %q, want a complete payload", got)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureKind
	}{
		{"nil", nil, FailureNone},
		{"asset not found", fmt.Errorf("resolving: %w", source.ErrAssetNotFound), FailureAssetNotFound},
		{"source unavailable", fmt.Errorf("downloading: %w", fetch.ErrSourceUnavailable), FailureSourceUnavailable},
		{"resolver unavailable", fmt.Errorf("resolving: %w", source.ErrUnavailable), FailureSourceUnavailable},
		{"checksum", &digest.ChecksumError{Expected: "a", Got: "b"}, FailureChecksumMismatch},
		{"ambiguous archive", fmt.Errorf("extracting: %w", archive.ErrAmbiguous), FailureArchiveAmbiguous},
		{"corrupt archive", fmt.Errorf("extracting: %w", archive.ErrCorrupt), FailureArchiveError},
		{"unsupported archive", fmt.Errorf("extracting: %w", archive.ErrUnsupported), FailureArchiveError},
		{"backup", fmt.Errorf("swap: %w", backup.ErrFailed), FailureBackupFailed},
		{"locked", fmt.Errorf("swap: %w", swap.ErrLocked), FailureProcessLock},
		{"replace", fmt.Errorf("swap: %w", swap.ErrReplaceFailed), FailureReplaceFailed},
		{"unknown", errors.New("boom"), FailureInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
