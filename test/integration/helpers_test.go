//go:build integration

package integration_test

import (
	"archive/zip"
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/keepup-labs/keepup/internal/fetch"
	"github.com/keepup-labs/keepup/internal/pipeline"
	"github.com/keepup-labs/keepup/internal/procmgr"
	"github.com/keepup-labs/keepup/internal/source"
	"github.com/keepup-labs/keepup/internal/state"
	"github.com/keepup-labs/keepup/internal/swap"
)

// testEnv holds the isolated directories one pipeline test runs against.
type testEnv struct {
	ToolsDir   string // where targets get installed
	StagingDir string // download staging root
	StateFile  string // installed-identity store
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return &testEnv{
		ToolsDir:   t.TempDir(),
		StagingDir: t.TempDir(),
		StateFile:  filepath.Join(t.TempDir(), state.FileName),
	}
}

// newRunner wires a full pipeline against env, pointing the GitHub resolver
// at apiBase (an httptest server in these tests).
func (env *testEnv) newRunner(t *testing.T, apiBase string, opts ...pipeline.Option) *pipeline.Runner {
	t.Helper()

	store, err := state.Load(env.StateFile)
	if err != nil {
		t.Fatalf("loading state: %v", err)
	}

	resolverOpts := []source.Option{}
	if apiBase != "" {
		resolverOpts = append(resolverOpts, source.WithAPIBase(apiBase))
	}

	return pipeline.New(
		source.New(resolverOpts...),
		fetch.New(
			fetch.WithStagingRoot(env.StagingDir),
			fetch.WithRetryPolicy(2, 10*time.Millisecond),
		),
		swap.New(procmgr.New()),
		store,
		append([]pipeline.Option{pipeline.WithConcurrency(4)}, opts...)...,
	)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("creating dir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func assertFileContent(t *testing.T, path, want string) {
	t.Helper()
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	if string(got) != want {
		t.Errorf("%s content = %q, want %q", path, got, want)
	}
}

func md5hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

// zipArchive builds an in-memory zip from name → content pairs.
func zipArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := zw.Create(name)
		if err != nil {
			t.Fatalf("creating zip entry %s: %v", name, err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatalf("writing zip entry %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("closing zip: %v", err)
	}
	return buf.Bytes()
}
