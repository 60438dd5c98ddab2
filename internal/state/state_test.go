package state

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestLoad_MissingFile(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if _, ok := s.Get("anything"); ok {
		t.Error("fresh store should be empty")
	}
}

func TestSaveLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	s, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	want := Entry{
		Token:     "tag:v1.2.3",
		Asset:     "tool_linux_amd64.tar.gz",
		UpdatedAt: time.Now().Truncate(time.Second),
	}
	s.Put("tool", want)
	if err := s.Save(); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload error: %v", err)
	}
	got, ok := reloaded.Get("tool")
	if !ok {
		t.Fatal("entry missing after reload")
	}
	if got.Token != want.Token || got.Asset != want.Asset {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if !got.UpdatedAt.Equal(want.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, want.UpdatedAt)
	}
}

func TestPut_Overwrites(t *testing.T) {
	s, _ := Load(filepath.Join(t.TempDir(), "state.json"))
	s.Put("tool", Entry{Token: "tag:v1"})
	s.Put("tool", Entry{Token: "tag:v2"})

	got, _ := s.Get("tool")
	if got.Token != "tag:v2" {
		t.Errorf("Token = %q, want tag:v2", got.Token)
	}
}

func TestLoad_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected error for corrupt state file")
	}
}

func TestSave_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "state.json")
	s, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	s.Put("tool", Entry{Token: "b3:abc"})
	if err := s.Save(); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("state file missing: %v", err)
	}
}

func TestConcurrentPuts(t *testing.T) {
	s, _ := Load(filepath.Join(t.TempDir(), "state.json"))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			name := []string{"a", "b", "c", "d"}[n%4]
			s.Put(name, Entry{Token: "tag:race"})
			s.Get(name)
		}(i)
	}
	wg.Wait()

	for _, name := range []string{"a", "b", "c", "d"} {
		if _, ok := s.Get(name); !ok {
			t.Errorf("entry %s missing after concurrent writes", name)
		}
	}
}
