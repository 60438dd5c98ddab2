package procmgr

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func TestMatchAgainst(t *testing.T) {
	tests := []struct {
		name     string
		procName string
		exe      string
		names    []string
		want     string
		ok       bool
	}{
		{"exact", "lazygit", "/usr/bin/lazygit", []string{"lazygit"}, "lazygit", true},
		{"case fold", "LazyGit", "", []string{"lazygit"}, "lazygit", true},
		{"exe suffix ignored", "myapp.exe", "", []string{"myapp"}, "myapp", true},
		{"exe suffix on config side", "myapp", "", []string{"MyApp.exe"}, "MyApp.exe", true},
		{"basename of executable", "", "/opt/tools/bin/rclone", []string{"rclone"}, "rclone", true},
		{"full path", "rclone", "/opt/tools/bin/rclone", []string{"/opt/tools/bin/rclone"}, "/opt/tools/bin/rclone", true},
		{"full path mismatch", "rclone", "/usr/bin/rclone", []string{"/opt/tools/bin/rclone"}, "", false},
		{"second name matches", "b", "", []string{"a", "b"}, "b", true},
		{"no match", "unrelated", "/usr/bin/unrelated", []string{"lazygit"}, "", false},
		{"empty process info", "", "", []string{"lazygit"}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := matchAgainst(tt.procName, tt.exe, tt.names)
			if ok != tt.ok || got != tt.want {
				t.Errorf("matchAgainst(%q, %q, %v) = (%q, %v), want (%q, %v)",
					tt.procName, tt.exe, tt.names, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestFind_ExcludesSelf(t *testing.T) {
	m := New()
	self := filepath.Base(os.Args[0])

	handles, err := m.Find(context.Background(), []string{self})
	if err != nil {
		t.Fatalf("Find error: %v", err)
	}
	for _, h := range handles {
		if h.Pid == int32(os.Getpid()) {
			t.Error("Find matched our own process")
		}
	}
}

func TestFind_RunningProcess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test helper process is unix-only")
	}

	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		cmd.Process.Kill()
		cmd.Wait()
	})

	m := New()
	handles, err := m.Find(context.Background(), []string{"sleep"})
	if err != nil {
		t.Fatalf("Find error: %v", err)
	}

	found := false
	for _, h := range handles {
		if h.Pid == int32(cmd.Process.Pid) {
			found = true
			if h.Matched != "sleep" {
				t.Errorf("Matched = %q, want sleep", h.Matched)
			}
		}
	}
	if !found {
		t.Errorf("spawned pid %d not in %d matches", cmd.Process.Pid, len(handles))
	}
}

func TestTerminate(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test helper process is unix-only")
	}

	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}
	done := make(chan struct{})
	go func() {
		cmd.Wait()
		close(done)
	}()

	m := New(WithPollInterval(20*time.Millisecond), WithGraceTimeout(3*time.Second))
	if err := m.Terminate(context.Background(), Handle{Pid: int32(cmd.Process.Pid), Matched: "sleep"}); err != nil {
		t.Fatalf("Terminate error: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("process still alive after Terminate returned")
	}
}

func TestTerminate_AlreadyExited(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test helper process is unix-only")
	}

	cmd := exec.Command("true")
	if err := cmd.Run(); err != nil {
		t.Fatal(err)
	}

	m := New(WithPollInterval(20 * time.Millisecond))
	if err := m.Terminate(context.Background(), Handle{Pid: int32(cmd.Process.Pid), Matched: "true"}); err != nil {
		t.Errorf("Terminate of an exited process = %v, want nil", err)
	}
}

func TestTerminate_Ignored(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test helper process is unix-only")
	}

	cmd := exec.Command("sh", "-c", `trap '' TERM; sleep 30`)
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		cmd.Process.Kill()
		cmd.Wait()
	})

	// Give the shell a moment to install its trap.
	time.Sleep(100 * time.Millisecond)

	m := New(WithPollInterval(20*time.Millisecond), WithGraceTimeout(500*time.Millisecond))
	err := m.Terminate(context.Background(), Handle{Pid: int32(cmd.Process.Pid), Matched: "sh"})
	if !errors.Is(err, ErrStillRunning) {
		t.Errorf("Terminate error = %v, want ErrStillRunning", err)
	}
}

func TestKill(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test helper process is unix-only")
	}

	// Ignores TERM; only a kill brings it down.
	cmd := exec.Command("sh", "-c", `trap '' TERM; sleep 30`)
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}
	done := make(chan struct{})
	go func() {
		cmd.Wait()
		close(done)
	}()

	m := New(WithPollInterval(20*time.Millisecond), WithKillTimeout(3*time.Second))
	if err := m.Kill(context.Background(), Handle{Pid: int32(cmd.Process.Pid), Matched: "sh"}); err != nil {
		t.Fatalf("Kill error: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("process still alive after Kill returned")
	}
}

func TestTerminate_ContextCanceled(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test helper process is unix-only")
	}

	// A shell that ignores the termination request keeps Terminate in its
	// wait until the context gives up.
	cmd := exec.Command("sh", "-c", `trap '' TERM; sleep 30`)
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		cmd.Process.Kill()
		cmd.Wait()
	})

	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	m := New(WithPollInterval(20*time.Millisecond), WithGraceTimeout(30*time.Second))
	err := m.Terminate(ctx, Handle{Pid: int32(cmd.Process.Pid), Matched: "sh"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Terminate error = %v, want context deadline", err)
	}
}

func TestLaunch(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test helper process is unix-only")
	}

	m := New()
	pid, err := m.Launch(LaunchSpec{Command: "sleep 0.2"})
	if err != nil {
		t.Fatalf("Launch error: %v", err)
	}
	if pid <= 0 {
		t.Errorf("pid = %d, want > 0", pid)
	}
}

func TestLaunch_ExplicitArgs(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test helper process is unix-only")
	}

	m := New()
	pid, err := m.Launch(LaunchSpec{Command: "sleep", Args: []string{"0.2"}})
	if err != nil {
		t.Fatalf("Launch error: %v", err)
	}
	if pid <= 0 {
		t.Errorf("pid = %d, want > 0", pid)
	}
}

func TestLaunch_MissingBinary(t *testing.T) {
	m := New()
	if _, err := m.Launch(LaunchSpec{Command: "keepup-test-no-such-binary"}); err == nil {
		t.Error("expected error for a missing binary")
	}
}

func TestLaunch_UnparsableCommand(t *testing.T) {
	m := New()
	if _, err := m.Launch(LaunchSpec{Command: `tool --flag "unclosed`}); err == nil {
		t.Error("expected error for an unbalanced quote")
	}
}
