package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDir(t *testing.T) {
	home, _ := os.UserHomeDir()
	got := Dir("alice")
	want := filepath.Join(home, ".shopchat", "users", "alice")
	if got != want {
		t.Errorf("Dir(alice) = %q, want %q", got, want)
	}
}

func TestLogPath(t *testing.T) {
	got := LogPath("alice")
	if !strings.HasSuffix(got, filepath.Join("users", "alice", "logs", "chat.log")) {
		t.Errorf("LogPath(alice) = %q, want suffix users/alice/logs/chat.log", got)
	}
}

func TestHubPaths(t *testing.T) {
	if got := HubDBPath("/srv/hub"); got != "/srv/hub/chathub.db" {
		t.Errorf("HubDBPath = %q", got)
	}
	if got := HubLogPath("/srv/hub"); got != "/srv/hub/logs/chathub.log" {
		t.Errorf("HubLogPath = %q", got)
	}
	if !strings.HasSuffix(HubDir(), filepath.Join(".shopchat", "hub")) {
		t.Errorf("HubDir = %q", HubDir())
	}
}
