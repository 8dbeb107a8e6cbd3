package session

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPathsLayout(t *testing.T) {
	p := Paths{Base: "/data"}

	if got := p.Dir("s1"); got != filepath.Join("/data", "sessions", "s1") {
		t.Errorf("Dir = %q", got)
	}
	if got := p.MediaDir("s1"); got != filepath.Join("/data", "sessions", "s1", "media") {
		t.Errorf("MediaDir = %q", got)
	}
	if got := p.ClientDBPath("s1"); got != filepath.Join("/data", "sessions", "s1", "session.db") {
		t.Errorf("ClientDBPath = %q", got)
	}
	if got := p.StorePath(); got != filepath.Join("/data", "wpphub.db") {
		t.Errorf("StorePath = %q", got)
	}
}

func TestEnsureSessionDirs(t *testing.T) {
	p := Paths{Base: t.TempDir()}
	if err := p.EnsureSessionDirs("s1"); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(p.MediaDir("s1"))
	if err != nil {
		t.Fatal(err)
	}
	if !info.IsDir() {
		t.Error("media dir is not a directory")
	}
	if info.Mode().Perm() != 0700 {
		t.Errorf("perm = %o, want 0700", info.Mode().Perm())
	}
}

func TestValidateID(t *testing.T) {
	for _, ok := range []string{"s1", "my-session_2", "a"} {
		if err := ValidateID(ok); err != nil {
			t.Errorf("ValidateID(%q) = %v", ok, err)
		}
	}
	for _, bad := range []string{"", "Has Upper", "spaces here", "dot.dot", "x/etc"} {
		if err := ValidateID(bad); err == nil {
			t.Errorf("ValidateID(%q) accepted", bad)
		}
	}
}
