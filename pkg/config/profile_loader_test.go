package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeProfile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write profile: %v", err)
	}
	return path
}

func TestLoadProfile(t *testing.T) {
	p, err := LoadProfile(writeProfile(t, "name: ci\nworkers: 2\ncache:\n  ttl: 5m\n"))
	if err != nil {
		t.Fatalf("LoadProfile: %v", err)
	}
	if p.Name != "ci" || p.Workers != 2 || p.Cache.TTL != "5m" {
		t.Errorf("unexpected profile: %+v", p)
	}
	if p.StrictRuleset != nil {
		t.Error("strict_ruleset should stay unset")
	}
}

func TestLoadProfile_Missing(t *testing.T) {
	if _, err := LoadProfile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing profile")
	}
}

func TestLoadProfile_Malformed(t *testing.T) {
	if _, err := LoadProfile(writeProfile(t, "workers: [")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestProfileApply_BadTTL(t *testing.T) {
	t.Setenv("VLAB_CACHE_TTL", "")
	if err := os.Unsetenv("VLAB_CACHE_TTL"); err != nil {
		t.Fatal(err)
	}
	p := &Profile{Name: "x", Cache: CacheProfile{TTL: "soon"}}
	if err := p.apply(&Config{}); err == nil {
		t.Fatal("expected ttl parse error")
	}
}
