package persona

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nebulus/gantry/internal/platform/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

func TestLoadRegistryBuiltinDefault(t *testing.T) {
	t.Setenv("PERSONA_DIR", "")
	r := LoadRegistry(testLogger(t))

	p := r.Get(DefaultName)
	if p.Name != DefaultName {
		t.Fatalf("default persona missing, got %+v", p)
	}
	if p.System == "" {
		t.Fatal("default persona has no system prompt")
	}
}

func TestGetUnknownFallsBackToDefault(t *testing.T) {
	t.Setenv("PERSONA_DIR", "")
	r := LoadRegistry(testLogger(t))

	p := r.Get("does-not-exist")
	if p.Name != DefaultName {
		t.Fatalf("unknown persona should fall back to default, got %q", p.Name)
	}
}

func TestLoadRegistryFromDir(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	write("coach.yaml", "name: Coach\ndisplay_name: The Coach\nsystem: You are a motivating coach.\n")
	write("missing-system.yaml", "name: broken\n")
	write("not-yaml.txt", "ignored")
	write("garbage.yml", "{{{ not yaml")

	t.Setenv("PERSONA_DIR", dir)
	r := LoadRegistry(testLogger(t))

	// Names normalize to lower case on load and lookup.
	p := r.Get("COACH")
	if p.Name != "coach" || p.DisplayName != "The Coach" {
		t.Fatalf("coach persona not loaded: %+v", p)
	}
	if p.System != "You are a motivating coach." {
		t.Fatalf("wrong system prompt: %q", p.System)
	}

	if got := r.Get("broken"); got.Name != DefaultName {
		t.Fatalf("invalid persona file should be skipped, got %+v", got)
	}

	list := r.List()
	if len(list) != 2 {
		t.Fatalf("expected default + coach, got %d personas", len(list))
	}
	if list[0].Name != "coach" || list[1].Name != DefaultName {
		t.Fatalf("list not sorted by name: %+v", list)
	}
}

func TestLoadRegistryUnreadableDir(t *testing.T) {
	t.Setenv("PERSONA_DIR", filepath.Join(t.TempDir(), "does-not-exist"))
	r := LoadRegistry(testLogger(t))
	if p := r.Get(DefaultName); p.Name != DefaultName {
		t.Fatal("built-in default must survive an unreadable persona dir")
	}
}
