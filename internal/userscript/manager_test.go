package userscript

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const sampleFile = `
scripts:
  - source: "console.log('first')"
  - source: "console.log('second')"
    injectionTime: end
    mainFrameOnly: true
`

func writeScripts(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scripts.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write scripts file: %v", err)
	}
	return path
}

func TestNewManager_StaticOnly(t *testing.T) {
	m, err := NewManager("", false, New("static()", DocumentStart, false))
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	defer m.Close()

	scripts := m.Scripts()
	if len(scripts) != 1 || scripts[0].Source() != "static()" {
		t.Errorf("Unexpected scripts: %+v", scripts)
	}

	if err := m.Reload(); err == nil {
		t.Error("Expected Reload to fail without a scripts file")
	}
}

func TestNewManager_File(t *testing.T) {
	m, err := NewManager(writeScripts(t, sampleFile), false)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	defer m.Close()

	scripts := m.Scripts()
	if len(scripts) != 2 {
		t.Fatalf("Expected 2 scripts, got %d", len(scripts))
	}
	if scripts[0].Source() != "console.log('first')" {
		t.Errorf("scripts[0] = %q", scripts[0].Source())
	}
	if scripts[1].InjectionTime() != DocumentEnd || !scripts[1].MainFrameOnly() {
		t.Errorf("scripts[1] attributes not parsed: %+v", scripts[1].Record())
	}

	stats := m.Stats()
	if stats.ReloadCount != 1 || stats.ScriptCount != 2 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestManager_ReloadKeepsPreviousOnError(t *testing.T) {
	path := writeScripts(t, sampleFile)
	m, err := NewManager(path, false)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	defer m.Close()

	if err := os.WriteFile(path, []byte("scripts: [ {source: "), 0644); err != nil {
		t.Fatalf("Failed to rewrite file: %v", err)
	}

	if err := m.Reload(); err == nil {
		t.Fatal("Expected Reload to fail on invalid YAML")
	}
	if len(m.Scripts()) != 2 {
		t.Errorf("Expected previous 2 scripts to remain, got %d", len(m.Scripts()))
	}
	if m.Stats().LastErrorStr == "" {
		t.Error("Expected LastErrorStr to be set")
	}
}

func TestParse_RequiresSource(t *testing.T) {
	if _, err := Parse([]byte("scripts:\n  - injectionTime: end\n")); err == nil {
		t.Error("Expected error for script without source")
	}
}

func TestManager_HotReload(t *testing.T) {
	path := writeScripts(t, sampleFile)
	m, err := NewManager(path, true)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	defer m.Close()

	updated := "scripts:\n  - source: \"only()\"\n"
	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		t.Fatalf("Failed to update file: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if s := m.Scripts(); len(s) == 1 && s[0].Source() == "only()" {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Errorf("Hot reload did not pick up change, scripts = %d", len(m.Scripts()))
}

func TestManager_CloseIdempotent(t *testing.T) {
	m, err := NewManager(writeScripts(t, sampleFile), true)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("First Close() error = %v", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("Second Close() error = %v", err)
	}
}
