package status

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileProviderOk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "status.json")
	if err := os.WriteFile(path, []byte(`{"batteryPercentage":42}`), 0o600); err != nil {
		t.Fatal(err)
	}

	st, err := FileProvider{Path: path}.Status()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.BatteryPercentage == nil || *st.BatteryPercentage != 42 {
		t.Errorf("got %v, want 42", st.BatteryPercentage)
	}
}

func TestFileProviderMissing(t *testing.T) {
	_, err := FileProvider{Path: "/does/not/exist"}.Status()
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestFileProviderNullBattery(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "status.json")
	if err := os.WriteFile(path, []byte(`{"batteryPercentage":null}`), 0o600); err != nil {
		t.Fatal(err)
	}

	st, err := FileProvider{Path: path}.Status()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.BatteryPercentage != nil {
		t.Errorf("got %v, want nil", *st.BatteryPercentage)
	}
}

func TestExecutableProviderFailure(t *testing.T) {
	_, err := ExecutableProvider{Path: "/no/such/binary"}.Status()
	if err == nil {
		t.Fatal("expected error for missing executable")
	}
}

func TestNewPrefersExecutable(t *testing.T) {
	p := New("/usr/bin/env", "/some/file")
	exe, ok := p.(ExecutableProvider)
	if !ok || exe.Path != "/usr/bin/env" {
		t.Errorf("New with both set = %#v, want ExecutableProvider", p)
	}
}

func TestNewFallsBackToFile(t *testing.T) {
	p := New("", "/some/file")
	file, ok := p.(FileProvider)
	if !ok || file.Path != "/some/file" {
		t.Errorf("New with only file set = %#v, want FileProvider", p)
	}
}

func TestNewUnset(t *testing.T) {
	if p := New("", ""); p != nil {
		t.Errorf("New with neither set = %#v, want nil", p)
	}
}
