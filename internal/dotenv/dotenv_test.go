package dotenv

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileIsNoop(t *testing.T) {
	if err := Load(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("Load missing file: %v", err)
	}
}

func TestLoad_ValuesAndPrecedence(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.env")
	second := filepath.Join(dir, "second.env")
	if err := os.WriteFile(first, []byte(""+
		"# comment\n"+
		"IVK_BASE_URL=https://staging.example.com\n"+
		"QUOTED=\"hello world\"\n"+
		"export EXPORTED=ok\n"+
		"EXISTING=from_file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(second, []byte("IVK_BASE_URL=https://second.example.com\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("EXISTING", "already_set")
	t.Setenv("IVK_BASE_URL", "")
	os.Unsetenv("IVK_BASE_URL")
	t.Setenv("QUOTED", "")
	os.Unsetenv("QUOTED")
	t.Setenv("EXPORTED", "")
	os.Unsetenv("EXPORTED")

	if err := Load(first, second); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got := os.Getenv("IVK_BASE_URL"); got != "https://staging.example.com" {
		t.Fatalf("IVK_BASE_URL=%q, want first file to win", got)
	}
	if got := os.Getenv("QUOTED"); got != "hello world" {
		t.Fatalf("QUOTED=%q", got)
	}
	if got := os.Getenv("EXPORTED"); got != "ok" {
		t.Fatalf("EXPORTED=%q", got)
	}
	if got := os.Getenv("EXISTING"); got != "already_set" {
		t.Fatalf("EXISTING=%q, want existing value preserved", got)
	}
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		line string
		key  string
		val  string
		want bool
	}{
		{line: "KEY=value", key: "KEY", val: "value", want: true},
		{line: "  KEY = value ", key: "KEY", val: "value", want: true},
		{line: "export KEY=value", key: "KEY", val: "value", want: true},
		{line: "KEY='single quoted'", key: "KEY", val: "single quoted", want: true},
		{line: "KEY=", key: "KEY", val: "", want: true},
		{line: "# comment", want: false},
		{line: "", want: false},
		{line: "=value", want: false},
		{line: "no equals sign", want: false},
	}
	for _, tt := range tests {
		key, val, ok := parseLine(tt.line)
		if ok != tt.want || key != tt.key || val != tt.val {
			t.Fatalf("parseLine(%q) = %q, %q, %v", tt.line, key, val, ok)
		}
	}
}
