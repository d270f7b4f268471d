package dotenv

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFileMissingIsNotError(t *testing.T) {
	if err := LoadFile(filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Fatalf("LoadFile missing file: %v", err)
	}
}

func TestLoadFileParsesAndPreservesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := `
# comment
export FOO=bar
QUOTED="hello world"
SINGLE='one two'
EMPTY=
KEPT=fromfile
=novalue
NOEQUALS
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("KEPT", "fromenv")
	for _, k := range []string{"FOO", "QUOTED", "SINGLE", "EMPTY"} {
		os.Unsetenv(k)
		t.Cleanup(func() { os.Unsetenv(k) })
	}

	if err := LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	want := map[string]string{
		"FOO":    "bar",
		"QUOTED": "hello world",
		"SINGLE": "one two",
		"EMPTY":  "",
		"KEPT":   "fromenv",
	}
	for k, v := range want {
		if got := os.Getenv(k); got != v {
			t.Errorf("env %s = %q, want %q", k, got, v)
		}
	}
}

func TestParseLine(t *testing.T) {
	cases := []struct {
		in      string
		key     string
		val     string
		ok      bool
	}{
		{"A=1", "A", "1", true},
		{"export B=2", "B", "2", true},
		{"  C = spaced  ", "C", "spaced", true},
		{`D="q"`, "D", "q", true},
		{"# comment", "", "", false},
		{"", "", "", false},
		{"=x", "", "", false},
		{"noequals", "", "", false},
	}
	for _, tc := range cases {
		k, v, ok := parseLine(tc.in)
		if k != tc.key || v != tc.val || ok != tc.ok {
			t.Errorf("parseLine(%q) = (%q, %q, %v), want (%q, %q, %v)", tc.in, k, v, ok, tc.key, tc.val, tc.ok)
		}
	}
}
