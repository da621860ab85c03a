package dotenv

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFile_MissingFileIsNoop(t *testing.T) {
	t.Parallel()
	if err := LoadFile(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("LoadFile missing file error: %v", err)
	}
}

func TestLoadFile_LoadsValuesAndPreservesExisting(t *testing.T) {
	tempDir := t.TempDir()
	envPath := filepath.Join(tempDir, ".env")
	content := "" +
		"# comment\n" +
		"DEDUCE_TEST_FROM_FILE=loaded\n" +
		"DEDUCE_TEST_QUOTED=\"hello world\"\n" +
		"export DEDUCE_TEST_EXPORTED=ok\n" +
		"DEDUCE_TEST_EXISTING=from_file\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("DEDUCE_TEST_EXISTING", "already_set")
	t.Cleanup(func() {
		os.Unsetenv("DEDUCE_TEST_FROM_FILE")
		os.Unsetenv("DEDUCE_TEST_QUOTED")
		os.Unsetenv("DEDUCE_TEST_EXPORTED")
	})

	if err := LoadFile(envPath); err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}

	tests := map[string]string{
		"DEDUCE_TEST_FROM_FILE": "loaded",
		"DEDUCE_TEST_QUOTED":    "hello world",
		"DEDUCE_TEST_EXPORTED":  "ok",
		"DEDUCE_TEST_EXISTING":  "already_set",
	}
	for key, want := range tests {
		if got := os.Getenv(key); got != want {
			t.Fatalf("%s=%q, want %q", key, got, want)
		}
	}
}

func TestDiscover_WalksUp(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	envPath := filepath.Join(root, ".env")
	if err := os.WriteFile(envPath, []byte("X=1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if got := Discover(nested); got != envPath {
		t.Fatalf("Discover = %q, want %q", got, envPath)
	}
}
