package testutils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/joho/godotenv"
	"github.com/nfrund/relay/internal/config"
)

// ProjectRoot walks up from the working directory to the directory holding go.mod.
func ProjectRoot(t *testing.T) string {
	t.Helper()

	path, _ := os.Getwd()
	for {
		if _, err := os.Stat(filepath.Join(path, "go.mod")); err == nil {
			return path
		}
		if path == filepath.Dir(path) {
			t.Fatalf("could not find project root with go.mod")
		}
		path = filepath.Dir(path)
	}
}

// SurrealConfigForTests loads .env.test into the test environment and returns a
// config for the SurrealDB store. The test is skipped under -short or when no
// SurrealDB instance is configured.
func SurrealConfigForTests(t *testing.T) *config.Config {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping SurrealDB integration test in short mode")
	}

	if env, err := godotenv.Read(filepath.Join(ProjectRoot(t), ".env.test")); err == nil {
		for key, value := range env {
			t.Setenv(key, value)
		}
	}
	if os.Getenv("SURREAL_URL") == "" {
		t.Skip("SURREAL_URL not set; skipping SurrealDB integration test")
	}
	t.Setenv("STORE_DRIVER", config.DriverSurreal)

	cfg, err := config.Parse()
	if err != nil {
		t.Fatalf("invalid test configuration: %v", err)
	}
	return cfg
}
