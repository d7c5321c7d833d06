package utils

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitebski/sqlagent/pkg/models"
)

func TestSetupLogging(t *testing.T) {
	t.Setenv("SQLAGENT_LOG_LEVEL", "")

	logger := SetupLogging("")
	if logger == nil {
		t.Fatal("Expected logger to be created, got nil")
	}
	if logger.Level != logrus.InfoLevel {
		t.Errorf("Expected default log level to be info, got %s", logger.Level)
	}

	logger = SetupLogging("debug")
	if logger.Level != logrus.DebugLevel {
		t.Errorf("Expected log level to be debug, got %s", logger.Level)
	}

	logger = SetupLogging("warn")
	if logger.Level != logrus.WarnLevel {
		t.Errorf("Expected log level to be warn, got %s", logger.Level)
	}

	// Invalid levels fall back to info
	logger = SetupLogging("invalid")
	if logger.Level != logrus.InfoLevel {
		t.Errorf("Expected log level to be info for invalid input, got %s", logger.Level)
	}

	t.Setenv("SQLAGENT_LOG_LEVEL", "error")
	logger = SetupLogging("")
	if logger.Level != logrus.ErrorLevel {
		t.Errorf("Expected log level from environment to be error, got %s", logger.Level)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("TEST_ENV_INT", "42")
	if value := GetEnvInt("TEST_ENV_INT", 10); value != 42 {
		t.Errorf("Expected value to be 42, got %d", value)
	}

	t.Setenv("TEST_ENV_INT", "")
	if value := GetEnvInt("TEST_ENV_INT", 10); value != 10 {
		t.Errorf("Expected value to be 10 (default), got %d", value)
	}

	t.Setenv("TEST_ENV_INT", "not-an-int")
	if value := GetEnvInt("TEST_ENV_INT", 10); value != 10 {
		t.Errorf("Expected value to be 10 (default) for invalid input, got %d", value)
	}
}

func TestLoadEnvironmentOverlaysFileValues(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	content := "MYSQL_HOST=file-host\nMYSQL_USER=file-user\nSQLAGENT_TEST_ONLY_IN_FILE=yes\n"
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0o600))

	t.Setenv("MYSQL_HOST", "process-host")

	env := LoadEnvironment(envFile, logger)

	assert.Equal(t, "process-host", env["MYSQL_HOST"], "process environment wins over the file")
	assert.Equal(t, "file-user", env["MYSQL_USER"])
	assert.Equal(t, "yes", env["SQLAGENT_TEST_ONLY_IN_FILE"])
	_, leaked := os.LookupEnv("SQLAGENT_TEST_ONLY_IN_FILE")
	assert.False(t, leaked, "file values must not be exported to the process")
}

func TestLoadEnvironmentMissingFile(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	t.Setenv("POSTGRES_HOST", "db")
	env := LoadEnvironment(filepath.Join(t.TempDir(), "missing.env"), logger)
	assert.Equal(t, "db", env["POSTGRES_HOST"])
}

func TestLoadEnvironmentMasksPasswordsInDebugOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetLevel(logrus.DebugLevel)

	t.Setenv("MYSQL_PASSWORD", "hunter2")
	t.Setenv("POSTGRES_PASSWORD", "")
	LoadEnvironment("", logger)

	output := buf.String()
	assert.NotContains(t, output, "hunter2")
	assert.Contains(t, output, "MYSQL_PASSWORD=********")
	assert.Contains(t, output, "POSTGRES_PASSWORD=[empty]")
}

func TestValidateConnectionParams(t *testing.T) {
	tests := []struct {
		name    string
		params  models.ConnectionParams
		wantErr bool
	}{
		{"mysql", models.ConnectionParams{Type: "mysql", Host: "localhost", Port: 3306}, false},
		{"postgres alias", models.ConnectionParams{Type: "postgres"}, false},
		{"sqlite", models.ConnectionParams{Type: "sqlite", Database: ":memory:"}, false},
		{"unknown type", models.ConnectionParams{Type: "dbase"}, true},
		{"detection only", models.ConnectionParams{Type: "redis"}, true},
		{"bad port", models.ConnectionParams{Type: "mysql", Port: 70000}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConnectionParams(tt.params)
			if tt.wantErr {
				var validationErr *models.ValidationError
				assert.True(t, errors.As(err, &validationErr), "expected a ValidationError, got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPrintCapabilityReport(t *testing.T) {
	var buf bytes.Buffer
	report := models.SystemReport{
		Timestamp:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Environment: models.EnvironmentInfo{System: "linux", Architecture: "amd64", Hostname: "box"},
		Databases: models.CapabilityReport{
			models.MySQL:  {ClientAvailable: true, PortsDetected: []int{3306, 3307}, Status: models.FullyAvailable},
			models.SQLite: {ClientAvailable: true, Status: models.ClientOnly},
		},
	}

	PrintCapabilityReport(&buf, report)
	output := buf.String()

	assert.Contains(t, output, "2026-01-02 03:04:05")
	assert.Contains(t, output, "3306, 3307")
	assert.Contains(t, output, "client_only")
	assert.Less(t, strings.Index(output, "mysql"), strings.Index(output, "sqlite"))
}

func TestPrintRowsEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintRows(&buf, nil))
	assert.Equal(t, "[]\n", buf.String())
}
