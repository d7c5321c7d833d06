package utils

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/vitebski/sqlagent/pkg/models"
)

// SetupLogging configures the logging system
func SetupLogging(logLevel string) *logrus.Logger {
	logger := logrus.New()

	// Get log level from environment variable or parameter
	levelStr := logLevel
	if levelStr == "" {
		levelStr = os.Getenv("SQLAGENT_LOG_LEVEL")
		if levelStr == "" {
			levelStr = "info"
		}
	}

	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		level = logrus.InfoLevel
	}

	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	// stdout carries command output, so logs go to stderr
	logger.SetOutput(os.Stderr)

	logger.Debugf("Logging configured with level: %s", level)
	return logger
}

// connectionEnvPrefixes are the variable families the resolver reads
var connectionEnvPrefixes = []string{"MYSQL_", "POSTGRES_", "SQLITE_"}

// LoadEnvironment returns a snapshot of the process environment overlaid with
// values from envFile for keys that are not already set
func LoadEnvironment(envFile string, logger *logrus.Logger) map[string]string {
	env := make(map[string]string)
	for _, entry := range os.Environ() {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) == 2 {
			env[parts[0]] = parts[1]
		}
	}

	if envFile != "" {
		if _, err := os.Stat(envFile); os.IsNotExist(err) {
			sampleEnvFile := envFile + ".sample"
			if _, err := os.Stat(sampleEnvFile); err == nil {
				logger.Infof("No %s file found, but %s exists. Consider copying %s to %s and updating it.",
					envFile, sampleEnvFile, sampleEnvFile, envFile)
			} else {
				logger.Debugf("No %s file found, using existing environment variables", envFile)
			}
		} else {
			values, err := godotenv.Read(envFile)
			if err != nil {
				logger.Warningf("Error loading %s file: %v", envFile, err)
			} else {
				loaded := 0
				for key, value := range values {
					if _, exists := env[key]; !exists {
						env[key] = value
						loaded++
					}
				}
				logger.Infof("Loaded %d environment variables from %s", loaded, envFile)
			}
		}
	}

	if logger.IsLevelEnabled(logrus.DebugLevel) {
		keys := make([]string, 0, len(env))
		for key := range env {
			for _, prefix := range connectionEnvPrefixes {
				if strings.HasPrefix(key, prefix) {
					keys = append(keys, key)
					break
				}
			}
		}
		sort.Strings(keys)
		for _, key := range keys {
			if strings.HasSuffix(key, "_PASSWORD") {
				logger.Debugf("%s=%s", key, MaskPassword(env[key]))
			} else {
				logger.Debugf("%s=%s", key, env[key])
			}
		}
	}

	return env
}

// MaskPassword renders a password for logs
func MaskPassword(password string) string {
	if password == "" {
		return "[empty]"
	}
	return "********"
}

// GetEnvInt gets an integer value from environment variable
func GetEnvInt(varName string, defaultValue int) int {
	value := os.Getenv(varName)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}

// ValidateConnectionParams checks explicitly supplied connection parameters
func ValidateConnectionParams(params models.ConnectionParams) error {
	kind, ok := models.ParseKind(params.Type)
	if !ok {
		return &models.ValidationError{Field: "connection.type", Message: fmt.Sprintf("unknown database type %q", params.Type)}
	}
	if !kind.Connectable() {
		return &models.ValidationError{Field: "connection.type", Message: fmt.Sprintf("%s is detected but not queryable", kind)}
	}
	if params.Port < 0 || params.Port > 65535 {
		return &models.ValidationError{Field: "connection.port", Message: fmt.Sprintf("invalid port number: %d", params.Port)}
	}
	return nil
}

// PrintCapabilityReport writes a human-readable capability report
func PrintCapabilityReport(w io.Writer, report models.SystemReport) {
	fmt.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintln(w, "DATABASE CAPABILITY REPORT")
	fmt.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintf(w, "Generated: %s\n", report.Timestamp.Format("2006-01-02 15:04:05"))

	env := report.Environment
	fmt.Fprintf(w, "System: %s %s (%s)\n", env.System, env.Release, env.Architecture)
	fmt.Fprintf(w, "Hostname: %s\n", env.Hostname)
	fmt.Fprintf(w, "In Docker: %t\n", env.InDocker)

	if len(report.Databases) == 0 {
		fmt.Fprintln(w, "\nNo database systems detected")
		fmt.Fprintln(w, strings.Repeat("=", 60))
		return
	}

	fmt.Fprintln(w)
	for _, kind := range report.Databases.Kinds() {
		capability := report.Databases[kind]
		ports := make([]string, 0, len(capability.PortsDetected))
		for _, port := range capability.PortsDetected {
			ports = append(ports, strconv.Itoa(port))
		}
		portText := "none"
		if len(ports) > 0 {
			portText = strings.Join(ports, ", ")
		}
		fmt.Fprintf(w, "  %-14s %-16s client=%-5t ports=%s\n", kind, capability.Status, capability.ClientAvailable, portText)
	}

	fmt.Fprintln(w, strings.Repeat("=", 60))
}

// PrintRows writes result rows as indented JSON
func PrintRows(w io.Writer, rows []models.Row) error {
	if rows == nil {
		rows = []models.Row{}
	}
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
