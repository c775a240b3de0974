package config

import (
	"bufio"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// LoadEnvFile reads the nearest .env file in the working directory or its
// parents into the process environment. Variables already set win.
func LoadEnvFile(logger *slog.Logger) {
	path, err := findEnvFile()
	if err != nil {
		logger.Warn("env_file_lookup_failed", "error", err)
		return
	}
	if path == "" {
		logger.Debug("env_file_not_found")
		return
	}

	file, err := os.Open(path)
	if err != nil {
		logger.Warn("env_file_open_failed", "path", path, "error", err)
		return
	}
	defer file.Close()

	if err := parseEnvFile(file, os.LookupEnv, os.Setenv); err != nil {
		logger.Warn("env_file_load_failed", "path", path, "error", err)
		return
	}
	logger.Info("env_file_loaded", "path", path)
}

func findEnvFile() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for i := 0; i < 6; i++ {
		path := filepath.Join(dir, ".env")
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", nil
}

func parseEnvFile(r io.Reader, lookup func(string) (string, bool), set func(string, string) error) error {
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if lineNum == 1 {
			line = strings.TrimPrefix(line, "\ufeff")
		}
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if _, exists := lookup(key); exists {
			continue
		}
		if err := set(key, trimQuotes(strings.TrimSpace(value))); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func trimQuotes(value string) string {
	if len(value) < 2 {
		return value
	}
	if (value[0] == '"' && value[len(value)-1] == '"') ||
		(value[0] == '\'' && value[len(value)-1] == '\'') {
		return value[1 : len(value)-1]
	}
	return value
}
