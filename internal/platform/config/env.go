package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvironmentValues returns the merged environment Load would see: the .env file, overridden by
// the process environment, overridden by WithEnvMap. main uses it to configure the secret fetcher
// before Load runs.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	o := newLoaderOptions(opts)
	values, err := readDotEnv(o.envFile)
	if err != nil {
		return nil, err
	}
	if values == nil {
		values = map[string]string{}
	}
	if o.useSystemEnv {
		for _, entry := range os.Environ() {
			if key, value, ok := strings.Cut(entry, "="); ok && strings.TrimSpace(key) != "" {
				values[strings.TrimSpace(key)] = value
			}
		}
	}
	for key, value := range o.envMap {
		values[key] = value
	}
	return values, nil
}

// readDotEnv parses KEY=VALUE lines. A missing file is not an error.
func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer file.Close()

	values := map[string]string{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), `"'`)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return values, nil
}

// env reads typed values and remembers keys whose values did not parse.
type env struct {
	lookup  func(string) (string, bool)
	invalid []string
}

func (e *env) raw(key string) (string, bool) {
	value, ok := e.lookup(key)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

func (e *env) str(key, fallback string) string {
	if value, ok := e.raw(key); ok {
		return value
	}
	return fallback
}

func (e *env) duration(key string, fallback time.Duration) time.Duration {
	value, ok := e.raw(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		e.invalid = append(e.invalid, key)
		return fallback
	}
	return d
}

func (e *env) integer(key string, fallback int) int {
	value, ok := e.raw(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		e.invalid = append(e.invalid, key)
		return fallback
	}
	return n
}

// countries reads a comma separated list of country codes, upper-cased.
func (e *env) countries(key string) []string {
	value, ok := e.raw(key)
	if !ok {
		return nil
	}
	return mergeCountries(nil, strings.Split(value, ","))
}
