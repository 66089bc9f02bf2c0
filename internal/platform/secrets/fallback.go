package secrets

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// readFallbackFile loads lines of the form secret://name[?version=N]=value. Values may contain '='.
// A missing file is an empty set.
func readFallbackFile(path string) (map[string]string, error) {
	values := map[string]string{}
	if path == "" {
		return values, nil
	}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return values, nil
	}
	if err != nil {
		return nil, fmt.Errorf("secrets: open fallback file %s: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		raw, value, ok := splitFallbackLine(line)
		if !ok {
			continue
		}
		ref, err := parseRef(raw)
		if err != nil {
			continue
		}
		values[ref.localKey()] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("secrets: read fallback file %s: %w", path, err)
	}
	return values, nil
}

func splitFallbackLine(line string) (ref, value string, ok bool) {
	head, rest, found := strings.Cut(line, "=")
	if !found {
		return "", "", false
	}
	if strings.Contains(head, "?") {
		version, tail, found := strings.Cut(rest, "=")
		if !found {
			return "", "", false
		}
		head, rest = head+"="+version, tail
	}
	head = strings.TrimSpace(head)
	return head, strings.TrimSpace(rest), head != ""
}
