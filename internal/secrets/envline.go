package secrets

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// exportLine matches `export NAME=VALUE`. The export keyword must be the
// first token on the line, so commented-out definitions are ignored.
var exportLine = regexp.MustCompile(`^\s*export\s+([^=]+)=(.*)$`)

// EnvKeyValue is one variable definition taken from a shell file.
type EnvKeyValue struct {
	Name  string
	Value string
}

// ParseExportLine parses a single `export NAME=VALUE` line. It reports false
// for lines that do not match or whose name or value is empty once trimmed.
func ParseExportLine(line string) (EnvKeyValue, bool) {
	m := exportLine.FindStringSubmatch(strings.TrimRight(line, "\r\n"))
	if m == nil {
		return EnvKeyValue{}, false
	}

	name := unquote(strings.TrimSpace(m[1]))
	value := unquote(strings.TrimSpace(m[2]))
	if name == "" || value == "" {
		return EnvKeyValue{}, false
	}
	return EnvKeyValue{Name: name, Value: value}, true
}

// unquote strips one layer of matching single or double quotes.
func unquote(s string) string {
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if first == last && (first == '"' || first == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// ParseExportFile returns the variables defined in a shell-sourceable file.
// Later definitions of the same name win, as they would when sourced.
func ParseExportFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	vars := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if kv, ok := ParseExportLine(scanner.Text()); ok {
			vars[kv.Name] = kv.Value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed reading %s: %w", path, err)
	}
	return vars, nil
}
