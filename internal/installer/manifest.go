package installer

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

const extraIndexFlag = "--extra-index-url"

// DefaultPackages is installed when no manifest is given
var DefaultPackages = []string{"Phidget22"}

// Manifest is the parsed content of a requirements file
type Manifest struct {
	Packages      []string
	ExtraIndexURL string
}

// LoadManifest parses the requirements file at path
func LoadManifest(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()

	m, err := ParseManifest(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	return m, nil
}

// ParseManifest reads one directive per line. Blank lines and # comments
// are skipped, --extra-index-url sets the index, other flags are ignored
// and anything else is a package name.
func ParseManifest(r io.Reader) (*Manifest, error) {
	m := &Manifest{}
	scanner := bufio.NewScanner(r)
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := stripComment(scanner.Text())
		if line == "" {
			continue
		}

		if !strings.HasPrefix(line, "-") {
			m.Packages = append(m.Packages, line)
			continue
		}

		fields := strings.Fields(line)
		switch {
		case fields[0] == extraIndexFlag:
			if len(fields) < 2 {
				return nil, fmt.Errorf("line %d: %s requires a URL", lineNo, extraIndexFlag)
			}
			m.ExtraIndexURL = fields[1]
		case strings.HasPrefix(fields[0], extraIndexFlag+"="):
			m.ExtraIndexURL = strings.TrimPrefix(fields[0], extraIndexFlag+"=")
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

// stripComment drops full-line and inline comments. A # only starts an
// inline comment after whitespace, so URL fragments survive.
func stripComment(line string) string {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "#") {
		return ""
	}
	for i := 1; i < len(line); i++ {
		if line[i] == '#' && (line[i-1] == ' ' || line[i-1] == '\t') {
			return strings.TrimSpace(line[:i])
		}
	}
	return line
}
