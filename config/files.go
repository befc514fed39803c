package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Limits on untrusted input.
const (
	maxConfigSize = 1 << 20 // config files are small; anything bigger is a mistake
	maxJSONDepth  = 32
	maxEnvVarLen  = 4096
)

// readConfigFile reads a .json, .yaml or .yml file and reports its format.
// Relative paths may not climb out of the working directory.
func readConfigFile(path string) ([]byte, string, error) {
	format := formatOf(path)
	if format == "" {
		return nil, "", fmt.Errorf("config files must be .json, .yaml or .yml: %s", path)
	}
	if !filepath.IsAbs(path) && !filepath.IsLocal(path) {
		return nil, "", fmt.Errorf("config path %s leaves the working directory", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, "", err
	}
	if !info.Mode().IsRegular() {
		return nil, "", fmt.Errorf("%s is not a regular file", path)
	}

	data, err := io.ReadAll(io.LimitReader(f, maxConfigSize+1))
	if err != nil {
		return nil, "", err
	}
	if len(data) > maxConfigSize {
		return nil, "", fmt.Errorf("%s exceeds %d bytes", path, maxConfigSize)
	}
	return data, format, nil
}

func formatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	case ".yaml", ".yml":
		return "yaml"
	default:
		return ""
	}
}

// checkJSONDepth walks the token stream and fails once nesting passes
// maxJSONDepth. Syntax errors are left to the real decode.
func checkJSONDepth(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil
		}
		switch tok {
		case json.Delim('{'), json.Delim('['):
			if depth++; depth > maxJSONDepth {
				return fmt.Errorf("JSON nesting too deep: more than %d levels", maxJSONDepth)
			}
		case json.Delim('}'), json.Delim(']'):
			depth--
		}
	}
}

func checkEnvValue(value string) error {
	if len(value) > maxEnvVarLen {
		return fmt.Errorf("value longer than %d bytes", maxEnvVarLen)
	}
	if strings.ContainsRune(value, 0) {
		return fmt.Errorf("value contains a NUL byte")
	}
	return nil
}
