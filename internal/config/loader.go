package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

const includeKey = "$include"

// accumulatedKeys are list settings that combine across $include instead of
// being replaced, so an including file can add blocked prefixes to a shared
// base but never silently drop them.
var accumulatedKeys = map[string]bool{
	"policy.default_blocked": true,
}

// LoadRaw reads a configuration file into a merged raw map, resolving $include
// directives. Included files are merged first so the including file wins,
// except for accumulatedKeys.
func LoadRaw(path string) (map[string]any, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is required")
	}
	var l includeLoader
	return l.load(path)
}

// includeLoader tracks the chain of files being loaded, outermost first.
type includeLoader struct {
	chain []string
}

func (l *includeLoader) load(path string) (map[string]any, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	for _, p := range l.chain {
		if p == absPath {
			return nil, fmt.Errorf("config include cycle: %s -> %s", strings.Join(l.chain, " -> "), absPath)
		}
	}
	l.chain = append(l.chain, absPath)
	defer func() { l.chain = l.chain[:len(l.chain)-1] }()

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, err
	}
	raw, err := parseRawBytes([]byte(expandEnv(string(data))), absPath)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", absPath, err)
	}
	includes, err := extractIncludes(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}

	merged := map[string]any{}
	for _, inc := range includes {
		if strings.TrimSpace(inc) == "" {
			continue
		}
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(absPath), inc)
		}
		incRaw, err := l.load(inc)
		if err != nil {
			return nil, err
		}
		merged = mergeMaps(merged, incRaw, "")
	}
	return mergeMaps(merged, raw, ""), nil
}

// expandEnv substitutes environment variables but leaves the $include key intact.
func expandEnv(data string) string {
	return os.Expand(data, func(key string) string {
		if key == includeKey[1:] {
			return includeKey
		}
		return os.Getenv(key)
	})
}

func parseRawBytes(data []byte, pathHint string) (map[string]any, error) {
	format := strings.ToLower(filepath.Ext(pathHint))
	if format == ".json" || format == ".json5" {
		var raw map[string]any
		if err := json5.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		if raw == nil {
			raw = map[string]any{}
		}
		return raw, nil
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	var raw map[string]any
	if err := decoder.Decode(&raw); err != nil {
		return nil, err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("expected single document")
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

func extractIncludes(raw map[string]any) ([]string, error) {
	if raw == nil {
		return nil, nil
	}
	var includeVal any
	if val, ok := raw[includeKey]; ok {
		includeVal = val
		delete(raw, includeKey)
	}
	if includeVal == nil {
		return nil, nil
	}

	switch typed := includeVal.(type) {
	case string:
		return []string{typed}, nil
	case []string:
		return typed, nil
	case []any:
		paths := make([]string, 0, len(typed))
		for _, entry := range typed {
			value, ok := entry.(string)
			if !ok {
				return nil, fmt.Errorf("include entries must be strings")
			}
			paths = append(paths, value)
		}
		return paths, nil
	default:
		return nil, fmt.Errorf("include must be a string or list of strings")
	}
}

// mergeMaps merges src into dst. prefix is the dotted key path of dst.
func mergeMaps(dst, src map[string]any, prefix string) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for key, value := range src {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if valueMap, ok := value.(map[string]any); ok {
			if existing, ok := dst[key].(map[string]any); ok {
				dst[key] = mergeMaps(existing, valueMap, path)
				continue
			}
		}
		if accumulatedKeys[path] {
			if existing, ok := dst[key].([]any); ok {
				if list, ok := value.([]any); ok {
					dst[key] = appendUnique(existing, list)
					continue
				}
			}
		}
		dst[key] = value
	}
	return dst
}

// appendUnique appends src to dst, skipping strings already present.
func appendUnique(dst, src []any) []any {
	out := append([]any(nil), dst...)
	seen := make(map[string]bool, len(dst))
	for _, v := range dst {
		if s, ok := v.(string); ok {
			seen[s] = true
		}
	}
	for _, v := range src {
		if s, ok := v.(string); ok {
			if seen[s] {
				continue
			}
			seen[s] = true
		}
		out = append(out, v)
	}
	return out
}

func decodeRawConfig(raw map[string]any) (*Config, error) {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize config: %w", err)
	}
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(payload))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: expected single document")
	}
	return &cfg, nil
}
