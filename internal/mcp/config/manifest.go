// Package config reads MCP server manifests.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Manifest is the on-disk shape, compatible with the common mcpServers
// layout.
type Manifest struct {
	Servers map[string]ServerConfig `json:"mcpServers"`
}

// ServerConfig says how to reach one server: a transport URL or a command.
type ServerConfig struct {
	Transport *TransportConfig  `json:"transport,omitempty"`
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Enabled   *bool             `json:"enabled,omitempty"`
}

type TransportConfig struct {
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
}

// Result is the merged view of every manifest that was found.
type Result struct {
	Servers map[string]ServerConfig
	Order   []string
	Sources []string
}

// EnabledValue treats a missing enabled flag as true.
func (s ServerConfig) EnabledValue() bool {
	if s.Enabled == nil {
		return true
	}
	return *s.Enabled
}

// LoadResult loads manifests using the process environment and working
// directory.
func LoadResult() (Result, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return Result{}, err
	}
	return Load(os.Getenv, cwd)
}

// Load merges manifests. MCP_CONFIG_PATH, when set, is the only source.
// Otherwise the workspace .mcp.json is read first and the user manifest
// under $XDG_CONFIG_HOME/gemini-live-lab/mcp.json overrides it per server.
// Missing files are not errors.
func Load(getenv func(string) string, cwd string) (Result, error) {
	result := Result{Servers: make(map[string]ServerConfig)}

	if override := getenv("MCP_CONFIG_PATH"); override != "" {
		path := expandPath(override, getenv)
		m, err := readManifest(path)
		if err != nil {
			return result, err
		}
		merge(result.Servers, m.Servers, getenv)
		result.Sources = append(result.Sources, path)
		finalizeOrder(&result)
		return result, nil
	}

	paths := []string{filepath.Join(cwd, ".mcp.json")}
	if p := userManifestPath(getenv); p != "" {
		paths = append(paths, p)
	}
	for _, path := range paths {
		m, err := readManifest(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return result, err
		}
		merge(result.Servers, m.Servers, getenv)
		result.Sources = append(result.Sources, path)
	}
	finalizeOrder(&result)
	return result, nil
}

func finalizeOrder(result *Result) {
	names := make([]string, 0, len(result.Servers))
	for name := range result.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	result.Order = names
}

func merge(dst, src map[string]ServerConfig, getenv func(string) string) {
	for name, cfg := range src {
		dst[name] = normalize(cfg, getenv)
	}
}

func normalize(cfg ServerConfig, getenv func(string) string) ServerConfig {
	if cfg.Args != nil {
		out := make([]string, len(cfg.Args))
		for i, arg := range cfg.Args {
			out[i] = expandPath(arg, getenv)
		}
		cfg.Args = out
	}
	cfg.Command = expandPath(cfg.Command, getenv)
	if len(cfg.Env) > 0 {
		env := make(map[string]string, len(cfg.Env))
		for k, v := range cfg.Env {
			env[k] = expandPath(v, getenv)
		}
		cfg.Env = env
	}
	if cfg.Transport != nil {
		t := *cfg.Transport
		t.URL = expandPath(t.URL, getenv)
		cfg.Transport = &t
	}
	return cfg
}

func readManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if m.Servers == nil {
		m.Servers = make(map[string]ServerConfig)
	}
	return m, nil
}

func userManifestPath(getenv func(string) string) string {
	base := getenv("XDG_CONFIG_HOME")
	if base == "" {
		home := getenv("HOME")
		if home == "" {
			return ""
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "gemini-live-lab", "mcp.json")
}

// expandPath resolves a leading ~ and ${VAR} references.
func expandPath(value string, getenv func(string) string) string {
	if value == "" {
		return value
	}
	value = os.Expand(value, getenv)
	if !strings.HasPrefix(value, "~") {
		return value
	}
	home := getenv("HOME")
	if home == "" {
		return value
	}
	if value == "~" {
		return home
	}
	if strings.HasPrefix(value, "~/") {
		return filepath.Join(home, value[2:])
	}
	return value
}
