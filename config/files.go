package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
	"gopkg.in/yaml.v3"

	"github.com/VanDung-dev/tenet-mesh/network"
	"github.com/VanDung-dev/tenet-mesh/protocol"
)

// LoadPeers reads a peer list from a YAML or JSON file. The file may hold a
// bare list or an object with a "peers" key. A missing or invalid file yields
// an empty list and a logged warning.
func LoadPeers(path string, logger logr.Logger) []network.PeerConfig {
	raw, ok := readOptional(path, "peers", logger)
	if !ok {
		return []network.PeerConfig{}
	}

	var list []network.PeerConfig
	if err := yaml.Unmarshal(raw, &list); err != nil {
		var doc struct {
			Peers []network.PeerConfig `yaml:"peers"`
		}
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			logger.Info("Ignoring invalid peers file", "path", path, "err", err.Error())
			return []network.PeerConfig{}
		}
		list = doc.Peers
	}

	peers := make([]network.PeerConfig, 0, len(list))
	for _, p := range list {
		if p.Name == "" || p.Port <= 0 || p.Port > 65535 {
			logger.Info("Skipping invalid peer entry", "path", path, "name", p.Name, "port", p.Port)
			continue
		}
		peers = append(peers, p)
	}
	return peers
}

// LoadWhitelist reads admitted signal names from a YAML or JSON file holding a
// list or an object with a "signals" key. It reports false when the file is
// missing, invalid or empty, in which case the default whitelist applies.
func LoadWhitelist(path string, logger logr.Logger) ([]string, bool) {
	raw, ok := readOptional(path, "whitelist", logger)
	if !ok {
		return nil, false
	}

	var names []string
	if err := yaml.Unmarshal(raw, &names); err != nil {
		var doc struct {
			Signals []string `yaml:"signals"`
		}
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			logger.Info("Ignoring invalid whitelist file", "path", path, "err", err.Error())
			return nil, false
		}
		names = doc.Signals
	}

	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if !isKnownName(n) {
			logger.Info("Whitelist names an unknown signal", "path", path, "signal", n)
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		logger.Info("Whitelist file is empty, using defaults", "path", path)
		return nil, false
	}
	return out, true
}

func readOptional(path, what string, logger logr.Logger) ([]byte, bool) {
	if strings.TrimSpace(path) == "" {
		return nil, false
	}
	raw, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("No "+what+" file, continuing without it", "path", path)
		} else {
			logger.Info("Cannot read "+what+" file", "path", path, "err", err.Error())
		}
		return nil, false
	}
	return raw, true
}

func isKnownName(name string) bool {
	for _, known := range protocol.KnownSignalNames() {
		if known == name {
			return true
		}
	}
	return false
}
