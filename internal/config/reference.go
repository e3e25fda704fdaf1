package config

import (
	"fmt"
	"os"

	"DexMetrics/internal/changeset"
	"DexMetrics/internal/core"
	"DexMetrics/internal/pricing"

	"gopkg.in/yaml.v3"
)

// Reference is the static reference data: protocol identity, genesis gate
// and the price lists.
type Reference struct {
	Protocol  changeset.Protocol `yaml:"protocol"`
	Blacklist []string           `yaml:"blacklist"`
	Stables   []string           `yaml:"stables"`
}

// LoadReference reads and validates the reference file. An empty path
// yields the engine defaults.
func LoadReference(path string) (*Reference, error) {
	def := core.DefaultConfig()
	ref := &Reference{Protocol: def.Protocol}
	if path == "" {
		return ref, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err = yaml.Unmarshal(b, ref); err != nil {
		return nil, fmt.Errorf("parse reference %s: %w", path, err)
	}
	if ref.Protocol.ID == "" {
		return nil, fmt.Errorf("reference %s: protocol.id is required", path)
	}
	return ref, nil
}

// EngineConfig builds the engine configuration from cfg and ref.
func EngineConfig(cfg Config, ref *Reference) core.Config {
	ec := core.DefaultConfig()
	ec.Protocol = ref.Protocol
	ec.Lists = pricing.Lists{Blacklist: ref.Blacklist, Stables: ref.Stables}
	if cfg.StageWorkers > 0 {
		ec.Workers = cfg.StageWorkers
	}
	if cfg.LRUCapacity > 0 {
		ec.LRUCapacity = cfg.LRUCapacity
	}
	return ec
}
