package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"p2plend/core/state"
	"p2plend/crypto"
	"p2plend/native/escrow"
)

// Protocol is the operator-controlled protocol file: module pauses and the
// balances credited on first start.
type Protocol struct {
	Pauses  Pauses         `toml:"pauses"`
	Genesis []GenesisEntry `toml:"genesis"`
}

// Pauses lists the modules an operator may halt.
type Pauses struct {
	Lending bool `toml:"lending"`
}

// GenesisEntry credits Amount of Asset to Address.
type GenesisEntry struct {
	Address string `toml:"address"`
	Asset   string `toml:"asset"`
	Amount  uint64 `toml:"amount"`
}

// Load decodes the protocol file at path. An empty path yields the zero
// protocol: nothing paused, no genesis balances.
func Load(path string) (*Protocol, error) {
	cfg := &Protocol{}
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("protocol file: %w", err)
	}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode protocol file %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("protocol file %s: unknown key %s", path, undecoded[0])
	}
	if _, err := cfg.Allocations(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// PauseMap returns the module→paused map consumed by the pause guard.
func (p *Protocol) PauseMap() map[string]bool {
	if p == nil {
		return map[string]bool{}
	}
	return map[string]bool{"lending": p.Pauses.Lending}
}

// Allocations resolves the genesis entries into state allocations.
func (p *Protocol) Allocations() ([]state.Allocation, error) {
	if p == nil {
		return nil, nil
	}
	out := make([]state.Allocation, 0, len(p.Genesis))
	for i, entry := range p.Genesis {
		addr, err := crypto.DecodeAddress(strings.TrimSpace(entry.Address))
		if err != nil {
			return nil, fmt.Errorf("genesis[%d]: address: %w", i, err)
		}
		asset, err := escrow.NormalizeAsset(entry.Asset)
		if err != nil {
			return nil, fmt.Errorf("genesis[%d]: %w", i, err)
		}
		if entry.Amount == 0 {
			return nil, fmt.Errorf("genesis[%d]: amount must be positive", i)
		}
		out = append(out, state.Allocation{Address: addr, Asset: asset, Amount: entry.Amount})
	}
	return out, nil
}
