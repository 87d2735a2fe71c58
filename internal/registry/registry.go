// Package registry tracks the versioned deployment history of every
// contract the indexer knows how to decode, and answers "which version of
// family F was authoritative at block B?".
package registry

import (
	"fmt"
	"sort"

	"github.com/swarmstats/indexer/pkg/types"
)

// ContractMetadata describes one deployed contract version.
type ContractMetadata struct {
	// Name is a unique identifier, e.g. "Redistribution-v0.9.3".
	Name string
	// Family is the contract kind this version belongs to.
	Family types.ContractFamily
	// Address is the on-chain contract address.
	Address types.Address
	// Version is a human-readable label, e.g. "v0.9.4".
	Version types.ContractVersion
	// DeploymentBlock is the inclusive lower bound of this version's window.
	DeploymentBlock types.BlockNumber
	// EndBlock is the exclusive upper bound, if the version has been
	// superseded.
	EndBlock *types.BlockNumber
	// PausedAt records the block at which the contract was deliberately
	// paused, if any.
	PausedAt *types.BlockNumber
	// Active marks the currently authoritative version for its family.
	Active bool
}

// ActiveAt reports whether this version was authoritative at block.
func (m ContractMetadata) ActiveAt(block types.BlockNumber) bool {
	if block < m.DeploymentBlock {
		return false
	}
	if m.EndBlock != nil && block >= *m.EndBlock {
		return false
	}
	return true
}

// IntersectsRange reports whether this version's deployment window
// intersects the inclusive range [from, to].
func (m ContractMetadata) IntersectsRange(from, to types.BlockNumber) bool {
	if to < m.DeploymentBlock {
		return false
	}
	if m.EndBlock != nil && from >= *m.EndBlock {
		return false
	}
	return true
}

// Registry is the validated collection of every contract version the
// indexer is configured to follow.
type Registry struct {
	byName    map[string]ContractMetadata
	byAddress map[types.Address]ContractMetadata
	byFamily  map[types.ContractFamily][]ContractMetadata
}

// New validates contracts and builds a Registry.
//
// Validation: address uniqueness, non-overlapping windows per family, at
// most one active=true per family, deployment_block < end_block when both
// set, and active=false with no end_block rejected as a configuration
// error (an unbounded historical version would silently shadow whatever
// comes after it).
func New(contracts []ContractMetadata) (*Registry, error) {
	r := &Registry{
		byName:    make(map[string]ContractMetadata, len(contracts)),
		byAddress: make(map[types.Address]ContractMetadata, len(contracts)),
		byFamily:  make(map[types.ContractFamily][]ContractMetadata),
	}

	for _, c := range contracts {
		if !c.Family.Valid() {
			return nil, fmt.Errorf("contract %q: unknown family %q", c.Name, c.Family)
		}
		if c.Name == "" {
			return nil, fmt.Errorf("contract with address %s: name is required", c.Address)
		}
		if _, exists := r.byName[c.Name]; exists {
			return nil, fmt.Errorf("duplicate contract name %q", c.Name)
		}
		if existing, exists := r.byAddress[c.Address]; exists {
			return nil, fmt.Errorf("duplicate contract address %s (used by %q and %q)", c.Address, existing.Name, c.Name)
		}
		if c.EndBlock != nil && c.DeploymentBlock >= *c.EndBlock {
			return nil, fmt.Errorf("contract %q: deployment_block (%s) must be before end_block (%s)",
				c.Name, c.DeploymentBlock, *c.EndBlock)
		}
		if !c.Active && c.EndBlock == nil {
			return nil, fmt.Errorf(
				"contract %q: active=false with no end_block is ambiguous; set end_block or mark it active", c.Name)
		}

		r.byName[c.Name] = c
		r.byAddress[c.Address] = c
		r.byFamily[c.Family] = append(r.byFamily[c.Family], c)
	}

	for family, versions := range r.byFamily {
		sort.Slice(versions, func(i, j int) bool {
			return versions[i].DeploymentBlock < versions[j].DeploymentBlock
		})
		r.byFamily[family] = versions

		activeCount := 0
		for i, v := range versions {
			if v.Active {
				activeCount++
			}
			if i > 0 {
				prev := versions[i-1]
				if prev.EndBlock == nil {
					return nil, fmt.Errorf(
						"family %s: %q has no end_block but is followed by %q", family, prev.Name, v.Name)
				}
				if v.DeploymentBlock < *prev.EndBlock {
					return nil, fmt.Errorf(
						"family %s: window of %q overlaps window of %q", family, v.Name, prev.Name)
				}
			}
		}
		if activeCount > 1 {
			return nil, fmt.Errorf("family %s: more than one active version configured", family)
		}
	}

	return r, nil
}

// FindByAddress returns the contract version registered at address.
func (r *Registry) FindByAddress(address types.Address) (ContractMetadata, bool) {
	m, ok := r.byAddress[address]
	return m, ok
}

// FindActive returns the currently active version of family, if any.
func (r *Registry) FindActive(family types.ContractFamily) (ContractMetadata, bool) {
	for _, v := range r.byFamily[family] {
		if v.Active {
			return v, true
		}
	}
	return ContractMetadata{}, false
}

// FindActiveAt returns the version of family that was authoritative at
// block.
func (r *Registry) FindActiveAt(family types.ContractFamily, block types.BlockNumber) (ContractMetadata, bool) {
	for _, v := range r.byFamily[family] {
		if v.ActiveAt(block) {
			return v, true
		}
	}
	return ContractMetadata{}, false
}

// VersionsOf returns every configured version of family, sorted by
// deployment block.
func (r *Registry) VersionsOf(family types.ContractFamily) []ContractMetadata {
	out := make([]ContractMetadata, len(r.byFamily[family]))
	copy(out, r.byFamily[family])
	return out
}

// AllIntersecting returns every configured contract whose deployment
// window intersects the inclusive range [from, to].
func (r *Registry) AllIntersecting(from, to types.BlockNumber) []ContractMetadata {
	var out []ContractMetadata
	for _, versions := range r.byFamily {
		for _, v := range versions {
			if v.IntersectsRange(from, to) {
				out = append(out, v)
			}
		}
	}
	return out
}
