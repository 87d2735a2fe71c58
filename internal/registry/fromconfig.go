package registry

import (
	"fmt"

	"github.com/swarmstats/indexer/pkg/config"
	"github.com/swarmstats/indexer/pkg/types"
)

// FromConfig converts the raw contract declarations of a config file into
// the typed ContractMetadata New expects, so the CLI's only job is to load
// a Config and hand its Contracts slice straight to this function.
func FromConfig(contracts []config.ContractConfig) ([]ContractMetadata, error) {
	out := make([]ContractMetadata, 0, len(contracts))
	for _, c := range contracts {
		if err := c.Validate(); err != nil {
			return nil, err
		}

		address, err := types.NewAddress(c.Address)
		if err != nil {
			return nil, fmt.Errorf("contract %q: %w", c.Name, err)
		}

		family := types.ContractFamily(c.ContractType)
		if !family.Valid() {
			return nil, fmt.Errorf("contract %q: unknown contract_type %q", c.Name, c.ContractType)
		}

		var endBlock *types.BlockNumber
		if c.EndBlock != nil {
			b := types.BlockNumber(*c.EndBlock)
			endBlock = &b
		}
		var pausedAt *types.BlockNumber
		if c.PausedAt != nil {
			b := types.BlockNumber(*c.PausedAt)
			pausedAt = &b
		}

		out = append(out, ContractMetadata{
			Name:            c.Name,
			Family:          family,
			Address:         address,
			Version:         types.ContractVersion(c.Version),
			DeploymentBlock: types.BlockNumber(c.DeploymentBlock),
			EndBlock:        endBlock,
			PausedAt:        pausedAt,
			Active:          c.Active,
		})
	}
	return out, nil
}
