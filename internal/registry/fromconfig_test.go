package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/swarmstats/indexer/pkg/config"
	"github.com/swarmstats/indexer/pkg/types"
)

func uint64Ptr(v uint64) *uint64 { return &v }

func TestFromConfigConvertsFields(t *testing.T) {
	metas, err := FromConfig([]config.ContractConfig{
		{
			Name:            "PostageStamp-v1",
			ContractType:    "PostageStamp",
			Address:         "0x0000000000000000000000000000000000000A",
			DeploymentBlock: 100,
			Version:         "1.0.0",
			EndBlock:        uint64Ptr(200),
			PausedAt:        uint64Ptr(150),
		},
	})
	require.NoError(t, err)
	require.Len(t, metas, 1)

	got := metas[0]
	require.Equal(t, "PostageStamp-v1", got.Name)
	require.Equal(t, types.FamilyPostageStamp, got.Family)
	require.Equal(t, types.Address("0x0000000000000000000000000000000000000a"), got.Address, "address is lowercased by types.NewAddress")
}

func TestFromConfigLowercasesAddress(t *testing.T) {
	metas, err := FromConfig([]config.ContractConfig{
		{
			Name:            "PostageStamp-v1",
			ContractType:    "PostageStamp",
			Address:         "0x0000000000000000000000000000000000000A",
			DeploymentBlock: 100,
			Active:          true,
		},
	})
	require.NoError(t, err)
	require.Equal(t, types.Address("0x0000000000000000000000000000000000000a"), metas[0].Address)
}

func TestFromConfigRejectsInvalidBaseConfig(t *testing.T) {
	_, err := FromConfig([]config.ContractConfig{{
		ContractType: "PostageStamp",
		Address:      "0x0000000000000000000000000000000000000a",
	}})
	require.Error(t, err, "missing name should fail ContractConfig.Validate")
}

func TestFromConfigRejectsInvalidAddress(t *testing.T) {
	_, err := FromConfig([]config.ContractConfig{{
		Name:         "PostageStamp-v1",
		ContractType: "PostageStamp",
		Address:      "not-an-address",
	}})
	require.Error(t, err)
}

func TestFromConfigRejectsUnknownContractType(t *testing.T) {
	_, err := FromConfig([]config.ContractConfig{{
		Name:         "Mystery-v1",
		ContractType: "Mystery",
		Address:      "0x0000000000000000000000000000000000000a",
		Active:       true,
	}})
	require.Error(t, err)
}

func TestFromConfigOmitsNilEndBlockAndPausedAt(t *testing.T) {
	metas, err := FromConfig([]config.ContractConfig{{
		Name:            "PostageStamp-v1",
		ContractType:    "PostageStamp",
		Address:         "0x0000000000000000000000000000000000000a",
		DeploymentBlock: 1,
		Active:          true,
	}})
	require.NoError(t, err)
	require.Nil(t, metas[0].EndBlock)
	require.Nil(t, metas[0].PausedAt)
}

func TestFromConfigFeedsIntoNew(t *testing.T) {
	metas, err := FromConfig([]config.ContractConfig{{
		Name:            "PostageStamp-v1",
		ContractType:    "PostageStamp",
		Address:         "0x0000000000000000000000000000000000000a",
		DeploymentBlock: 1,
		Active:          true,
	}})
	require.NoError(t, err)

	reg, err := New(metas)
	require.NoError(t, err)
	_, ok := reg.FindActive(types.FamilyPostageStamp)
	require.True(t, ok)
}
