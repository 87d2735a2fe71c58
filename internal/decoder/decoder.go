// Package decoder turns raw chain logs into the two wide event rows the
// storage layer persists: stamp events (PostageStamp / StampsRegistry) and
// storage-incentives events (PriceOracle / StakeRegistry / Redistribution).
// Each contract family owns one topic-signature-to-parser table; dispatch is
// a map lookup on log.Topics[0], the same shape the ecosystem's ERC-20
// indexers use for Transfer/Approval.
package decoder

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/swarmstats/indexer/pkg/types"
)

// topicSignature returns the keccak256 hash of a canonical Solidity event
// signature, e.g. "Transfer(address,address,uint256)".
func topicSignature(signature string) common.Hash {
	return crypto.Keccak256Hash([]byte(signature))
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(fmt.Sprintf("decoder: invalid abi type %q: %v", t, err))
	}
	return typ
}

func mustTupleType(components []abi.ArgumentMarshaling) abi.Type {
	typ, err := abi.NewType("tuple", "", components)
	if err != nil {
		panic(fmt.Sprintf("decoder: invalid tuple type: %v", err))
	}
	return typ
}

func arg(name, solType string) abi.Argument {
	return abi.Argument{Name: name, Type: mustType(solType)}
}

// unpackNonIndexed decodes the non-indexed portion of a log's Data field
// against the supplied argument list, returning name-to-value pairs. Our
// event lists are flat (no nested tuples among the non-indexed fields
// except WinnerSelected's single tuple argument, unpacked separately), so a
// positional zip is sufficient.
func unpackNonIndexed(args abi.Arguments, data []byte) (map[string]interface{}, error) {
	values, err := args.UnpackValues(data)
	if err != nil {
		return nil, fmt.Errorf("unpack log data: %w", err)
	}
	out := make(map[string]interface{}, len(args))
	for i, a := range args {
		out[a.Name] = values[i]
	}
	return out, nil
}

func bigToString(v interface{}) string {
	if v == nil {
		return "0"
	}
	if s, ok := v.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%v", v)
}

// ErrUnknownEvent is returned when a log's topic signature does not match
// any parser registered for the given contract family.
type ErrUnknownEvent struct {
	Topic common.Hash
}

func (e *ErrUnknownEvent) Error() string {
	return fmt.Sprintf("decoder: unrecognised event topic %s", e.Topic.Hex())
}

// ErrAddressMismatch is returned when a log's emitting address disagrees
// with the address the registry attributed to the contract the caller
// asked for. This catches misconfigured scan ranges or registry drift; the
// ingestion engine treats it as a diagnostic, never a fatal scan error.
type ErrAddressMismatch struct {
	LogAddress      common.Address
	ExpectedAddress common.Address
}

func (e *ErrAddressMismatch) Error() string {
	return fmt.Sprintf("decoder: log emitted by %s, expected %s", e.LogAddress.Hex(), e.ExpectedAddress.Hex())
}

// requireTopics returns an error if log does not carry exactly n topics
// (the signature topic plus n-1 indexed parameters).
func requireTopics(log *gethtypes.Log, n int) error {
	if len(log.Topics) != n {
		return fmt.Errorf("expected %d topics, got %d", n, len(log.Topics))
	}
	return nil
}

func topicAddress(log *gethtypes.Log, i int) common.Address {
	return common.BytesToAddress(log.Topics[i].Bytes())
}

func topicHash(log *gethtypes.Log, i int) common.Hash {
	return log.Topics[i]
}

func addrPtr(a common.Address) *common.Address { return &a }
func hashPtr(h common.Hash) *common.Hash       { return &h }
func u8Ptr(v uint8) *uint8                     { return &v }
func u64Ptr(v uint64) *uint64                  { return &v }
func strPtr(s string) *string                  { return &s }

// FamilyDecoder decodes one contract family's log into a *StampEvent or
// *StorageIncentivesEvent, tagged with source; roundBlock is the block used
// to derive round number and phase where the family needs them.
type FamilyDecoder func(log *gethtypes.Log, source string, roundBlock types.BlockNumber) (interface{}, error)

// Registry maps contract families to their log decoder.
var Registry = map[types.ContractFamily]FamilyDecoder{
	types.FamilyPostageStamp:   decodePostageStampLog,
	types.FamilyStampsRegistry: decodeStampsRegistryLog,
	types.FamilyPriceOracle:    decodePriceOracleLog,
	types.FamilyStakeRegistry:  decodeStakeRegistryLog,
	types.FamilyRedistribution: decodeRedistributionLog,
}

// Decode dispatches log to the decoder registered for family, after
// checking that the log's emitting address matches expectedAddress — the
// address attribution §4.3 requires before any event is accepted.
// roundBlock is the block number used to derive round_number/phase for
// storage-incentives events; source is the contract's registry name,
// stamped onto the resulting row as its provenance.
func Decode(
	family types.ContractFamily,
	expectedAddress common.Address,
	log *gethtypes.Log,
	source string,
	roundBlock types.BlockNumber,
) (interface{}, error) {
	if log.Address != expectedAddress {
		return nil, &ErrAddressMismatch{LogAddress: log.Address, ExpectedAddress: expectedAddress}
	}
	fn, ok := Registry[family]
	if !ok {
		return nil, fmt.Errorf("decoder: no decoder registered for family %s", family)
	}
	result, err := fn(log, source, roundBlock)
	if err != nil {
		return nil, err
	}
	switch e := result.(type) {
	case *StampEvent:
		e.ContractFamily = family
		e.ContractAddress = log.Address
	case *StorageIncentivesEvent:
		e.ContractFamily = family
		e.ContractAddress = log.Address
	}
	return result, nil
}
