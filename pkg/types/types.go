// Package types defines the primitive value types shared across the
// indexer: addresses, block numbers, big unsigned amounts and the
// redistribution-round derivations computed from a block number.
package types

import (
	"fmt"
	"math/big"
	"strings"
)

// Address is a 20-byte account identifier rendered as lowercase hex with a
// 0x prefix. Equality is exact string equality after normalisation.
type Address string

// NewAddress validates and normalises a hex-encoded address string.
func NewAddress(s string) (Address, error) {
	if !strings.HasPrefix(s, "0x") {
		return "", fmt.Errorf("invalid address %q: must start with 0x", s)
	}
	if len(s) != 42 {
		return "", fmt.Errorf("invalid address %q: must be 42 characters (0x + 40 hex chars), got %d", s, len(s))
	}
	for _, c := range s[2:] {
		if !isHexDigit(c) {
			return "", fmt.Errorf("invalid address %q: contains non-hex characters", s)
		}
	}
	return Address(strings.ToLower(s)), nil
}

func isHexDigit(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func (a Address) String() string { return string(a) }

// IsZero reports whether a is the empty address.
func (a Address) IsZero() bool { return a == "" }

// BlockNumber is a non-negative block height with a total order.
type BlockNumber uint64

func (b BlockNumber) String() string { return fmt.Sprintf("%d", uint64(b)) }

// ContractFamily identifies one of the fixed set of contract kinds the
// indexer understands.
type ContractFamily string

const (
	FamilyPostageStamp   ContractFamily = "PostageStamp"
	FamilyStampsRegistry ContractFamily = "StampsRegistry"
	FamilyPriceOracle    ContractFamily = "PriceOracle"
	FamilyStakeRegistry  ContractFamily = "StakeRegistry"
	FamilyRedistribution ContractFamily = "Redistribution"
)

// AllFamilies enumerates every recognised contract family.
var AllFamilies = []ContractFamily{
	FamilyPostageStamp,
	FamilyStampsRegistry,
	FamilyPriceOracle,
	FamilyStakeRegistry,
	FamilyRedistribution,
}

// Valid reports whether f is one of AllFamilies.
func (f ContractFamily) Valid() bool {
	for _, candidate := range AllFamilies {
		if candidate == f {
			return true
		}
	}
	return false
}

// ContractVersion is an opaque label such as "v0.9.4"; no ordering is
// assumed between versions.
type ContractVersion string

// RoundLength is the number of blocks in one redistribution round.
const RoundLength = 152

const (
	commitPhaseEnd = 38
	revealPhaseEnd = 76
)

// Phase is one of the three stages of a redistribution round.
type Phase string

const (
	PhaseCommit Phase = "commit"
	PhaseReveal Phase = "reveal"
	PhaseClaim  Phase = "claim"
)

// RoundNumber derives the redistribution round a block belongs to.
func RoundNumber(block BlockNumber) uint64 {
	return uint64(block) / RoundLength
}

// RoundPhase derives the commit/reveal/claim phase for a block within its
// round.
func RoundPhase(block BlockNumber) Phase {
	position := uint64(block) % RoundLength
	switch {
	case position < commitPhaseEnd:
		return PhaseCommit
	case position < revealPhaseEnd:
		return PhaseReveal
	default:
		return PhaseClaim
	}
}

// BigUnsigned wraps a non-negative arbitrary-precision integer for token
// amounts and prices. It marshals to and from a decimal string so it can be
// stored as TEXT without precision loss.
type BigUnsigned struct {
	v *big.Int
}

// NewBigUnsigned wraps i as a BigUnsigned. A nil i is treated as zero.
func NewBigUnsigned(i *big.Int) BigUnsigned {
	if i == nil {
		return BigUnsigned{v: new(big.Int)}
	}
	return BigUnsigned{v: new(big.Int).Set(i)}
}

// BigUnsignedFromUint64 wraps a uint64 as a BigUnsigned.
func BigUnsignedFromUint64(u uint64) BigUnsigned {
	return BigUnsigned{v: new(big.Int).SetUint64(u)}
}

// ParseBigUnsigned parses a decimal string into a BigUnsigned.
func ParseBigUnsigned(s string) (BigUnsigned, error) {
	if s == "" {
		return BigUnsigned{v: new(big.Int)}, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return BigUnsigned{}, fmt.Errorf("invalid unsigned integer %q", s)
	}
	if v.Sign() < 0 {
		return BigUnsigned{}, fmt.Errorf("unsigned integer %q must not be negative", s)
	}
	return BigUnsigned{v: v}, nil
}

// Int returns the underlying big.Int. Callers must not mutate it.
func (b BigUnsigned) Int() *big.Int {
	if b.v == nil {
		return new(big.Int)
	}
	return b.v
}

func (b BigUnsigned) String() string {
	if b.v == nil {
		return "0"
	}
	return b.v.String()
}

// Sign returns -1, 0 or +1 as b.Int() is negative, zero or positive.
func (b BigUnsigned) Sign() int {
	if b.v == nil {
		return 0
	}
	return b.v.Sign()
}
