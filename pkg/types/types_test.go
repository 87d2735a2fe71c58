package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewAddress(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Address
		wantErr bool
	}{
		{
			name:  "valid mixed case normalises to lowercase",
			input: "0x45a1502382541Cd610CC9068e88727426b696293",
			want:  "0x45a1502382541cd610cc9068e88727426b696293",
		},
		{
			name:    "missing 0x prefix",
			input:   "45a1502382541Cd610CC9068e88727426b696293",
			wantErr: true,
		},
		{
			name:    "wrong length",
			input:   "0x123",
			wantErr: true,
		},
		{
			name:    "non-hex characters",
			input:   "0x45a1502382541Cd610CC9068e88727426b696zz1",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewAddress(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestAddressEqualityIgnoresCase(t *testing.T) {
	a, err := NewAddress("0xABCDEF1234567890ABCDef1234567890abcDEF12")
	require.NoError(t, err)
	b, err := NewAddress("0xabcdef1234567890abcdef1234567890abcdef12")
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestRoundNumberAndPhase(t *testing.T) {
	tests := []struct {
		block       BlockNumber
		roundNumber uint64
		phase       Phase
	}{
		// Round 270_428 starts at block 41_105_056: positions 16 and 64, then
		// position 2 of the next round.
		{block: 41_105_072, roundNumber: 41_105_072 / RoundLength, phase: PhaseCommit},
		{block: 41_105_120, roundNumber: 41_105_120 / RoundLength, phase: PhaseReveal},
		{block: 41_105_210, roundNumber: 41_105_210 / RoundLength, phase: PhaseCommit},
	}

	for _, tt := range tests {
		require.Equal(t, tt.roundNumber, RoundNumber(tt.block))
		require.Equal(t, tt.phase, RoundPhase(tt.block))
	}
}

func TestParseBigUnsigned(t *testing.T) {
	v, err := ParseBigUnsigned("10000000000")
	require.NoError(t, err)
	require.Equal(t, "10000000000", v.String())

	_, err = ParseBigUnsigned("-1")
	require.Error(t, err)

	_, err = ParseBigUnsigned("not-a-number")
	require.Error(t, err)

	zero, err := ParseBigUnsigned("")
	require.NoError(t, err)
	require.Equal(t, "0", zero.String())
}
