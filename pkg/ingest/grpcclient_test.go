package ingest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTxUpdateMarshalUnmarshalRoundTrip(t *testing.T) {
	original := txUpdate{
		Signature:    "sig-xyz",
		Slot:         4242,
		AccountKeys:  []string{"wallet-a", "wallet-b"},
		PreBalances:  []int64{5_000_000_000, 1_000_000_000},
		PostBalances: []int64{1_000_000_000, 5_000_000_000},
	}

	encoded := original.marshal()
	require.NotEmpty(t, encoded)

	var decoded txUpdate
	require.NoError(t, decoded.unmarshal(encoded))
	require.Equal(t, original, decoded)
}

func TestTxUpdateUnmarshalEmptyPayloadYieldsZeroValue(t *testing.T) {
	var decoded txUpdate
	require.NoError(t, decoded.unmarshal(nil))
	require.Equal(t, txUpdate{}, decoded)
}

func TestRawCodecRoundTripsThroughRegisteredInterface(t *testing.T) {
	var codec rawCodec
	require.Equal(t, "txupdate", codec.Name())

	original := &txUpdate{Signature: "sig-codec", Slot: 7}
	data, err := codec.Marshal(original)
	require.NoError(t, err)

	var decoded txUpdate
	require.NoError(t, codec.Unmarshal(data, &decoded))
	require.Equal(t, *original, decoded)
}

func TestRawCodecRejectsUnsupportedType(t *testing.T) {
	var codec rawCodec
	_, err := codec.Marshal("not-a-txupdate")
	require.Error(t, err)

	var notATxUpdate int
	err = codec.Unmarshal([]byte{}, &notATxUpdate)
	require.Error(t, err)
}
