package invoice

import (
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
)

func testAddress(t *testing.T) btcutil.Address {
	t.Helper()

	var program [32]byte
	program[31] = 0x01
	addr, err := btcutil.NewAddressTaproot(
		program[:], &chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)
	return addr
}

func TestURI(t *testing.T) {
	t.Parallel()

	inv := New(testAddress(t), 105_000, "Firefish smart contract",
		"Deposit for a loan from Firefish")

	uri := inv.URI()
	require.True(t, strings.HasPrefix(uri, "bitcoin:bcrt1p"))
	require.Contains(t, uri, "?amount=0.00105&")
	require.Contains(t, uri, "label=Firefish%20smart%20contract")
	require.Contains(t, uri, "message=Deposit%20for%20a%20loan%20from%20Firefish")
}

func TestQRCodeData(t *testing.T) {
	t.Parallel()

	inv := New(testAddress(t), 150_000, "", "")

	qr := inv.QRCodeData()
	require.True(t, strings.HasPrefix(qr, "BITCOIN:BCRT1P"))
	require.Contains(t, qr, "amount=0.0015")
	require.NotContains(t, qr, "label=")
}

func TestAmountFormatting(t *testing.T) {
	t.Parallel()

	addr := testAddress(t)

	cases := []struct {
		amount btcutil.Amount
		want   string
	}{
		{btcutil.SatoshiPerBitcoin, "amount=1"},
		{btcutil.SatoshiPerBitcoin + 1, "amount=1.00000001"},
		{150_000, "amount=0.0015"},
		{21_000_000 * btcutil.SatoshiPerBitcoin, "amount=21000000"},
	}
	for _, tc := range cases {
		uri := New(addr, tc.amount, "", "").URI()
		require.Contains(t, uri, tc.want)
	}
}

func TestNoAmount(t *testing.T) {
	t.Parallel()

	uri := New(testAddress(t), 0, "x", "").URI()
	require.NotContains(t, uri, "amount=")
	require.Contains(t, uri, "?label=x")
}
