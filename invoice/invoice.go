// Package invoice implements BIP-21 payment URIs for handing a funding
// request to an external wallet.
package invoice

import (
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
)

// Invoice is a Bitcoin address with an amount and descriptive metadata,
// renderable as a BIP-21 URI.
type Invoice struct {
	// Address is the address to pay.
	Address btcutil.Address

	// Amount is the amount to pay.
	Amount btcutil.Amount

	// Label identifies the receiver to the payer's wallet.
	Label string

	// Message describes the payment to the payer.
	Message string
}

// New creates an invoice.
func New(address btcutil.Address, amount btcutil.Amount, label,
	message string) *Invoice {

	return &Invoice{
		Address: address,
		Amount:  amount,
		Label:   label,
		Message: message,
	}
}

// URI renders the standard BIP-21 form, suitable as a clickable link:
//
//	bitcoin:<address>?amount=<btc>&label=...&message=...
func (i *Invoice) URI() string {
	return i.render(false)
}

// QRCodeData renders the alternate form with the scheme and address in
// upper case. Upper case letters fall into the QR alphanumeric mode, which
// makes the codes considerably smaller; a few ancient wallets can't parse
// it, so this form should go into QR codes only, never on screen.
func (i *Invoice) QRCodeData() string {
	return i.render(true)
}

func (i *Invoice) render(upper bool) string {
	var b strings.Builder

	addr := i.Address.String()
	if upper {
		b.WriteString("BITCOIN:")
		b.WriteString(strings.ToUpper(addr))
	} else {
		b.WriteString("bitcoin:")
		b.WriteString(addr)
	}

	sep := byte('?')
	writeParam := func(key, value string) {
		if value == "" {
			return
		}
		b.WriteByte(sep)
		sep = '&'
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(value)
	}

	if i.Amount != 0 {
		writeParam("amount", formatBTC(i.Amount))
	}
	writeParam("label", escapeParam(i.Label))
	writeParam("message", escapeParam(i.Message))

	return b.String()
}

// formatBTC renders an amount as a decimal bitcoin value with no trailing
// zeroes, the representation BIP-21 prescribes.
func formatBTC(amount btcutil.Amount) string {
	whole := uint64(amount) / uint64(btcutil.SatoshiPerBitcoin)
	frac := uint64(amount) % uint64(btcutil.SatoshiPerBitcoin)
	if frac == 0 {
		return strconv.FormatUint(whole, 10)
	}

	fracStr := strconv.FormatUint(frac, 10)
	for len(fracStr) < 8 {
		fracStr = "0" + fracStr
	}
	fracStr = strings.TrimRight(fracStr, "0")
	return strconv.FormatUint(whole, 10) + "." + fracStr
}

// escapeParam percent-encodes a query value. Unreserved characters pass
// through; everything else, including space, is escaped so the URI survives
// QR readers and href attributes alike.
func escapeParam(s string) string {
	const unreserved = "ABCDEFGHIJKLMNOPQRSTUVWXYZ" +
		"abcdefghijklmnopqrstuvwxyz0123456789-_.~"

	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if strings.IndexByte(unreserved, c) >= 0 {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte("0123456789ABCDEF"[c>>4])
		b.WriteByte("0123456789ABCDEF"[c&0x0f])
	}
	return b.String()
}
