package ffscript

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/go-errors/errors"
)

var (
	// ErrDuplicateKeys is returned if any two of the three participant
	// keys within a bundle are identical. The multisig script degenerates
	// if a key appears twice, so bundle construction refuses it outright.
	ErrDuplicateKeys = errors.New("participant keys must be pairwise distinct")
)

const (
	// PrefundChildIndex is the BIP-32 child index used to derive a
	// participant's prefund key from their extended public key.
	PrefundChildIndex uint32 = 0

	// EscrowChildIndex is the BIP-32 child index used to derive a
	// participant's escrow key from their extended public key.
	EscrowChildIndex uint32 = 1
)

// KeyBundle holds the three x-only public keys that control a contract
// output: the borrower's ephemeral key and the two escrow agents' keys. All
// script and witness construction that involves the full key set goes
// through this type so the canonical ordering is applied consistently.
type KeyBundle struct {
	// BorrowerEph is the borrower's ephemeral public key. A fresh key is
	// generated for every contract, it is never reused.
	BorrowerEph *btcec.PublicKey

	// TedO is the key of the operational escrow agent.
	TedO *btcec.PublicKey

	// TedP is the key of the passive escrow agent.
	TedP *btcec.PublicKey
}

// NewKeyBundle creates a key bundle after checking that all three keys are
// distinct in their x-only form.
func NewKeyBundle(borrowerEph, tedO, tedP *btcec.PublicKey) (*KeyBundle, error) {
	b := schnorr.SerializePubKey(borrowerEph)
	o := schnorr.SerializePubKey(tedO)
	p := schnorr.SerializePubKey(tedP)

	if bytes.Equal(b, o) || bytes.Equal(b, p) || bytes.Equal(o, p) {
		return nil, ErrDuplicateKeys
	}

	return &KeyBundle{
		BorrowerEph: borrowerEph,
		TedO:        tedO,
		TedP:        tedP,
	}, nil
}

// SortedKeys returns the three keys ordered by the lexicographic comparison
// of their 32-byte x-only serializations. This is the canonical order used
// within the multisig script, and therefore also the order signatures must
// take on the witness stack.
func (k *KeyBundle) SortedKeys() [3]*btcec.PublicKey {
	keys := [3]*btcec.PublicKey{k.BorrowerEph, k.TedO, k.TedP}

	// Three elements, so a couple of comparisons sorts them. The
	// comparison MUST be over the x-only serialization, the same bytes
	// that end up in the script.
	if xOnlyLess(keys[1], keys[0]) {
		keys[0], keys[1] = keys[1], keys[0]
	}
	if xOnlyLess(keys[2], keys[1]) {
		keys[1], keys[2] = keys[2], keys[1]
	}
	if xOnlyLess(keys[1], keys[0]) {
		keys[0], keys[1] = keys[1], keys[0]
	}

	return keys
}

func xOnlyLess(a, b *btcec.PublicKey) bool {
	return bytes.Compare(
		schnorr.SerializePubKey(a), schnorr.SerializePubKey(b),
	) < 0
}

// Permutation maps the canonical (sorted) key positions back to the
// participants. Index i of the permutation names the participant whose key
// is the i'th smallest: 0 for the borrower, 1 for TED-O, 2 for TED-P.
type Permutation [3]int

// Permutation computes the permutation induced by the canonical sort of the
// bundle's keys.
func (k *KeyBundle) Permutation() Permutation {
	sorted := k.SortedKeys()

	oBytes := schnorr.SerializePubKey(k.TedO)
	pBytes := schnorr.SerializePubKey(k.TedP)

	// The borrower's position is whatever remains after the two TED
	// positions are fixed, so zero values don't need explicit handling.
	var perm Permutation
	for i, key := range sorted {
		keyBytes := schnorr.SerializePubKey(key)
		switch {
		case bytes.Equal(keyBytes, oBytes):
			perm[i] = 1
		case bytes.Equal(keyBytes, pBytes):
			perm[i] = 2
		}
	}

	return perm
}

// Permute reorders the given per-participant items (borrower, TED-O, TED-P)
// into the canonical key order.
func (p Permutation) Permute(items [3][]byte) [3][]byte {
	return [3][]byte{items[p[0]], items[p[1]], items[p[2]]}
}

// DeriveContractKey derives the context-specific public key for a contract
// from a participant's extended public key. The prefund and escrow contexts
// use distinct child indexes so a key observed in one context can never be
// correlated with, or substituted into, the other.
func DeriveContractKey(xpub *hdkeychain.ExtendedKey,
	childIndex uint32) (*btcec.PublicKey, error) {

	child, err := xpub.Derive(childIndex)
	if err != nil {
		return nil, fmt.Errorf("unable to derive child %d: %v",
			childIndex, err)
	}

	return child.ECPubKey()
}
