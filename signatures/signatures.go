package signatures

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signed is a relay signature with the address it recovers to.
type Signed struct {
	Signer    common.Address
	Signature []byte
}

// PayloadDigest is the digest relays sign for an encoded event: the eth_sign
// prefixed hash of keccak256(payload).
func PayloadDigest(payload []byte) []byte {
	return accounts.TextHash(crypto.Keccak256(payload))
}

// Recover returns the signer of a 65 byte R||S||V signature, accepting V in 0/1 or 27/28.
func Recover(hash, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, errors.New("signature must be 65 bytes")
	}
	normalized := make([]byte, crypto.SignatureLength)
	copy(normalized, sig)

	switch v := normalized[crypto.RecoveryIDOffset]; v {
	case 0, 1:
	case 27, 28:
		normalized[crypto.RecoveryIDOffset] = v - 27
	default:
		return common.Address{}, fmt.Errorf("invalid v %d (expected 0/1/27/28)", v)
	}

	pub, err := crypto.SigToPub(hash, normalized)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Collect recovers the signer of every signature. Signatures keep the V they came with.
func Collect(hash []byte, sigs [][]byte) ([]Signed, error) {
	out := make([]Signed, 0, len(sigs))
	for i, sig := range sigs {
		signer, err := Recover(hash, sig)
		if err != nil {
			return nil, fmt.Errorf("signature %d: %w", i, err)
		}
		out = append(out, Signed{Signer: signer, Signature: sig})
	}
	return out, nil
}

// SortBySigner sorts signatures by signer address in ascending numeric order,
// the order vault contracts verify them in.
func SortBySigner(signed []Signed) {
	sort.SliceStable(signed, func(i, j int) bool {
		return signed[i].Signer.Big().Cmp(signed[j].Signer.Big()) < 0
	})
}

// Ordered recovers and sorts sigs and returns the raw signatures in release order.
func Ordered(hash []byte, sigs [][]byte) ([][]byte, error) {
	signed, err := Collect(hash, sigs)
	if err != nil {
		return nil, err
	}
	SortBySigner(signed)

	out := make([][]byte, len(signed))
	for i, s := range signed {
		out[i] = s.Signature
	}
	return out, nil
}
