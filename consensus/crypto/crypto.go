// Package crypto adapts the project's secp256k1 key material to the
// consensus core's Crypto collaborator (§3, hash/sign/verify/aggregate).
package crypto

import (
	"bytes"

	"overlord/consensus/types"
	nhbcrypto "overlord/crypto"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Signer implements types.Crypto using secp256k1 ECDSA signatures recovered
// against the authority's addresses. Aggregation has no native secp256k1
// multisignature scheme, so AggregateSignatures concatenates fixed-width
// recoverable signatures in canonical voter order; VerifyAggregatedSignature
// unpacks and recovers each in turn. This mirrors the bitmap-plus-blob shape
// every AggregatedSignature carries on the wire (§4.2) without inventing a
// cryptographic primitive the rest of the stack does not already depend on.
type Signer struct {
	key *nhbcrypto.PrivateKey
}

func NewSigner(key *nhbcrypto.PrivateKey) *Signer {
	return &Signer{key: key}
}

const sigLen = 65

func (s *Signer) Hash(data []byte) types.Hash {
	h := ethcrypto.Keccak256(data)
	hash, _ := types.HashFromBytes(h)
	return hash
}

func (s *Signer) Sign(hash types.Hash) (types.Signature, error) {
	sig, err := ethcrypto.Sign(hash[:], s.key.PrivateKey)
	if err != nil {
		return nil, types.NewErrorf(types.ErrCrypto, "sign: %v", err)
	}
	return types.Signature(sig), nil
}

func (s *Signer) VerifySignature(sig types.Signature, hash types.Hash, addr types.Address) error {
	if len(sig) != sigLen {
		return types.NewError(types.ErrCrypto, "signature has unexpected length")
	}
	pub, err := ethcrypto.SigToPub(hash[:], sig)
	if err != nil {
		return types.NewErrorf(types.ErrCrypto, "recover: %v", err)
	}
	recovered := ethcrypto.PubkeyToAddress(*pub).Bytes()
	if !bytes.Equal(recovered, addr.Bytes()) {
		return types.NewError(types.ErrCrypto, "signature address mismatch")
	}
	return nil
}

// AggregateSignatures concatenates one recoverable signature per voter, in
// the order voters was given. The caller (the State driver) is
// responsible for building voters in canonical authority order so every
// replica derives an identical AggregatedSignature.AddressBitmap/Signature
// pair for the same set of votes.
func (s *Signer) AggregateSignatures(sigs []types.Signature, voters []types.Address) (types.Signature, error) {
	if len(sigs) != len(voters) {
		return nil, types.NewError(types.ErrCrypto, "aggregate: sigs/voters length mismatch")
	}
	out := make([]byte, 0, len(sigs)*sigLen)
	for _, sig := range sigs {
		if len(sig) != sigLen {
			return nil, types.NewError(types.ErrCrypto, "aggregate: unexpected signature length")
		}
		out = append(out, sig...)
	}
	return types.Signature(out), nil
}

// VerifyAggregatedSignature splits agg.Signature back into sigLen chunks,
// one per entry of voters in that order, and recovers each against hash.
// agg.AddressBitmap is not read here; the caller derives voters from it.
func (s *Signer) VerifyAggregatedSignature(agg types.AggregatedSignature, hash types.Hash, voters []types.Address) error {
	if len(agg.Signature)%sigLen != 0 {
		return types.NewError(types.ErrCrypto, "aggregated signature is not a multiple of the single-signature length")
	}
	chunks := len(agg.Signature) / sigLen
	if chunks != len(voters) {
		return types.NewErrorf(types.ErrCrypto, "aggregated signature carries %d chunks for %d voters", chunks, len(voters))
	}
	for i, voter := range voters {
		chunk := agg.Signature[i*sigLen : (i+1)*sigLen]
		if err := s.VerifySignature(types.Signature(chunk), hash, voter); err != nil {
			return types.NewErrorf(types.ErrCrypto, "voter %s: %v", voter, err)
		}
	}
	return nil
}
