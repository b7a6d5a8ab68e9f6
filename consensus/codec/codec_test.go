package codec

import (
	"testing"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/require"

	"overlord/consensus/types"
)

func rlpEncodeUnknownUpdateFrom() ([]byte, error) {
	return rlp.EncodeToBytes(rlpUpdateFrom{Tag: 9, Body: []byte{0xc0}})
}

type testContent struct {
	Value uint64
}

func hashOf(b byte) types.Hash {
	var h types.Hash
	h[31] = b
	return h
}

func addrOf(b byte) types.Address {
	var a types.Address
	a[19] = b
	return a
}

func sampleAggregatedVote() types.AggregatedVote {
	return types.AggregatedVote{
		Signature: types.AggregatedSignature{Signature: types.Signature([]byte("sixty-five-byte-signature-placeholder-padded-out-to-length-65!!!!")), AddressBitmap: []byte{0b101}},
		VoteType:  types.VoteTypePrecommit,
		Height:    10,
		Round:     2,
		BlockHash: hashOf(7),
		Leader:    addrOf(1),
	}
}

func TestEncodeVoteIsCanonical(t *testing.T) {
	v := types.Vote{Height: 3, Round: 1, VoteType: types.VoteTypePrevote, BlockHash: hashOf(5)}
	a, err := EncodeVote(v)
	require.NoError(t, err)
	b, err := EncodeVote(v)
	require.NoError(t, err)
	require.True(t, Canonical(a, b))
}

func TestSignedVoteRoundTrip(t *testing.T) {
	sv := types.SignedVote{
		Vote:      types.Vote{Height: 3, Round: 1, VoteType: types.VoteTypePrevote, BlockHash: hashOf(5)},
		Voter:     addrOf(9),
		Signature: types.Signature([]byte("sig")),
	}
	data, err := EncodeSignedVote(sv)
	require.NoError(t, err)

	got, err := DecodeSignedVote(data)
	require.NoError(t, err)
	require.Equal(t, sv, got)
}

func TestDecodeSignedVoteRejectsTruncatedData(t *testing.T) {
	sv := types.SignedVote{Vote: types.Vote{Height: 1}, Voter: addrOf(1), Signature: types.Signature([]byte("sig"))}
	data, err := EncodeSignedVote(sv)
	require.NoError(t, err)

	_, err = DecodeSignedVote(data[:len(data)-2])
	require.Error(t, err)
}

func TestAggregatedVoteRoundTrip(t *testing.T) {
	v := sampleAggregatedVote()
	data, err := EncodeAggregatedVote(v)
	require.NoError(t, err)

	got, err := DecodeAggregatedVote(data)
	require.NoError(t, err)
	require.Equal(t, v, got)
}

func TestProposalRoundTripWithoutLock(t *testing.T) {
	p := types.Proposal[testContent]{
		Height:    4,
		Round:     0,
		Content:   testContent{Value: 42},
		BlockHash: hashOf(3),
		Proposer:  addrOf(2),
	}
	data, err := EncodeProposal(p)
	require.NoError(t, err)

	got, err := DecodeProposal[testContent](data)
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestProposalRoundTripWithLock(t *testing.T) {
	p := types.Proposal[testContent]{
		Height:    4,
		Round:     1,
		Content:   testContent{Value: 7},
		BlockHash: hashOf(3),
		Proposer:  addrOf(2),
		Lock: &types.PoLC{
			LockRound: 0,
			LockVotes: sampleAggregatedVote(),
		},
	}
	data, err := EncodeProposal(p)
	require.NoError(t, err)

	got, err := DecodeProposal[testContent](data)
	require.NoError(t, err)
	require.Equal(t, p, got)
	require.NotNil(t, got.Lock)
}

func TestSignedProposalRoundTrip(t *testing.T) {
	sp := types.SignedProposal[testContent]{
		Signature: types.Signature([]byte("sig")),
		Proposal: types.Proposal[testContent]{
			Height:    1,
			Content:   testContent{Value: 1},
			BlockHash: hashOf(1),
			Proposer:  addrOf(1),
		},
	}
	data, err := EncodeSignedProposal(sp)
	require.NoError(t, err)

	got, err := DecodeSignedProposal[testContent](data)
	require.NoError(t, err)
	require.Equal(t, sp, got)
}

func TestCommitRoundTrip(t *testing.T) {
	c := types.Commit[testContent]{
		Height:  5,
		Content: testContent{Value: 100},
		Proof: types.Proof{
			Height:    5,
			Round:     2,
			BlockHash: hashOf(6),
			Signature: types.Signature([]byte("proof-sig")),
		},
	}
	data, err := EncodeCommit(c)
	require.NoError(t, err)

	got, err := DecodeCommit[testContent](data)
	require.NoError(t, err)
	require.Equal(t, c, got)
}

func TestUpdateFromRoundTripAllTags(t *testing.T) {
	prevote := types.UpdateFromPrevoteQC(sampleAggregatedVote())
	data, err := EncodeUpdateFrom(prevote)
	require.NoError(t, err)
	got, err := DecodeUpdateFrom(data)
	require.NoError(t, err)
	require.True(t, got.IsPrevoteQC())
	require.Equal(t, sampleAggregatedVote(), got.PrevoteQC())

	precommit := types.UpdateFromPrecommitQC(sampleAggregatedVote())
	data, err = EncodeUpdateFrom(precommit)
	require.NoError(t, err)
	got, err = DecodeUpdateFrom(data)
	require.NoError(t, err)
	require.True(t, got.IsPrecommitQC())

	choke := types.UpdateFromChokeQC(types.AggregatedChoke{Height: 1, Round: 3, Voters: []types.Address{addrOf(1), addrOf(2)}})
	data, err = EncodeUpdateFrom(choke)
	require.NoError(t, err)
	got, err = DecodeUpdateFrom(data)
	require.NoError(t, err)
	require.Equal(t, choke.ChokeQC(), got.ChokeQC())
}

func TestDecodeUpdateFromRejectsUnknownTag(t *testing.T) {
	bad, err := rlpEncodeUnknownUpdateFrom()
	require.NoError(t, err)

	_, err = DecodeUpdateFrom(bad)
	require.Error(t, err)
}

func TestWalLockRoundTrip(t *testing.T) {
	l := types.WalLock[testContent]{
		LockRound: 2,
		LockVotes: sampleAggregatedVote(),
		Content:   testContent{Value: 9},
	}
	data, err := EncodeWalLock(l)
	require.NoError(t, err)

	got, err := DecodeWalLock[testContent](data)
	require.NoError(t, err)
	require.Equal(t, l, got)
}

func TestWalInfoRoundTripWithoutLock(t *testing.T) {
	w := types.WalInfo[testContent]{
		Height: 3,
		Round:  1,
		Step:   types.StepPrevote,
		From:   types.UpdateFromPrevoteQC(sampleAggregatedVote()),
	}
	data, err := EncodeWalInfo(w)
	require.NoError(t, err)

	got, err := DecodeWalInfo[testContent](data)
	require.NoError(t, err)
	require.Equal(t, w, got)
}

func TestWalInfoRoundTripWithLock(t *testing.T) {
	w := types.WalInfo[testContent]{
		Height: 3,
		Round:  1,
		Step:   types.StepPrecommit,
		From:   types.UpdateFromPrecommitQC(sampleAggregatedVote()),
		Lock: &types.WalLock[testContent]{
			LockRound: 0,
			LockVotes: sampleAggregatedVote(),
			Content:   testContent{Value: 3},
		},
	}
	data, err := EncodeWalInfo(w)
	require.NoError(t, err)

	got, err := DecodeWalInfo[testContent](data)
	require.NoError(t, err)
	require.Equal(t, w, got)
	require.NotNil(t, got.Lock)
}

func TestEncodeChokeIsCanonical(t *testing.T) {
	c := types.Choke{Height: 2, Round: 1, From: types.UpdateFromPrevoteQC(sampleAggregatedVote())}
	a, err := EncodeChoke(c)
	require.NoError(t, err)
	b, err := EncodeChoke(c)
	require.NoError(t, err)
	require.True(t, Canonical(a, b))
}

func TestSignedChokeRoundTrip(t *testing.T) {
	sc := types.SignedChoke{
		Signature: types.Signature([]byte("sig")),
		Choke:     types.Choke{Height: 2, Round: 1, From: types.UpdateFromPrevoteQC(sampleAggregatedVote())},
		Address:   addrOf(4),
	}
	data, err := EncodeSignedChoke(sc)
	require.NoError(t, err)

	got, err := DecodeSignedChoke(data)
	require.NoError(t, err)
	require.Equal(t, sc, got)
}

func TestAggregatedChokeRoundTrip(t *testing.T) {
	c := types.AggregatedChoke{
		Height:    6,
		Round:     2,
		Signature: types.Signature([]byte("agg-sig")),
		Voters:    []types.Address{addrOf(1), addrOf(3)},
	}
	data, err := EncodeAggregatedChoke(c)
	require.NoError(t, err)

	got, err := DecodeAggregatedChoke(data)
	require.NoError(t, err)
	require.Equal(t, c, got)
}

func TestDecodeProposalRejectsGarbage(t *testing.T) {
	_, err := DecodeProposal[testContent]([]byte{0xff, 0xff, 0xff})
	require.Error(t, err)
}

func TestDecodeCommitRejectsGarbage(t *testing.T) {
	_, err := DecodeCommit[testContent]([]byte{0xff, 0xff, 0xff})
	require.Error(t, err)
}
