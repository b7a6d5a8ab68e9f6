package collector

import "overlord/consensus/types"

type chokeSlot struct {
	byVoter map[types.Address]types.SignedChoke
	qc      *types.AggregatedChoke
}

// Choke is the per-round signed-choke store with ChokeQC derivation.
type Choke struct {
	rounds map[uint64]*chokeSlot
}

func NewChoke() *Choke {
	return &Choke{rounds: make(map[uint64]*chokeSlot)}
}

func (c *Choke) slot(round uint64) *chokeSlot {
	s, ok := c.rounds[round]
	if !ok {
		s = &chokeSlot{byVoter: make(map[types.Address]types.SignedChoke)}
		c.rounds[round] = s
	}
	return s
}

func (c *Choke) Insert(round uint64, sc types.SignedChoke) {
	s := c.slot(round)
	s.byVoter[sc.Address] = sc
}

func (c *Choke) GetChokes(round uint64) ([]types.SignedChoke, bool) {
	s, ok := c.rounds[round]
	if !ok {
		return nil, false
	}
	out := make([]types.SignedChoke, 0, len(s.byVoter))
	for _, sc := range s.byVoter {
		out = append(out, sc)
	}
	return out, true
}

func (c *Choke) SetQC(round uint64, qc types.AggregatedChoke) {
	s := c.slot(round)
	q := qc
	s.qc = &q
}

func (c *Choke) GetQC(round uint64) (types.AggregatedChoke, bool) {
	s, ok := c.rounds[round]
	if !ok || s.qc == nil {
		return types.AggregatedChoke{}, false
	}
	return *s.qc, true
}

// MaxRoundAboveThreshold returns the highest round whose choke count
// strictly exceeds 2/3 of authorityLen, or false if none qualifies.
func (c *Choke) MaxRoundAboveThreshold(authorityLen int) (uint64, bool) {
	var best uint64
	found := false
	for round, s := range c.rounds {
		if len(s.byVoter)*3 > authorityLen*2 {
			if !found || round > best {
				best = round
				found = true
			}
		}
	}
	return best, found
}

// Clear drops every cached choke, used on goto_new_height.
func (c *Choke) Clear() {
	c.rounds = make(map[uint64]*chokeSlot)
}
