// Copyright © 2019 Annchain Authors <EMAIL ADDRESS>
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package committee

import (
	"errors"
	"fmt"

	"github.com/annchain/dagconsensus/common/crypto"
	"github.com/annchain/dagconsensus/types"
)

type Stake = uint64

var ErrUnknownAuthority = errors.New("authority not found in committee")

// Authority is one validator of the committee.
type Authority struct {
	Index     types.AuthorityIndex
	Hostname  string
	Stake     Stake
	PublicKey crypto.PublicKey
}

// Committee is the fixed validator set of one epoch. It is never modified
// after construction and can be shared freely.
type Committee struct {
	epoch       uint64
	authorities []Authority
	totalStake  Stake
	quorum      Stake
	validity    Stake
}

// NewCommittee computes the thresholds from the stake table. With
// f = (total-1)/3 the quorum threshold is total-f, which is 2f+1 when
// total = 3f+1, and the validity threshold is f+1.
func NewCommittee(epoch uint64, authorities []Authority) (*Committee, error) {
	if len(authorities) == 0 {
		return nil, errors.New("empty committee")
	}
	var total Stake
	for i := range authorities {
		if authorities[i].Stake == 0 {
			return nil, fmt.Errorf("authority %d has zero stake", i)
		}
		authorities[i].Index = types.AuthorityIndex(i)
		total += authorities[i].Stake
	}
	f := (total - 1) / 3
	return &Committee{
		epoch:       epoch,
		authorities: authorities,
		totalStake:  total,
		quorum:      total - f,
		validity:    f + 1,
	}, nil
}

func (c *Committee) Epoch() uint64 { return c.epoch }

func (c *Committee) Size() int { return len(c.authorities) }

func (c *Committee) TotalStake() Stake { return c.totalStake }

func (c *Committee) QuorumThreshold() Stake { return c.quorum }

func (c *Committee) ValidityThreshold() Stake { return c.validity }

func (c *Committee) ReachedQuorum(stake Stake) bool { return stake >= c.quorum }

func (c *Committee) ReachedValidity(stake Stake) bool { return stake >= c.validity }

func (c *Committee) IsValidIndex(index types.AuthorityIndex) bool {
	return int(index) < len(c.authorities)
}

func (c *Committee) Stake(index types.AuthorityIndex) Stake {
	if !c.IsValidIndex(index) {
		return 0
	}
	return c.authorities[index].Stake
}

func (c *Committee) Authority(index types.AuthorityIndex) (Authority, error) {
	if !c.IsValidIndex(index) {
		return Authority{}, fmt.Errorf("%w: %d", ErrUnknownAuthority, index)
	}
	return c.authorities[index], nil
}

func (c *Committee) Authorities() []Authority {
	return c.authorities
}

// IndexOf finds an authority by its public key.
func (c *Committee) IndexOf(pub crypto.PublicKey) (types.AuthorityIndex, error) {
	h := pub.Hex()
	for _, a := range c.authorities {
		if a.PublicKey.Hex() == h {
			return a.Index, nil
		}
	}
	return 0, ErrUnknownAuthority
}

func (c *Committee) String() string {
	return fmt.Sprintf("Committee[epoch=%d size=%d total=%d quorum=%d validity=%d]",
		c.epoch, len(c.authorities), c.totalStake, c.quorum, c.validity)
}
