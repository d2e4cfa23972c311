package committee

import (
	"fmt"

	"github.com/annchain/dagconsensus/common/crypto"
)

// NewLocalCommittee generates fresh ed25519 keys for every stake entry. It is
// used by keygen and by tests.
func NewLocalCommittee(epoch uint64, stakes []Stake) (*Committee, []crypto.PrivateKey, error) {
	signer := &crypto.SignerEd25519{}
	authorities := make([]Authority, 0, len(stakes))
	keys := make([]crypto.PrivateKey, 0, len(stakes))
	for i, stake := range stakes {
		pub, priv, err := signer.RandomKeyPair()
		if err != nil {
			return nil, nil, err
		}
		authorities = append(authorities, Authority{
			Hostname:  fmt.Sprintf("authority-%d", i),
			Stake:     stake,
			PublicKey: pub,
		})
		keys = append(keys, priv)
	}
	c, err := NewCommittee(epoch, authorities)
	if err != nil {
		return nil, nil, err
	}
	return c, keys, nil
}

// MustLocalCommittee panics on failure, handy for tests.
func MustLocalCommittee(epoch uint64, stakes []Stake) (*Committee, []crypto.PrivateKey) {
	c, keys, err := NewLocalCommittee(epoch, stakes)
	if err != nil {
		panic(err)
	}
	return c, keys
}

func EqualStakes(n int) []Stake {
	stakes := make([]Stake, n)
	for i := range stakes {
		stakes[i] = 1
	}
	return stakes
}
