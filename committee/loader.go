package committee

import (
	"fmt"
	"io/ioutil"

	"github.com/annchain/dagconsensus/common/crypto"
	"github.com/annchain/dagconsensus/common/io"
	"gopkg.in/yaml.v2"
)

type authorityFileEntry struct {
	Hostname  string `yaml:"hostname"`
	Stake     uint64 `yaml:"stake"`
	PublicKey string `yaml:"public_key"`
}

type committeeFile struct {
	Epoch       uint64               `yaml:"epoch"`
	Authorities []authorityFileEntry `yaml:"authorities"`
}

// LoadCommitteeFile reads the yaml committee description. Authorities are
// indexed in file order.
func LoadCommitteeFile(path string) (*Committee, error) {
	content, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read committee file: %w", err)
	}
	return ParseCommittee(content)
}

func ParseCommittee(content []byte) (*Committee, error) {
	var f committeeFile
	if err := yaml.Unmarshal(content, &f); err != nil {
		return nil, fmt.Errorf("parse committee file: %w", err)
	}
	seen := make(map[string]bool)
	authorities := make([]Authority, 0, len(f.Authorities))
	for i, entry := range f.Authorities {
		pub, err := crypto.PublicKeyFromHex(entry.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("authority %d: %w", i, err)
		}
		if len(pub.Bytes) != 32 {
			return nil, fmt.Errorf("authority %d: bad public key length %d", i, len(pub.Bytes))
		}
		if seen[entry.PublicKey] {
			return nil, fmt.Errorf("authority %d: duplicated public key", i)
		}
		seen[entry.PublicKey] = true
		authorities = append(authorities, Authority{
			Hostname:  entry.Hostname,
			Stake:     entry.Stake,
			PublicKey: pub,
		})
	}
	return NewCommittee(f.Epoch, authorities)
}

func MarshalCommittee(c *Committee) ([]byte, error) {
	f := committeeFile{Epoch: c.Epoch()}
	for _, a := range c.Authorities() {
		f.Authorities = append(f.Authorities, authorityFileEntry{
			Hostname:  a.Hostname,
			Stake:     a.Stake,
			PublicKey: a.PublicKey.Hex(),
		})
	}
	return yaml.Marshal(&f)
}

func WriteCommitteeFile(path string, c *Committee) error {
	content, err := MarshalCommittee(c)
	if err != nil {
		return err
	}
	return io.WriteFileAtomic(path, content, 0644)
}
