package crypto

import (
	"encoding/hex"
	"fmt"
)

type CryptoType int8

const (
	CryptoTypeEd25519 CryptoType = iota
)

func (c CryptoType) String() string {
	switch c {
	case CryptoTypeEd25519:
		return "ed25519"
	default:
		return fmt.Sprintf("unknown(%d)", int8(c))
	}
}

type Signer interface {
	GetCryptoType() CryptoType
	Sign(privKey PrivateKey, msg []byte) Signature
	PubKey(privKey PrivateKey) PublicKey
	Verify(pubKey PublicKey, signature Signature, msg []byte) bool
	RandomKeyPair() (publicKey PublicKey, privateKey PrivateKey, err error)
}

type PrivateKey struct {
	Type  CryptoType
	Bytes []byte
}

type PublicKey struct {
	Type  CryptoType
	Bytes []byte
}

type Signature struct {
	Type  CryptoType
	Bytes []byte
}

func PrivateKeyFromBytes(typev CryptoType, bytes []byte) PrivateKey {
	return PrivateKey{Type: typev, Bytes: bytes}
}
func PublicKeyFromBytes(typev CryptoType, bytes []byte) PublicKey {
	return PublicKey{Type: typev, Bytes: bytes}
}
func SignatureFromBytes(typev CryptoType, bytes []byte) Signature {
	return Signature{Type: typev, Bytes: bytes}
}

func (p PublicKey) Hex() string {
	return hex.EncodeToString(p.Bytes)
}

func (p PublicKey) String() string {
	return fmt.Sprintf("%s:%s", p.Type, p.Hex())
}

// PublicKeyFromHex parses a hex encoded ed25519 public key.
func PublicKeyFromHex(s string) (PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return PublicKey{}, fmt.Errorf("bad public key hex: %w", err)
	}
	return PublicKeyFromBytes(CryptoTypeEd25519, b), nil
}
