package storage

import (
	"encoding/binary"

	"github.com/annchain/dagconsensus/types"
)

// All integers are big endian so that key order follows numeric order.
var (
	prefixBlock           = []byte("bk")
	prefixBlockByAuthor   = []byte("ba")
	prefixCommit          = []byte("cm")
	prefixScheduleVersion = []byte("ls")
)

func blockKey(ref types.BlockRef) []byte {
	k := make([]byte, 0, len(prefixBlock)+8+types.DigestLength)
	k = append(k, prefixBlock...)
	k = appendUint32(k, uint32(ref.Round))
	k = appendUint32(k, uint32(ref.Author))
	return append(k, ref.Digest[:]...)
}

func authorPrefix(author types.AuthorityIndex) []byte {
	k := make([]byte, 0, len(prefixBlockByAuthor)+4)
	k = append(k, prefixBlockByAuthor...)
	return appendUint32(k, uint32(author))
}

func blockByAuthorKey(ref types.BlockRef) []byte {
	k := authorPrefix(ref.Author)
	k = appendUint32(k, uint32(ref.Round))
	return append(k, ref.Digest[:]...)
}

func blockByAuthorStart(author types.AuthorityIndex, round types.Round) []byte {
	return appendUint32(authorPrefix(author), uint32(round))
}

// refFromAuthorKey decodes a key produced by blockByAuthorKey.
func refFromAuthorKey(key []byte) (types.BlockRef, bool) {
	p := len(prefixBlockByAuthor)
	if len(key) != p+8+types.DigestLength {
		return types.BlockRef{}, false
	}
	var ref types.BlockRef
	ref.Author = types.AuthorityIndex(binary.BigEndian.Uint32(key[p:]))
	ref.Round = types.Round(binary.BigEndian.Uint32(key[p+4:]))
	copy(ref.Digest[:], key[p+8:])
	return ref, true
}

func commitKey(index types.CommitIndex) []byte {
	k := make([]byte, 0, len(prefixCommit)+4)
	k = append(k, prefixCommit...)
	return appendUint32(k, uint32(index))
}

func scheduleVersionKey(start types.Round) []byte {
	k := make([]byte, 0, len(prefixScheduleVersion)+4)
	k = append(k, prefixScheduleVersion...)
	return appendUint32(k, uint32(start))
}

func appendUint32(b []byte, v uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return append(b, buf[:]...)
}
