package pebblekv

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"sort"
)

// Value record: kind(1B) | expiresAtMs(8B BE) | payload | crc32c(header|payload)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

const headerLen = 9

var errCorrupt = errors.New("pebblekv: corrupt record")

type kind byte

const (
	kindString kind = iota + 1
	kindList
	kindHash
	kindSet
	kindZSet
)

func (k kind) String() string {
	switch k {
	case kindString:
		return "string"
	case kindList:
		return "list"
	case kindHash:
		return "hash"
	case kindSet:
		return "set"
	case kindZSet:
		return "zset"
	}
	return fmt.Sprintf("kind(%d)", byte(k))
}

// entry is the decoded value of one logical key.
type entry struct {
	kind      kind
	expiresAt int64 // unix ms, 0 = persistent

	str  string
	list []string
	hash map[string]string
	set  map[string]struct{}
	zset map[string]float64
}

func newEntry(k kind) *entry {
	e := &entry{kind: k}
	switch k {
	case kindHash:
		e.hash = map[string]string{}
	case kindSet:
		e.set = map[string]struct{}{}
	case kindZSet:
		e.zset = map[string]float64{}
	}
	return e
}

// empty reports whether a collection has no members left; such keys are
// deleted on commit.
func (e *entry) empty() bool {
	switch e.kind {
	case kindList:
		return len(e.list) == 0
	case kindHash:
		return len(e.hash) == 0
	case kindSet:
		return len(e.set) == 0
	case kindZSet:
		return len(e.zset) == 0
	}
	return false
}

func encodeEntry(e *entry) ([]byte, error) {
	var payload []byte
	var err error
	switch e.kind {
	case kindString:
		payload = []byte(e.str)
	case kindList:
		payload, err = json.Marshal(e.list)
	case kindHash:
		payload, err = json.Marshal(e.hash)
	case kindSet:
		members := make([]string, 0, len(e.set))
		for m := range e.set {
			members = append(members, m)
		}
		sort.Strings(members)
		payload, err = json.Marshal(members)
	case kindZSet:
		payload, err = json.Marshal(e.zset)
	default:
		return nil, fmt.Errorf("pebblekv: encode %s", e.kind)
	}
	if err != nil {
		return nil, err
	}

	out := make([]byte, headerLen, headerLen+len(payload)+4)
	out[0] = byte(e.kind)
	binary.BigEndian.PutUint64(out[1:headerLen], uint64(e.expiresAt))
	out = append(out, payload...)
	crc := crc32.Checksum(out, castagnoli)
	var cb [4]byte
	binary.BigEndian.PutUint32(cb[:], crc)
	return append(out, cb[:]...), nil
}

func decodeEntry(b []byte) (*entry, error) {
	if len(b) < headerLen+4 {
		return nil, errCorrupt
	}
	body := b[:len(b)-4]
	if crc32.Checksum(body, castagnoli) != binary.BigEndian.Uint32(b[len(b)-4:]) {
		return nil, errCorrupt
	}
	e := &entry{
		kind:      kind(body[0]),
		expiresAt: int64(binary.BigEndian.Uint64(body[1:headerLen])),
	}
	payload := body[headerLen:]
	var err error
	switch e.kind {
	case kindString:
		e.str = string(payload)
	case kindList:
		err = json.Unmarshal(payload, &e.list)
	case kindHash:
		err = json.Unmarshal(payload, &e.hash)
	case kindSet:
		var members []string
		if err = json.Unmarshal(payload, &members); err == nil {
			e.set = make(map[string]struct{}, len(members))
			for _, m := range members {
				e.set[m] = struct{}{}
			}
		}
	case kindZSet:
		err = json.Unmarshal(payload, &e.zset)
	default:
		return nil, errCorrupt
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errCorrupt, err)
	}
	return e, nil
}

var (
	dataPrefix   = []byte("d/")
	expiryPrefix = []byte("e/")
)

func dataKey(key string) []byte {
	k := make([]byte, 0, len(dataPrefix)+len(key))
	k = append(k, dataPrefix...)
	return append(k, key...)
}

// expiryKey orders the expiry index by deadline: e/ | ms(8B BE) | key.
func expiryKey(ms int64, key string) []byte {
	k := make([]byte, 0, len(expiryPrefix)+8+len(key))
	k = append(k, expiryPrefix...)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(ms))
	k = append(k, b[:]...)
	return append(k, key...)
}

func parseExpiryKey(k []byte) (int64, string, bool) {
	if len(k) < len(expiryPrefix)+8 {
		return 0, "", false
	}
	ms := int64(binary.BigEndian.Uint64(k[len(expiryPrefix) : len(expiryPrefix)+8]))
	return ms, string(k[len(expiryPrefix)+8:]), true
}
