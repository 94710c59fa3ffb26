// Package dedupe drops messages the gateway has already handled.
//
// A gateway hears the same radio transmission more than once when the link
// layer retransmits after a lost ACK, or when the same message is bridged in
// over several transports. Recently seen messages are tracked in circular
// buffers: every message by an 8-byte truncated BLAKE2b-256 hash of its raw
// bytes, and data messages additionally by their (node, message number) pair
// so a retransmission with a re-sampled field is still recognized.
package dedupe

import (
	"sync"

	"golang.org/x/crypto/blake2b"

	"github.com/kabili207/sensornet-go/core/codec"
)

const (
	// DefaultMaxHashes is the default capacity for the raw message hash table.
	DefaultMaxHashes = 128
	// DefaultMaxSequences is the default capacity for the data message sequence table.
	DefaultMaxSequences = 64
	// HashSize is the truncated hash size used for deduplication.
	HashSize = 8
)

type sequenceKey struct {
	node    uint8
	message uint32
	used    bool
}

// Deduplicator tracks recently seen messages. It is safe for concurrent use.
type Deduplicator struct {
	mu        sync.Mutex
	hashes    []byte // circular buffer of HashSize-byte hashes
	used      []bool
	hashNodes []uint8 // sending node per hash slot, 0 if unknown
	seqs      []sequenceKey
	maxHashes int
	maxSeqs   int
	nextHash  int
	nextSeq   int
}

// New creates a Deduplicator with default buffer sizes.
func New() *Deduplicator {
	return NewWithCapacity(DefaultMaxHashes, DefaultMaxSequences)
}

// NewWithCapacity creates a Deduplicator with the specified buffer sizes.
func NewWithCapacity(maxHashes, maxSeqs int) *Deduplicator {
	return &Deduplicator{
		hashes:    make([]byte, maxHashes*HashSize),
		used:      make([]bool, maxHashes),
		hashNodes: make([]uint8, maxHashes),
		seqs:      make([]sequenceKey, maxSeqs),
		maxHashes: maxHashes,
		maxSeqs:   maxSeqs,
	}
}

// HasSeen reports whether the message was seen before. If not, it is
// recorded and false is returned.
func (d *Deduplicator) HasSeen(data []byte) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	var node uint8
	switch codec.GetMessageType(data) {
	case codec.TypeDataMessage:
		if dm, err := codec.ParseDataMessage(data); err == nil {
			node = dm.Node
			if d.hasSeenSequence(dm.Node, dm.Message) {
				return true
			}
		}
	case codec.TypeText:
		if tm, err := codec.ParseTextMessage(data); err == nil {
			node = tm.Node
		}
	}
	return d.hasSeenHash(data, node)
}

// ForgetNode drops every entry recorded for node. A leaf that rejoins
// restarts its message numbers at 1, so entries from before the join would
// otherwise hide its fresh messages.
func (d *Deduplicator) ForgetNode(node uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := range d.maxSeqs {
		if d.seqs[i].used && d.seqs[i].node == node {
			d.seqs[i] = sequenceKey{}
		}
	}
	if node == 0 {
		return
	}
	for i := range d.maxHashes {
		if d.used[i] && d.hashNodes[i] == node {
			d.used[i] = false
			d.hashNodes[i] = 0
		}
	}
}

func (d *Deduplicator) hasSeenSequence(node uint8, message uint32) bool {
	key := sequenceKey{node: node, message: message, used: true}
	for i := range d.maxSeqs {
		if d.seqs[i] == key {
			return true
		}
	}

	d.seqs[d.nextSeq] = key
	d.nextSeq = (d.nextSeq + 1) % d.maxSeqs
	return false
}

func (d *Deduplicator) hasSeenHash(data []byte, node uint8) bool {
	hash := CalculateHash(data)

	for i := range d.maxHashes {
		offset := i * HashSize
		if d.used[i] && [HashSize]byte(d.hashes[offset:offset+HashSize]) == hash {
			return true
		}
	}

	offset := d.nextHash * HashSize
	copy(d.hashes[offset:offset+HashSize], hash[:])
	d.used[d.nextHash] = true
	d.hashNodes[d.nextHash] = node
	d.nextHash = (d.nextHash + 1) % d.maxHashes
	return false
}

// Clear forgets all previously seen messages.
func (d *Deduplicator) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	clear(d.hashes)
	clear(d.used)
	clear(d.hashNodes)
	clear(d.seqs)
	d.nextHash = 0
	d.nextSeq = 0
}

// CalculateHash computes the deduplication hash of a raw message.
func CalculateHash(data []byte) [HashSize]byte {
	sum := blake2b.Sum256(data)
	var result [HashSize]byte
	copy(result[:], sum[:HashSize])
	return result
}
