// Package nodestore persists closed ledgers and the transaction sets they
// were built from. Objects are content addressed: a node's key is its
// type and hash, its value the compressed msgpack record.
package nodestore

import (
	"encoding/hex"
	"fmt"
)

// NodeType is the kind of object a node holds.
type NodeType uint8

const (
	// NodeUnknown represents an unknown or invalid node type
	NodeUnknown NodeType = 0
	// NodeLedger holds a ledger header and its skip list
	NodeLedger NodeType = 1
	// NodeTxSet holds the transactions of a set
	NodeTxSet NodeType = 2
)

func (nt NodeType) String() string {
	switch nt {
	case NodeLedger:
		return "NodeLedger"
	case NodeTxSet:
		return "NodeTxSet"
	case NodeUnknown:
		return "NodeUnknown"
	default:
		return fmt.Sprintf("NodeType(%d)", uint8(nt))
	}
}

// Hash is the key of a node within its type.
type Hash [32]byte

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// Node is a stored object.
type Node struct {
	Type NodeType
	Hash Hash
	Data []byte
}

// Size returns the size of the node's data in bytes.
func (n *Node) Size() int {
	return len(n.Data)
}

// Statistics counts store activity.
type Statistics struct {
	Reads        uint64
	Writes       uint64
	CacheHits    uint64
	CacheMisses  uint64
	BytesWritten uint64
	BytesStored  uint64
}

// HitRate returns the fraction of reads served from the cache.
func (s Statistics) HitRate() float64 {
	total := s.CacheHits + s.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(total)
}
