// Package model defines the harvester's persisted entities: the raw node
// layer, the decoded codec layer, the per-runtime catalog, and control state.
// Field names follow the original polkascan harvester schema (§3 of the
// specification this module implements).
package model

import "encoding/hex"

// Hash is a 32-byte block or extrinsic hash.
type Hash [32]byte

func (h Hash) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

func HashFromHex(s string) (Hash, error) {
	var h Hash
	b, err := decodeHexPrefixed(s)
	if err != nil {
		return h, err
	}
	copy(h[:], b)
	return h, nil
}

func decodeHexPrefixed(s string) ([]byte, error) {
	if len(s) >= 2 && s[0] == '0' && s[1] == 'x' {
		s = s[2:]
	}
	return hex.DecodeString(s)
}

// NodeBlockHeader mirrors node_block_header: hash is the primary key and
// block_number is unique within the persisted range (§3 invariant).
type NodeBlockHeader struct {
	Hash            Hash
	ParentHash      Hash
	StateRoot       Hash
	ExtrinsicsRoot  Hash
	Number          []byte // Compact<BlockNumber> encoding of BlockNumber
	BlockNumber     uint64
	CountExtrinsics uint32
	CountLogs       uint32
}

// NodeBlockExtrinsic mirrors node_block_extrinsic; key=(block_hash, extrinsic_idx).
type NodeBlockExtrinsic struct {
	BlockHash    Hash
	ExtrinsicIdx uint32
	BlockNumber  uint64
	Data         []byte // payload bytes, without the length prefix
	Length       []byte // Compact<u32> length prefix bytes
	Hash         Hash   // blake2b-256(length||data)
}

// NodeBlockHeaderDigestLog mirrors node_block_header_digest_log; key=(block_hash, log_idx).
type NodeBlockHeaderDigestLog struct {
	BlockHash   Hash
	LogIdx      uint32
	BlockNumber uint64
	Data        []byte
}

// NodeBlockStorage mirrors node_block_storage; key=(block_hash, storage_key).
type NodeBlockStorage struct {
	BlockHash     Hash
	StorageKey    []byte // up to 128 bytes
	BlockNumber   uint64
	StorageModule *string
	StorageName   *string
	Data          []byte // nil == absent/empty
	Complete      bool
}

// NodeBlockRuntime mirrors node_block_runtime; key=hash.
type NodeBlockRuntime struct {
	Hash        Hash
	BlockNumber uint64
	SpecName    string
	SpecVersion uint32
}

// NodeRuntime mirrors node_runtime; key=(impl_name, impl_version, spec_name, spec_version, authoring_version).
type NodeRuntime struct {
	ImplName         string
	ImplVersion      uint32
	SpecName         string
	SpecVersion      uint32
	AuthoringVersion uint32
	APIs             []string
	Code             []byte // optional
}

// NodeMetadata mirrors node_metadata; key=(spec_name, spec_version).
type NodeMetadata struct {
	SpecName    string
	SpecVersion uint32
	BlockHash   Hash
	Data        []byte
}
