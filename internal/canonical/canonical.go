// Package canonical implements the normative content-hashing rule: JSON with
// lexicographically sorted keys and no superfluous whitespace, hashed with
// SHA-256 and hex-encoded. Two processes hashing the same logical content
// must produce byte-identical digests.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Marshal serializes v into canonical JSON. Struct field order is not
// canonical, so the value is round-tripped through generic maps first;
// json.Marshal emits map keys in sorted order and compact form.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical marshal: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("canonical normalize: %w", err)
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("canonical remarshal: %w", err)
	}
	return out, nil
}

// Hash returns the hex-encoded SHA-256 of the canonical serialization of v.
func Hash(v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Bucket maps a position id onto a task bucket. xxhash64 over the UTF-8
// bytes keeps the partitioning deterministic across processes and platforms.
func Bucket(positionID string, hashMod int) int {
	if hashMod <= 1 {
		return 0
	}
	return int(xxhash.Sum64String(positionID) % uint64(hashMod))
}
