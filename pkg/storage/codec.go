package storage

import (
	"encoding/json"
	"fmt"
)

// EncodeSnapshot serializes a snapshot to bytes
func EncodeSnapshot(s *Snapshot) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot %s: %w", s.Key, err)
	}
	return data, nil
}

// DecodeSnapshot deserializes bytes to a snapshot
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &s, nil
}
