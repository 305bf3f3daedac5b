package schema

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// snapshotVersion is bumped when the encoded layout changes shape.
const snapshotVersion = 1

type snapshot struct {
	Version int     `msgpack:"version"`
	Dialect string  `msgpack:"dialect"`
	Layout  *Layout `msgpack:"layout"`
}

// EncodeSnapshot serializes a layout compiled for the named dialect.
func EncodeSnapshot(d string, l *Layout) ([]byte, error) {
	b, err := msgpack.Marshal(&snapshot{Version: snapshotVersion, Dialect: d, Layout: l})
	if err != nil {
		return nil, fmt.Errorf("relvar: encode snapshot: %w", err)
	}
	return b, nil
}

// DecodeSnapshot restores a layout and the dialect it was compiled for.
func DecodeSnapshot(b []byte) (string, *Layout, error) {
	var s snapshot
	if err := msgpack.Unmarshal(b, &s); err != nil {
		return "", nil, fmt.Errorf("relvar: decode snapshot: %w", err)
	}
	if s.Version != snapshotVersion {
		return "", nil, fmt.Errorf("relvar: unsupported snapshot version %d", s.Version)
	}
	if s.Layout == nil {
		s.Layout = &Layout{}
	}
	return s.Dialect, s.Layout, nil
}
