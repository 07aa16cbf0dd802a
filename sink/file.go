package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xiaonanln/netmon/presence"
)

// FileSink rewrites a JSON status file keyed by node id:
//
//	{"node-01": {"status": "online", "total_downtime": 12, "last_seen": 1700000000}}
type FileSink struct {
	path string
}

func NewFileSink(path string) (*FileSink, error) {
	if path == "" {
		return nil, fmt.Errorf("status file path is required")
	}
	return &FileSink{path: path}, nil
}

func (s *FileSink) Name() string {
	return "file"
}

func (s *FileSink) Path() string {
	return s.path
}

// Write replaces the file atomically so readers never see a partial document.
func (s *FileSink) Write(ctx context.Context, snapshot []presence.NodeStatus) error {
	doc := make(map[string]StatusRecord, len(snapshot))
	for _, st := range snapshot {
		doc[st.NodeID] = NewStatusRecord(st)
	}
	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode status: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp status file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write status file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close status file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace status file: %w", err)
	}
	return nil
}

func (s *FileSink) Close() error {
	return nil
}
