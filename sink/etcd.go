package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xiaonanln/netmon/presence"
	"github.com/xiaonanln/netmon/util/etcdmanager"
)

// EtcdSink publishes one JSON value per node under <prefix>/presence/.
// The keys share a lease, so they disappear when this server goes away.
type EtcdSink struct {
	mgr      *etcdmanager.EtcdManager
	leaseTTL int64
}

// etcdRecord extends StatusRecord with the disconnect time.
type etcdRecord struct {
	StatusRecord
	LastDisconnected int64 `json:"last_disconnected,omitempty"`
}

// NewEtcdSink connects to etcd. leaseTTL is in seconds.
func NewEtcdSink(endpoints []string, prefix string, leaseTTL int64) (*EtcdSink, error) {
	mgr, err := etcdmanager.NewEtcdManager(endpoints, prefix)
	if err != nil {
		return nil, err
	}
	if err := mgr.Connect(); err != nil {
		return nil, err
	}
	return &EtcdSink{mgr: mgr, leaseTTL: leaseTTL}, nil
}

func (s *EtcdSink) Name() string {
	return "etcd"
}

func (s *EtcdSink) Manager() *etcdmanager.EtcdManager {
	return s.mgr
}

func (s *EtcdSink) Write(ctx context.Context, snapshot []presence.NodeStatus) error {
	kvs := make(map[string]string, len(snapshot))
	for _, st := range snapshot {
		rec := etcdRecord{StatusRecord: NewStatusRecord(st)}
		if !st.LastDisconnected.IsZero() {
			rec.LastDisconnected = st.LastDisconnected.Unix()
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to encode presence of %s: %w", st.NodeID, err)
		}
		kvs[s.mgr.PresenceKey(st.NodeID)] = string(data)
	}
	return s.mgr.PutAll(ctx, kvs, s.leaseTTL)
}

func (s *EtcdSink) Close() error {
	return s.mgr.Close()
}
