package etcdmanager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xiaonanln/netmon/util/logger"
	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"
)

const (
	DefaultPrefix   = "/netmon"
	DefaultLeaseTTL = 60 // seconds

	// etcd rejects transactions with more than 128 operations by default.
	maxTxnOps = 64
)

// EtcdManager manages the connection to etcd and the lease that keeps
// published presence keys alive while this server runs.
type EtcdManager struct {
	client    *clientv3.Client
	endpoints []string
	logger    *logger.Logger
	prefix    string

	leaseMu     sync.Mutex
	leaseID     clientv3.LeaseID
	leaseCancel context.CancelFunc
}

// NewEtcdManager creates a manager for the given endpoints. An empty prefix
// selects DefaultPrefix. Keys are stored under "<prefix>/presence/".
func NewEtcdManager(endpoints []string, prefix string) (*EtcdManager, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("at least one etcd endpoint is required")
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &EtcdManager{
		endpoints: endpoints,
		logger:    logger.NewLogger("EtcdManager"),
		prefix:    prefix,
	}, nil
}

// Connect establishes a connection to etcd
func (mgr *EtcdManager) Connect() error {
	mgr.logger.Infof("Connecting to etcd at %v", mgr.endpoints)

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   mgr.endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to etcd: %w", err)
	}
	mgr.client = cli

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := cli.Get(ctx, mgr.prefix, clientv3.WithCountOnly()); err != nil {
		mgr.logger.Warnf("etcd connection test failed: %v", err)
	} else {
		mgr.logger.Infof("etcd connection test successful")
	}
	return nil
}

// Close revokes the lease, if any, and closes the etcd connection
func (mgr *EtcdManager) Close() error {
	if mgr.client == nil {
		return nil
	}

	mgr.leaseMu.Lock()
	if mgr.leaseCancel != nil {
		mgr.leaseCancel()
		mgr.leaseCancel = nil
	}
	if mgr.leaseID != 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if _, err := mgr.client.Revoke(ctx, mgr.leaseID); err != nil {
			mgr.logger.Warnf("Failed to revoke lease %d: %v", mgr.leaseID, err)
		}
		cancel()
		mgr.leaseID = 0
	}
	mgr.leaseMu.Unlock()

	mgr.logger.Infof("Closing etcd connection")
	err := mgr.client.Close()
	mgr.client = nil
	return err
}

// GetClient returns the etcd client
func (mgr *EtcdManager) GetClient() *clientv3.Client {
	return mgr.client
}

// GetPrefix returns the global prefix used for all etcd keys.
func (mgr *EtcdManager) GetPrefix() string {
	return mgr.prefix
}

// GetPresencePrefix returns the prefix under which node presence is stored,
// e.g. "/netmon/presence/".
func (mgr *EtcdManager) GetPresencePrefix() string {
	return mgr.prefix + "/presence/"
}

// PresenceKey returns the key holding the presence of nodeID.
func (mgr *EtcdManager) PresenceKey(nodeID string) string {
	return mgr.GetPresencePrefix() + nodeID
}

// ensureLease grants a lease on first use and keeps it alive until Close.
func (mgr *EtcdManager) ensureLease(ctx context.Context, ttl int64) (clientv3.LeaseID, error) {
	mgr.leaseMu.Lock()
	defer mgr.leaseMu.Unlock()

	if mgr.leaseID != 0 {
		return mgr.leaseID, nil
	}

	lease, err := mgr.client.Grant(ctx, ttl)
	if err != nil {
		return 0, fmt.Errorf("failed to grant lease: %w", err)
	}

	kaCtx, kaCancel := context.WithCancel(context.Background())
	keepAliveCh, err := mgr.client.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		kaCancel()
		return 0, fmt.Errorf("failed to keep alive lease: %w", err)
	}
	mgr.leaseID = lease.ID
	mgr.leaseCancel = kaCancel
	mgr.logger.Infof("Granted lease %d with TTL %ds", lease.ID, ttl)

	go func(id clientv3.LeaseID) {
		for ka := range keepAliveCh {
			mgr.logger.Debugf("Keep-alive response for lease %d, TTL: %d", ka.ID, ka.TTL)
		}
		mgr.logger.Warnf("Keep-alive channel closed for lease %d", id)
		mgr.dropLease(id)
	}(lease.ID)

	return lease.ID, nil
}

// dropLease forgets id so the next write grants a fresh lease.
func (mgr *EtcdManager) dropLease(id clientv3.LeaseID) {
	mgr.leaseMu.Lock()
	defer mgr.leaseMu.Unlock()
	if mgr.leaseID != id {
		return
	}
	if mgr.leaseCancel != nil {
		mgr.leaseCancel()
		mgr.leaseCancel = nil
	}
	mgr.leaseID = 0
}

// PutAll writes the key/value pairs attached to the manager's lease, in
// batched transactions. ttl is used when a lease has to be granted.
func (mgr *EtcdManager) PutAll(ctx context.Context, kvs map[string]string, ttl int64) error {
	if mgr.client == nil {
		return fmt.Errorf("etcd client not connected")
	}
	if len(kvs) == 0 {
		return nil
	}
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}

	leaseID, err := mgr.ensureLease(ctx, ttl)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(kvs))
	for k := range kvs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for start := 0; start < len(keys); start += maxTxnOps {
		end := min(start+maxTxnOps, len(keys))
		ops := make([]clientv3.Op, 0, end-start)
		for _, k := range keys[start:end] {
			ops = append(ops, clientv3.OpPut(k, kvs[k], clientv3.WithLease(leaseID)))
		}
		if _, err := mgr.client.Txn(ctx).Then(ops...).Commit(); err != nil {
			if errors.Is(err, rpctypes.ErrLeaseNotFound) {
				mgr.logger.Warnf("Lease %d expired on the server", leaseID)
				mgr.dropLease(leaseID)
			}
			return fmt.Errorf("failed to put %d keys: %w", len(ops), err)
		}
	}

	mgr.logger.Debugf("Put %d keys with lease %d", len(keys), leaseID)
	return nil
}

// Get retrieves a value from etcd
func (mgr *EtcdManager) Get(ctx context.Context, key string) (string, error) {
	if mgr.client == nil {
		return "", fmt.Errorf("etcd client not connected")
	}

	resp, err := mgr.client.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to get key %s: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return "", fmt.Errorf("key not found: %s", key)
	}
	return string(resp.Kvs[0].Value), nil
}

// GetAllPresence returns every key/value under the presence prefix
func (mgr *EtcdManager) GetAllPresence(ctx context.Context) (map[string]string, error) {
	if mgr.client == nil {
		return nil, fmt.Errorf("etcd client not connected")
	}

	resp, err := mgr.client.Get(ctx, mgr.GetPresencePrefix(), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to get presence: %w", err)
	}

	out := make(map[string]string, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		out[string(kv.Key)] = string(kv.Value)
	}
	return out, nil
}
