package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdTestMutex ensures only one etcd integration test runs at a time.
var EtcdTestMutex sync.Mutex

// PrepareEtcdPrefix returns a key prefix unique to the test and deletes
// everything under it when the test ends. The test is skipped when etcd is
// not reachable at endpoint.
func PrepareEtcdPrefix(t *testing.T, endpoint string) string {
	t.Helper()

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   []string{endpoint},
		DialTimeout: 2 * time.Second,
	})
	if err != nil {
		t.Skipf("Skipping test - etcd not available: %v", err)
		return ""
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := cli.Get(ctx, "netmon-test-connection"); err != nil {
		cli.Close()
		t.Skipf("Skipping test - etcd not available: %v", err)
		return ""
	}

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	prefix := fmt.Sprintf("/netmon-test/%s-%d", name, time.Now().UnixNano())

	t.Cleanup(func() {
		defer cli.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := cli.Delete(ctx, prefix, clientv3.WithPrefix()); err != nil {
			t.Logf("Warning: failed to clean up etcd prefix %s: %v", prefix, err)
		}
	})
	return prefix
}
