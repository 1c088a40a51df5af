package etcd

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/cybertec-postgresql/mailsync/internal/retry"
)

// NewClientWithRetry connects to etcd and retries until the account lock keyspace can be read.
// A malformed DSN is returned at once.
func NewClientWithRetry(ctx context.Context, dsn string) (*Client, error) {
	if _, err := parseEtcdDSN(dsn); err != nil {
		return nil, fmt.Errorf("failed to parse etcd DSN: %w", err)
	}

	var client *Client
	err := retry.WithOperation(ctx, retry.EtcdDefaults(), func(ctx context.Context) error {
		var err error
		if client, err = NewClient(dsn); err != nil {
			return err
		}
		locks, err := client.client.Get(ctx, LockKey(client.prefix, ""), clientv3.WithPrefix(), clientv3.WithCountOnly())
		if err != nil {
			_ = client.Close()
			return err
		}
		logrus.WithField("held", locks.Count).Debug("Account lock keyspace is readable")
		return nil
	}, "etcd connect")

	if err != nil {
		logrus.WithError(err).Error("Failed to establish etcd connection after all retries")
		return nil, err
	}
	return client, nil
}
