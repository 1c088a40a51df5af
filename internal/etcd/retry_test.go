package etcd

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
)

func TestNewClientWithRetryMalformedDSN(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()

	client, err := NewClientWithRetry(context.Background(), "http://etcd1:2379")
	assert.ErrorContains(t, err, "failed to parse etcd DSN")
	assert.Nil(t, client)
	assert.Empty(t, hook.AllEntries(), "a malformed DSN is not retried")
}

func TestNewClientWithRetryGivesUpWithContext(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	client, err := NewClientWithRetry(ctx, "etcd://127.0.0.1:1/mail?dial_timeout=100ms")
	assert.Error(t, err)
	assert.Nil(t, client)
	if assert.NotNil(t, hook.LastEntry()) {
		assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
		assert.Equal(t, "Failed to establish etcd connection after all retries", hook.LastEntry().Message)
	}
}
