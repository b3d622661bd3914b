package statecache

import (
	"context"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdConfig holds connection settings for EtcdStore
type EtcdConfig struct {
	Endpoints []string
	Username  string
	Password  string
	Prefix    string
	Timeout   time.Duration
}

// EtcdStore keeps the snapshot under a single etcd key so several agents can share it
type EtcdStore struct {
	client *clientv3.Client
	kv     clientv3.KV
	key    string
}

// NewEtcdStore connects to etcd
func NewEtcdStore(config EtcdConfig) (*EtcdStore, error) {
	if len(config.Endpoints) == 0 {
		return nil, fmt.Errorf("etcd endpoints are required")
	}
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   config.Endpoints,
		Username:    config.Username,
		Password:    config.Password,
		DialTimeout: timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	store := NewEtcdStoreWithKV(client, config.Prefix)
	store.client = client
	return store, nil
}

// NewEtcdStoreWithKV creates a store over an existing KV
func NewEtcdStoreWithKV(kv clientv3.KV, prefix string) *EtcdStore {
	if prefix == "" {
		prefix = "/dbagent/"
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &EtcdStore{kv: kv, key: prefix + "system-state"}
}

// Close closes the etcd client
func (e *EtcdStore) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

func (e *EtcdStore) Load(ctx context.Context) (*Snapshot, error) {
	resp, err := e.kv.Get(ctx, e.key)
	if err != nil {
		return nil, fmt.Errorf("failed to read state from etcd: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, ErrNotCached
	}
	snapshot, err := decodeSnapshot(resp.Kvs[0].Value)
	if err != nil {
		return nil, fmt.Errorf("corrupt state in etcd key %s: %w", e.key, err)
	}
	return snapshot, nil
}

func (e *EtcdStore) Save(ctx context.Context, snapshot *Snapshot) error {
	data, err := encodeSnapshot(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	if _, err := e.kv.Put(ctx, e.key, string(data)); err != nil {
		return fmt.Errorf("failed to write state to etcd: %w", err)
	}
	return nil
}

func (e *EtcdStore) Invalidate(ctx context.Context) error {
	if _, err := e.kv.Delete(ctx, e.key); err != nil {
		return fmt.Errorf("failed to delete state from etcd: %w", err)
	}
	return nil
}
