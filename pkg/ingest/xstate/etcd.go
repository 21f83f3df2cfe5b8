package xstate

import (
	"context"
	"fmt"

	clientv3 "go.etcd.io/etcd/client/v3"
)

var _ Store = (*EtcdStore)(nil)

// etcdKV EtcdStore 使用的 KV 子集，方法签名与 clientv3.KV 一致。
type etcdKV interface {
	Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error)
	Put(ctx context.Context, key, val string, opts ...clientv3.OpOption) (*clientv3.PutResponse, error)
	Delete(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.DeleteResponse, error)
}

var _ etcdKV = (clientv3.KV)(nil)

// EtcdStore 把状态保存在 etcd 中，适合已有 etcd 的部署。
type EtcdStore struct {
	kv     etcdKV
	prefix string
}

// NewEtcdStore 创建 etcd 存储，prefix 为空时使用 "/xingest/state/"。
// 传入 *clientv3.Client 或 clientv3.NewKV(client) 均可，不关闭客户端。
func NewEtcdStore(kv clientv3.KV, prefix string) (*EtcdStore, error) {
	if kv == nil {
		return nil, ErrNilClient
	}
	return newEtcdStore(kv, prefix), nil
}

func newEtcdStore(kv etcdKV, prefix string) *EtcdStore {
	if prefix == "" {
		prefix = "/xingest/state/"
	}
	return &EtcdStore{kv: kv, prefix: prefix}
}

// Load 实现 Store
func (s *EtcdStore) Load(ctx context.Context, key string) (*State, error) {
	key, err := validateKey(key)
	if err != nil {
		return nil, err
	}
	resp, err := s.kv.Get(ctx, s.prefix+key)
	if err != nil {
		return nil, fmt.Errorf("xstate: etcd get %s: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, ErrNotFound
	}
	return Unmarshal(resp.Kvs[0].Value)
}

// Save 实现 Store
func (s *EtcdStore) Save(ctx context.Context, key string, st *State) error {
	key, err := validateKey(key)
	if err != nil {
		return err
	}
	data, err := Marshal(st)
	if err != nil {
		return err
	}
	if _, err := s.kv.Put(ctx, s.prefix+key, string(data)); err != nil {
		return fmt.Errorf("xstate: etcd put %s: %w", key, err)
	}
	return nil
}

// Delete 实现 Store
func (s *EtcdStore) Delete(ctx context.Context, key string) error {
	key, err := validateKey(key)
	if err != nil {
		return err
	}
	if _, err := s.kv.Delete(ctx, s.prefix+key); err != nil {
		return fmt.Errorf("xstate: etcd delete %s: %w", key, err)
	}
	return nil
}
