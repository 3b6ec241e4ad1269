package lease

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

type EtcdConfig struct {
	Prefix string        // "" => "/gencache/owners"
	TTL    time.Duration // lease TTL; 0 => 10s, rounded up to whole seconds
	Owner  string        // written as the key's value, e.g. host:port

	// OnLost is called once if keep-alives stop before release, i.e. the
	// claim may now be held by someone else.
	OnLost func(name string)
}

// Etcd claims names cluster-wide by creating <Prefix>/<name> under a lease
// that is kept alive until release.
type Etcd struct {
	kv    clientv3.KV
	lease clientv3.Lease
	cfg   EtcdConfig
}

func NewEtcd(cli *clientv3.Client, cfg EtcdConfig) *Etcd {
	return newEtcd(cli.KV, cli.Lease, cfg)
}

func newEtcd(kv clientv3.KV, ls clientv3.Lease, cfg EtcdConfig) *Etcd {
	if cfg.Prefix == "" {
		cfg.Prefix = "/gencache/owners"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Second
	}
	return &Etcd{kv: kv, lease: ls, cfg: cfg}
}

func (e *Etcd) ttlSeconds() int64 {
	s := int64((e.cfg.TTL + time.Second - 1) / time.Second)
	return max(s, 1)
}

func (e *Etcd) Claim(ctx context.Context, name string) (func(context.Context) error, error) {
	key := path.Join(e.cfg.Prefix, name)

	grant, err := e.lease.Grant(ctx, e.ttlSeconds())
	if err != nil {
		return nil, fmt.Errorf("lease: grant: %w", err)
	}

	resp, err := e.kv.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, e.cfg.Owner, clientv3.WithLease(grant.ID))).
		Else(clientv3.OpGet(key)).
		Commit()
	if err != nil {
		_, _ = e.lease.Revoke(context.WithoutCancel(ctx), grant.ID)
		return nil, fmt.Errorf("lease: claim %q: %w", key, err)
	}
	if !resp.Succeeded {
		_, _ = e.lease.Revoke(context.WithoutCancel(ctx), grant.ID)
		return nil, fmt.Errorf("%w: %q held by %q", ErrHeld, key, holder(resp))
	}

	kaCtx, cancel := context.WithCancel(context.Background())
	ch, err := e.lease.KeepAlive(kaCtx, grant.ID)
	if err != nil {
		cancel()
		_, _ = e.lease.Revoke(context.WithoutCancel(ctx), grant.ID)
		return nil, fmt.Errorf("lease: keepalive: %w", err)
	}

	done := make(chan struct{})
	go func() {
		for range ch {
		}
		select {
		case <-done:
		default:
			if e.cfg.OnLost != nil {
				e.cfg.OnLost(name)
			}
		}
	}()

	var once sync.Once
	var relErr error
	return func(ctx context.Context) error {
		once.Do(func() {
			close(done)
			cancel()
			if _, err := e.lease.Revoke(ctx, grant.ID); err != nil {
				relErr = fmt.Errorf("lease: revoke: %w", err)
			}
		})
		return relErr
	}, nil
}

func holder(resp *clientv3.TxnResponse) string {
	for _, r := range resp.Responses {
		if rr := r.GetResponseRange(); rr != nil && len(rr.Kvs) > 0 {
			return string(rr.Kvs[0].Value)
		}
	}
	return ""
}
