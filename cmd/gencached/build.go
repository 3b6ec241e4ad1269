package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unkn0wn-root/gencache"
	"github.com/unkn0wn-root/gencache/codec"
	asynchook "github.com/unkn0wn-root/gencache/hooks/async"
	"github.com/unkn0wn-root/gencache/hooks/prom"
	"github.com/unkn0wn-root/gencache/internal/config"
	"github.com/unkn0wn-root/gencache/lease"
	logruslog "github.com/unkn0wn-root/gencache/log/logrus"
	sloglog "github.com/unkn0wn-root/gencache/log/slog"
	zaplog "github.com/unkn0wn-root/gencache/log/zap"
	"github.com/unkn0wn-root/gencache/sloghooks"
	"github.com/unkn0wn-root/gencache/store"
	"github.com/unkn0wn-root/gencache/store/bigcache"
	"github.com/unkn0wn-root/gencache/store/postgres"
	"github.com/unkn0wn-root/gencache/store/readcache"
	redisstore "github.com/unkn0wn-root/gencache/store/redis"
)

type logging struct {
	log  gencache.Logger
	slog *slog.Logger // set only for format slog
	sync func()
}

func newLogging(cfg config.Log, w io.Writer) (logging, error) {
	switch cfg.Format {
	case "zap":
		lvl, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return logging{}, err
		}
		core := zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(w),
			lvl,
		)
		l := zap.New(core)
		return logging{log: zaplog.New(l), sync: func() { _ = l.Sync() }}, nil

	case "logrus":
		lvl, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return logging{}, err
		}
		l := logrus.New()
		l.SetOutput(w)
		l.SetFormatter(&logrus.JSONFormatter{})
		l.SetLevel(lvl)
		return logging{log: logruslog.New(l), sync: func() {}}, nil

	case "slog":
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(cfg.Level)); err != nil {
			return logging{}, err
		}
		l := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
		return logging{log: sloglog.New(l), slog: l, sync: func() {}}, nil
	}
	return logging{}, fmt.Errorf("unknown log format %q", cfg.Format)
}

// newHooks always exports prometheus metrics. With slog logging, sampled
// event logs are added behind a bounded async queue.
func newHooks(lg logging) (gencache.Hooks, *prom.Hooks, func()) {
	ph := prom.New(prom.Options{})
	if lg.slog == nil {
		return ph, ph, func() {}
	}
	ah := asynchook.New(sloghooks.New(lg.slog, sloghooks.Options{
		StrayTouchEvery:    100,
		ProtocolErrorEvery: 10,
	}), 1, 1024)
	return gencache.MultiHooks{ph, ah}, ph, ah.Close
}

func newCodec(cfg config.Config) (codec.Codec[any], error) {
	c, err := codec.ByName[any](cfg.Codec)
	if err != nil {
		return nil, err
	}
	if cfg.MaxValue > 0 {
		c = codec.Limit[any]{Inner: c, Max: cfg.MaxValue}
	}
	return c, nil
}

func newStore(ctx context.Context, cfg config.Store) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Backend {
	case "bigcache":
		st, err = bigcache.New(ctx, bigcache.Config{
			Shards:  cfg.Bigcache.Shards,
			MaxRows: cfg.Bigcache.MaxRows,
		})
	case "redis":
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
		}
		st, err = redisstore.New(redisstore.Config{
			Client:      rdb,
			Namespace:   cfg.Redis.Namespace,
			CloseClient: true,
		})
	case "postgres":
		st, err = postgres.Open(ctx,
			postgres.WithDSN(cfg.Postgres.DSN),
			postgres.WithTable(cfg.Postgres.Table),
			postgres.WithMaxOpenConns(cfg.Postgres.MaxOpenConns),
		)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	if !cfg.ReadCache.Enabled {
		return st, nil
	}
	rs, err := readcache.New(st, readcache.Config{
		NumCounters: 1e6,
		MaxCost:     cfg.ReadCache.MaxCost,
		BufferItems: 64,
	})
	if err != nil {
		_ = st.Close(ctx)
		return nil, err
	}
	return rs, nil
}

// newClaimer returns the claimer for cfg (nil for "none") and a func that
// closes any client it opened. onLost runs if an etcd claim lapses.
func newClaimer(cfg config.Config, log gencache.Logger, onLost func()) (gencache.Claimer, func(), error) {
	switch cfg.Lease.Backend {
	case "none":
		return nil, func() {}, nil
	case "local":
		return lease.NewLocal(), func() {}, nil
	case "etcd":
		cli, err := clientv3.New(clientv3.Config{
			Endpoints:   cfg.Lease.Etcd.Endpoints,
			DialTimeout: 5 * time.Second,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("etcd: %w", err)
		}
		host, _ := os.Hostname()
		e := lease.NewEtcd(cli, lease.EtcdConfig{
			Prefix: cfg.Lease.Etcd.Prefix,
			TTL:    cfg.Lease.Etcd.TTL,
			Owner:  host + cfg.Listen,
			OnLost: func(name string) {
				log.Error("store claim lost", gencache.Fields{"name": name})
				onLost()
			},
		})
		return e, func() { _ = cli.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown lease backend %q", cfg.Lease.Backend)
}
