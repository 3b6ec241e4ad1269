package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/unkn0wn-root/gencache"
)

const (
	serviceName   = "gencache.v1.Cache"
	sessionMethod = "/" + serviceName + "/Session"
)

// DefaultMaxBacklog is the number of undelivered notifications after which
// a client is disconnected.
const DefaultMaxBacklog = 1024

type sessionHandler interface {
	session(stream grpc.ServerStream) error
}

// ServiceDesc describes the Session stream for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*sessionHandler)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Session",
			Handler:       sessionStreamHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "gencache/v1/cache.proto",
}

func sessionStreamHandler(srv any, stream grpc.ServerStream) error {
	return srv.(sessionHandler).session(stream)
}

type ServerOptions struct {
	MaxBacklog int             // 0 => DefaultMaxBacklog; < 0 => unbounded
	Logger     gencache.Logger // nil => NopLogger
	Hooks      gencache.Hooks  // nil => NopHooks

	// ProtocolLogInterval throttles protocol-error log lines; hooks still see
	// every one. 0 => 10s.
	ProtocolLogInterval time.Duration
}

// Server exposes a gencache Service over gRPC.
type Server[V any] struct {
	svc   *gencache.Service[V]
	max   int
	log   gencache.Logger
	hooks gencache.Hooks

	protoLog *rate.Sometimes
}

func NewServer[V any](svc *gencache.Service[V], opts ServerOptions) *Server[V] {
	s := &Server[V]{
		svc:   svc,
		max:   opts.MaxBacklog,
		log:   opts.Logger,
		hooks: opts.Hooks,
	}
	if s.max == 0 {
		s.max = DefaultMaxBacklog
	}
	if s.log == nil {
		s.log = gencache.NopLogger{}
	}
	if s.hooks == nil {
		s.hooks = gencache.NopHooks{}
	}
	iv := opts.ProtocolLogInterval
	if iv <= 0 {
		iv = 10 * time.Second
	}
	s.protoLog = &rate.Sometimes{First: 1, Interval: iv}
	return s
}

// Register adds the Session service to gs.
func (s *Server[V]) Register(gs *grpc.Server) {
	gs.RegisterService(&ServiceDesc, s)
}

var (
	errBacklog     = status.Error(codes.ResourceExhausted, "gencache: client too slow, notification backlog exceeded")
	errUnavailable = status.Error(codes.Unavailable, "gencache: service closed")
)

func (s *Server[V]) session(stream grpc.ServerStream) error {
	ctx := stream.Context()
	cl := newClient[V](uuid.NewString(), s.max)

	fields := gencache.Fields{"client": cl.id}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		fields["peer"] = p.Addr.String()
	}
	s.log.Info("gencache: session opened", fields)

	run := s.svc.OnConnect(cl)
	select {
	case <-run.Done():
		if errors.Is(run.Err(), gencache.ErrClosed) {
			s.log.Info("gencache: session refused, service closed", fields)
			return errUnavailable
		}
	default:
	}
	defer s.svc.OnDisconnect(cl)

	sendc := make(chan error, 1)
	go func() { sendc <- s.pump(stream, cl) }()
	recvc := make(chan error, 1)
	go func() { recvc <- s.readLoop(ctx, stream, cl) }()

	var err error
	select {
	case err = <-recvc:
		cl.close("recv")
		<-sendc
	case err = <-sendc:
		cl.close("send")
	}

	switch reason := cl.closeReason(); {
	case errors.Is(err, errBacklog):
		s.hooks.ClientDropped(cl.id, "backlog")
		s.log.Warn("gencache: client dropped", gencache.Fields{"client": cl.id, "reason": "backlog"})
	case reason == "send" && err != nil:
		s.hooks.ClientDropped(cl.id, "send_error")
		s.log.Warn("gencache: client dropped", gencache.Fields{"client": cl.id, "reason": "send_error", "err": err})
	default:
		s.log.Info("gencache: session closed", gencache.Fields{"client": cl.id})
	}
	return err
}

// pump writes queued notifications to the stream until the client closes.
func (s *Server[V]) pump(stream grpc.ServerStream, cl *client[V]) error {
	for {
		batch, ok := cl.next()
		if !ok {
			if cl.closeReason() == "backlog" {
				return errBacklog
			}
			return nil
		}
		for _, n := range batch {
			f, err := encodeNotification(n)
			if err != nil {
				s.log.Error("gencache: notification not encodable", gencache.Fields{"client": cl.id, "err": err})
				continue
			}
			if err := stream.SendMsg(f); err != nil {
				return err
			}
		}
	}
}

func (s *Server[V]) readLoop(ctx context.Context, stream grpc.ServerStream, cl *client[V]) error {
	for {
		var raw RawFrame
		if err := stream.RecvMsg(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		s.handle(ctx, cl, raw)
	}
}

func (s *Server[V]) handle(ctx context.Context, cl *client[V], raw RawFrame) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		s.protocolError(cl, "decode", err)
		return
	}

	switch f.Kind {
	case KindFetch:
		if _, err := s.svc.OnFetch(ctx, cl, f.Keys); err != nil {
			s.log.Error("gencache: fetch failed", gencache.Fields{"client": cl.id, "keys": len(f.Keys), "err": err})
		}
	case KindUpdate:
		entries := make([]gencache.Entry[V], 0, len(f.Entries))
		for _, we := range f.Entries {
			var v V
			if err := json.Unmarshal(we.Value, &v); err != nil {
				s.protocolError(cl, "bad_value", fmt.Errorf("transport: decode %q: %w", we.Key, err))
				continue
			}
			entries = append(entries, gencache.Entry[V]{Key: we.Key, Value: v})
		}
		if len(entries) > 0 {
			s.svc.OnUpdate(cl, entries)
		}
	default:
		s.protocolError(cl, "unknown_kind", nil)
	}
}

func (s *Server[V]) protocolError(cl *client[V], reason string, err error) {
	s.hooks.ProtocolError(cl.id, reason)
	s.protoLog.Do(func() {
		f := gencache.Fields{"client": cl.id, "reason": reason}
		if err != nil {
			f["err"] = err
		}
		s.log.Warn("gencache: malformed client message dropped", f)
	})
}
