package transport

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/unkn0wn-root/gencache"
	"github.com/unkn0wn-root/gencache/store/bigcache"
)

const bufSize = 1024 * 1024

type icon struct {
	URL  string `json:"url"`
	Size int    `json:"size"`
}

type recHooks struct {
	gencache.NopHooks

	mu       sync.Mutex
	protocol []string
	dropped  []string
}

func (h *recHooks) ProtocolError(_, reason string) {
	h.mu.Lock()
	h.protocol = append(h.protocol, reason)
	h.mu.Unlock()
}

func (h *recHooks) ClientDropped(_, reason string) {
	h.mu.Lock()
	h.dropped = append(h.dropped, reason)
	h.mu.Unlock()
}

func (h *recHooks) protocolErrors() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.protocol...)
}

func startServer(t *testing.T, hooks gencache.Hooks) (*gencache.Service[icon], *bufconn.Listener) {
	t.Helper()
	st, err := bigcache.New(t.Context(), bigcache.Config{})
	if err != nil {
		t.Fatal(err)
	}
	svc, err := gencache.New(t.Context(), gencache.Options[icon]{Store: st})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = svc.Close(context.Background()) })

	lis := bufconn.Listen(bufSize)
	gs := grpc.NewServer()
	NewServer(svc, ServerOptions{Hooks: hooks}).Register(gs)
	t.Cleanup(gs.Stop)
	go func() { _ = gs.Serve(lis) }()
	return svc, lis
}

func dial(t *testing.T, lis *bufconn.Listener) *grpc.ClientConn {
	t.Helper()
	conn, err := grpc.NewClient("passthrough:///bufconn",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func open(t *testing.T, cc *grpc.ClientConn) *Conn[icon] {
	t.Helper()
	c, err := Open[icon](t.Context(), cc)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// recv reads with a deadline so a missing notification fails instead of
// hanging the test.
func recv(t *testing.T, c *Conn[icon]) gencache.Notification[icon] {
	t.Helper()
	type result struct {
		n   gencache.Notification[icon]
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := c.Recv()
		ch <- result{n, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			t.Fatalf("Recv: %v", r.err)
		}
		return r.n
	case <-time.After(5 * time.Second):
		t.Fatal("no notification")
		return gencache.Notification[icon]{}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRegisterService(t *testing.T) {
	s := grpc.NewServer()
	NewServer[icon](nil, ServerOptions{}).Register(s)
	si, ok := s.GetServiceInfo()[serviceName]
	if !ok || len(si.Methods) != 1 || si.Methods[0].Name != "Session" {
		t.Fatalf("service info = %+v", si)
	}
}

func TestUpdateBroadcastsAndFetchAnswers(t *testing.T) {
	svc, lis := startServer(t, nil)
	cc := dial(t, lis)
	writer, watcher := open(t, cc), open(t, cc)
	waitFor(t, "two clients", func() bool { return svc.Stats().Clients == 2 })

	want := icon{URL: "https://example.com/favicon.ico", Size: 16}
	if err := writer.Update(gencache.Entry[icon]{Key: "example.com", Value: want}); err != nil {
		t.Fatal(err)
	}
	for _, c := range []*Conn[icon]{writer, watcher} {
		n := recv(t, c)
		if n.Kind != gencache.Updated || len(n.Entries) != 1 || n.Entries[0].Value != want {
			t.Fatalf("broadcast = %+v", n)
		}
	}

	if err := watcher.Fetch("example.com", "missing.org"); err != nil {
		t.Fatal(err)
	}
	n := recv(t, watcher)
	if n.Kind != gencache.Updated || len(n.Entries) != 1 || n.Entries[0].Key != "example.com" {
		t.Fatalf("fetch answer = %+v", n)
	}
}

func TestMalformedFramesAreDropped(t *testing.T) {
	h := &recHooks{}
	svc, lis := startServer(t, h)
	c := open(t, dial(t, lis))
	waitFor(t, "client", func() bool { return svc.Stats().Clients == 1 })

	bad := RawFrame(`{not json`)
	if err := c.send(&bad); err != nil {
		t.Fatal(err)
	}
	if err := c.send(&Frame{Kind: "delete", Keys: []string{"a"}}); err != nil {
		t.Fatal(err)
	}
	badValue := RawFrame(`{"kind":"update","entries":[{"key":"a","value":"not an icon"}]}`)
	if err := c.send(&badValue); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "protocol errors", func() bool { return len(h.protocolErrors()) == 3 })
	if got := h.protocolErrors(); got[0] != "decode" || got[1] != "unknown_kind" || got[2] != "bad_value" {
		t.Fatalf("reasons = %v", got)
	}

	// the stream survives
	if err := c.Update(gencache.Entry[icon]{Key: "a", Value: icon{URL: "u"}}); err != nil {
		t.Fatal(err)
	}
	if n := recv(t, c); n.Kind != gencache.Updated || n.Entries[0].Key != "a" {
		t.Fatalf("after malformed frames: %+v", n)
	}
}

func TestCloseDisconnects(t *testing.T) {
	svc, lis := startServer(t, nil)
	c := open(t, dial(t, lis))
	waitFor(t, "connect", func() bool { return svc.Stats().Clients == 1 })
	_ = c.Close()
	waitFor(t, "disconnect", func() bool { return svc.Stats().Clients == 0 })
}

func TestBacklogCutsClientOff(t *testing.T) {
	cl := newClient[icon]("slow", 2)
	n := gencache.Notification[icon]{Kind: gencache.Expired, Keys: []string{"a"}}
	cl.Send(n)
	cl.Send(n)
	if cl.backlog() != 2 {
		t.Fatalf("backlog = %d", cl.backlog())
	}
	cl.Send(n)

	select {
	case <-cl.done:
	default:
		t.Fatal("client not closed past its backlog")
	}
	if cl.closeReason() != "backlog" || cl.backlog() != 0 {
		t.Fatalf("reason=%q backlog=%d", cl.closeReason(), cl.backlog())
	}
	if _, ok := cl.next(); ok {
		t.Fatal("next returned work after close")
	}
	cl.Send(n) // no-op, no panic
}

func TestMailboxPreservesOrder(t *testing.T) {
	cl := newClient[icon]("c", -1)
	for _, k := range []string{"a", "b", "c"} {
		cl.Send(gencache.Notification[icon]{Kind: gencache.Expired, Keys: []string{k}})
	}
	got, ok := cl.next()
	if !ok || len(got) != 3 || got[0].Keys[0] != "a" || got[2].Keys[0] != "c" {
		t.Fatalf("next = %+v ok=%v", got, ok)
	}
}

func TestBadEntryDoesNotSinkFrame(t *testing.T) {
	h := &recHooks{}
	svc, lis := startServer(t, h)
	c := open(t, dial(t, lis))
	waitFor(t, "client", func() bool { return svc.Stats().Clients == 1 })

	mixed := RawFrame(`{"kind":"update","entries":[` +
		`{"key":"a","value":"not an icon"},` +
		`{"key":"b","value":{"url":"u","size":16}}]}`)
	if err := c.send(&mixed); err != nil {
		t.Fatal(err)
	}
	n := recv(t, c)
	if n.Kind != gencache.Updated || len(n.Entries) != 1 || n.Entries[0].Key != "b" || n.Entries[0].Value.Size != 16 {
		t.Fatalf("got %+v, want only b", n)
	}
	if got := h.protocolErrors(); len(got) != 1 || got[0] != "bad_value" {
		t.Fatalf("reasons = %v", got)
	}
}

func TestSessionRefusedAfterClose(t *testing.T) {
	svc, lis := startServer(t, nil)
	if err := svc.Close(t.Context()); err != nil {
		t.Fatal(err)
	}
	c := open(t, dial(t, lis))
	_, err := c.Recv()
	if status.Code(err) != codes.Unavailable {
		t.Fatalf("Recv = %v, want Unavailable", err)
	}
	if n := svc.Stats().Clients; n != 0 {
		t.Fatalf("clients = %d", n)
	}
}
