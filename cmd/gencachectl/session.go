package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"time"

	"github.com/maruel/subcommands"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/unkn0wn-root/gencache"
	"github.com/unkn0wn-root/gencache/transport"
)

type errUsage string

func (e errUsage) Error() string { return "usage: " + string(e) }

type sessionRun struct {
	subcommands.CommandRunBase
	addr    string
	timeout time.Duration
}

func (r *sessionRun) registerSessionFlags(timeout time.Duration) {
	r.Flags.StringVar(&r.addr, "addr", "localhost:7070", "session endpoint host:port")
	r.Flags.DurationVar(&r.timeout, "timeout", timeout, "how long to wait for replies; 0 = forever")
}

// open dials the session endpoint. The returned cancel ends the session and
// closes the connection.
func (r *sessionRun) open(ctx context.Context) (*transport.Conn[any], context.CancelFunc, error) {
	cc, err := grpc.NewClient(r.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, err
	}
	cancel := func() {}
	if r.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
	}
	conn, err := transport.Open[any](ctx, cc)
	if err != nil {
		cancel()
		_ = cc.Close()
		return nil, nil, err
	}
	return conn, func() {
		_ = conn.Close()
		cancel()
		_ = cc.Close()
	}, nil
}

// await receives until every key in want has shown up in an updated
// notification, or the session ends.
func await(conn *transport.Conn[any], want map[string]bool) (map[string]any, error) {
	got := make(map[string]any, len(want))
	for len(got) < len(want) {
		n, err := conn.Recv()
		if err != nil {
			return got, err
		}
		if n.Kind != gencache.Updated {
			continue
		}
		for _, e := range n.Entries {
			if want[e.Key] {
				got[e.Key] = e.Value
			}
		}
	}
	return got, nil
}

func missing(want map[string]bool, got map[string]any) []string {
	var out []string
	for k := range want {
		if _, ok := got[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

type fetchRun struct{ sessionRun }

func cmdFetch() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "fetch [-addr host:port] key...",
		ShortDesc: "reads keys and refreshes their generation",
		LongDesc:  "Reads keys and refreshes their generation. Keys with no row are reported as missing once -timeout passes.",
		CommandRun: func() subcommands.CommandRun {
			c := &fetchRun{}
			c.registerSessionFlags(2 * time.Second)
			return c
		},
	}
}

func (r *fetchRun) Run(a subcommands.Application, args []string, _ subcommands.Env) int {
	if len(args) == 0 {
		return done(a, errUsage("fetch key..."))
	}
	conn, closeConn, err := r.open(context.Background())
	if err != nil {
		return done(a, err)
	}
	defer closeConn()

	want := make(map[string]bool, len(args))
	for _, k := range args {
		want[k] = true
	}
	if err := conn.Fetch(args...); err != nil {
		return done(a, err)
	}
	got, err := await(conn, want)
	if err := printJSON(a, got); err != nil {
		return done(a, err)
	}
	if m := missing(want, got); len(m) > 0 {
		return done(a, fmt.Errorf("not found: %s", strings.Join(m, ", ")))
	}
	return done(a, err)
}

type putRun struct{ sessionRun }

func cmdPut() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "put [-addr host:port] key=value...",
		ShortDesc: "writes values and waits for them to be broadcast",
		LongDesc:  "Writes values. A value that parses as JSON is sent as such; anything else is sent as a string.",
		CommandRun: func() subcommands.CommandRun {
			c := &putRun{}
			c.registerSessionFlags(10 * time.Second)
			return c
		},
	}
}

func parseEntries(args []string) ([]gencache.Entry[any], error) {
	out := make([]gencache.Entry[any], 0, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, errUsage("put key=value...")
		}
		var val any
		if err := json.Unmarshal([]byte(v), &val); err != nil {
			val = v
		}
		out = append(out, gencache.Entry[any]{Key: k, Value: val})
	}
	return out, nil
}

func (r *putRun) Run(a subcommands.Application, args []string, _ subcommands.Env) int {
	entries, err := parseEntries(args)
	if err != nil {
		return done(a, err)
	}
	if len(entries) == 0 {
		return done(a, errUsage("put key=value..."))
	}
	conn, closeConn, err := r.open(context.Background())
	if err != nil {
		return done(a, err)
	}
	defer closeConn()

	want := make(map[string]bool, len(entries))
	for _, e := range entries {
		want[e.Key] = true
	}
	if err := conn.Update(entries...); err != nil {
		return done(a, err)
	}
	got, err := await(conn, want)
	if err != nil {
		return done(a, fmt.Errorf("not confirmed: %s: %w", strings.Join(missing(want, got), ", "), err))
	}
	return done(a, printJSON(a, got))
}

type watchRun struct{ sessionRun }

func cmdWatch() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "watch [-addr host:port]",
		ShortDesc: "prints every broadcast as a JSON line",
		CommandRun: func() subcommands.CommandRun {
			c := &watchRun{}
			c.registerSessionFlags(0)
			return c
		},
	}
}

type watchLine struct {
	Kind    string                `json:"kind"`
	Entries []gencache.Entry[any] `json:"entries,omitempty"`
	Keys    []string              `json:"keys,omitempty"`
}

func (r *watchRun) Run(a subcommands.Application, args []string, _ subcommands.Env) int {
	if len(args) != 0 {
		return done(a, errUsage("watch"))
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	conn, closeConn, err := r.open(ctx)
	if err != nil {
		return done(a, err)
	}
	defer closeConn()

	enc := json.NewEncoder(a.GetOut())
	for {
		n, err := conn.Recv()
		if err != nil {
			if ctx.Err() != nil || status.Code(err) == codes.DeadlineExceeded {
				return 0
			}
			return done(a, err)
		}
		if err := enc.Encode(watchLine{Kind: n.Kind.String(), Entries: n.Entries, Keys: n.Keys}); err != nil {
			return done(a, err)
		}
	}
}
