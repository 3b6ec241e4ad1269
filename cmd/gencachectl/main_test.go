package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/maruel/subcommands"
	"google.golang.org/grpc"

	"github.com/unkn0wn-root/gencache"
	"github.com/unkn0wn-root/gencache/internal/admin"
	"github.com/unkn0wn-root/gencache/store/bigcache"
	"github.com/unkn0wn-root/gencache/transport"
)

type env struct {
	addr  string
	admin string
}

func startDaemon(t *testing.T) env {
	t.Helper()
	st, err := bigcache.New(t.Context(), bigcache.Config{})
	if err != nil {
		t.Fatal(err)
	}
	svc, err := gencache.New(t.Context(), gencache.Options[any]{Store: st, Name: "ctl"})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = svc.Close(context.Background()) })

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	gs := grpc.NewServer()
	transport.NewServer(svc, transport.ServerOptions{}).Register(gs)
	t.Cleanup(gs.Stop)
	go func() { _ = gs.Serve(lis) }()

	hs := httptest.NewServer(admin.New(svc, admin.Options{}).Handler())
	t.Cleanup(hs.Close)
	return env{addr: lis.Addr().String(), admin: hs.URL}
}

func run(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errw bytes.Buffer
	code = subcommands.Run(newApplication(&out, &errw), args)
	return code, out.String(), errw.String()
}

func TestAdminCommands(t *testing.T) {
	e := startDaemon(t)

	code, out, stderr := run(t, "health", "-admin", e.admin)
	if code != 0 || !strings.Contains(out, `"ok"`) {
		t.Fatalf("health = %d %q %q", code, out, stderr)
	}

	code, out, stderr = run(t, "info", "-admin", e.admin)
	if code != 0 {
		t.Fatalf("info = %d %q", code, stderr)
	}
	var st gencache.Stats
	if err := json.Unmarshal([]byte(out), &st); err != nil || st.Name != "ctl" || st.Threshold != 4 {
		t.Fatalf("info output = %q (%v)", out, err)
	}

	code, out, stderr = run(t, "flush", "-admin", e.admin)
	if code != 0 || !strings.Contains(out, `"generation"`) {
		t.Fatalf("flush = %d %q %q", code, out, stderr)
	}
}

func TestPutThenFetch(t *testing.T) {
	e := startDaemon(t)

	code, out, stderr := run(t, "put", "-addr", e.addr, `icon={"size":32}`, "name=plain text")
	if code != 0 {
		t.Fatalf("put = %d %q", code, stderr)
	}
	if !strings.Contains(out, `"size": 32`) || !strings.Contains(out, `"plain text"`) {
		t.Fatalf("put output = %q", out)
	}

	code, out, stderr = run(t, "fetch", "-addr", e.addr, "icon")
	if code != 0 {
		t.Fatalf("fetch = %d %q", code, stderr)
	}
	var got map[string]map[string]any
	if err := json.Unmarshal([]byte(out), &got); err != nil || got["icon"]["size"] != float64(32) {
		t.Fatalf("fetch output = %q (%v)", out, err)
	}

	code, _, stderr = run(t, "fetch", "-addr", e.addr, "-timeout", "200ms", "icon", "nope")
	if code != 1 || !strings.Contains(stderr, "not found: nope") {
		t.Fatalf("fetch missing = %d %q", code, stderr)
	}
}

func TestParseEntries(t *testing.T) {
	got, err := parseEntries([]string{`a=1`, `b="x"`, `c=not json`, `d=`})
	if err != nil {
		t.Fatal(err)
	}
	want := []any{float64(1), "x", "not json", ""}
	for i, e := range got {
		if e.Value != want[i] {
			t.Fatalf("entry %d = %#v, want %#v", i, e.Value, want[i])
		}
	}
	if _, err := parseEntries([]string{"=1"}); err == nil {
		t.Fatal("empty key accepted")
	}
	if _, err := parseEntries([]string{"novalue"}); err == nil {
		t.Fatal("missing '=' accepted")
	}
}

func TestUsageErrors(t *testing.T) {
	for _, args := range [][]string{
		{"fetch"},
		{"put"},
		{"info", "extra"},
	} {
		if code, _, stderr := run(t, args...); code == 0 || !strings.Contains(stderr, "usage") {
			t.Fatalf("%v = %d %q", args, code, stderr)
		}
	}
}
