package adminclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/unkn0wn-root/gencache"
	"github.com/unkn0wn-root/gencache/internal/admin"
)

type backend struct {
	gen uint64
	err error
}

func (b *backend) Stats() gencache.Stats {
	return gencache.Stats{Name: "icons", Generation: b.gen, Threshold: 4}
}

func (b *backend) Flush(context.Context) error {
	if b.err != nil {
		return b.err
	}
	b.gen++
	return nil
}

func serve(t *testing.T, b admin.Backend) *Client {
	t.Helper()
	srv := httptest.NewServer(admin.New(b, admin.Options{}).Handler())
	t.Cleanup(srv.Close)
	return New(srv.URL + "/")
}

func TestRoundTrip(t *testing.T) {
	c := serve(t, &backend{gen: 2})
	ctx := t.Context()

	h, err := c.Health(ctx)
	if err != nil || h.Status != "ok" || h.Name != "icons" {
		t.Fatalf("health = %+v, %v", h, err)
	}
	st, err := c.Info(ctx)
	if err != nil || st.Generation != 2 || st.Threshold != 4 {
		t.Fatalf("info = %+v, %v", st, err)
	}
	gen, err := c.Flush(ctx)
	if err != nil || gen != 3 {
		t.Fatalf("flush = %d, %v", gen, err)
	}
}

func TestStatusError(t *testing.T) {
	c := serve(t, &backend{err: gencache.ErrClosed})
	_, err := c.Flush(t.Context())
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if se.Code != http.StatusServiceUnavailable || se.Message != gencache.ErrClosed.Error() {
		t.Fatalf("status error = %+v", se)
	}
}

func TestUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	if _, err := New(url).Health(t.Context()); err == nil {
		t.Fatal("expected transport error")
	}
}
