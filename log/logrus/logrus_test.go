package logrus

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/unkn0wn-root/gencache"
)

func TestForwardsLevelsAndFields(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)
	l := New(base)

	l.Debug("d", nil)
	l.Warn("w", gencache.Fields{"key": "a"})
	l.Error("e", gencache.Fields{"err": errors.New("boom"), "generation": 2})

	if n := len(hook.AllEntries()); n != 3 {
		t.Fatalf("got %d entries", n)
	}
	first := hook.AllEntries()[0]
	if first.Level != logrus.DebugLevel || first.Data["component"] != "gencache" {
		t.Fatalf("first = %+v", first)
	}
	last := hook.LastEntry()
	if last.Level != logrus.ErrorLevel {
		t.Fatalf("level = %v", last.Level)
	}
	if err, _ := last.Data[logrus.ErrorKey].(error); err == nil || err.Error() != "boom" {
		t.Fatalf("error field = %v", last.Data[logrus.ErrorKey])
	}
	if last.Data["generation"] != 2 {
		t.Fatalf("generation = %v", last.Data["generation"])
	}
}
