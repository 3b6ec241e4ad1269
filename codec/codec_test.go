package codec

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type icon struct {
	Name    string    `json:"name" msgpack:"name" cbor:"name"`
	Size    int       `json:"size" msgpack:"size" cbor:"size"`
	Updated time.Time `json:"updated" msgpack:"updated" cbor:"updated"`
}

func TestStructuralCodecs(t *testing.T) {
	in := icon{Name: "folder", Size: 32, Updated: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}

	for _, name := range []string{NameJSON, NameMsgpack, NameCBOR, NameCBORDeterministic} {
		t.Run(name, func(t *testing.T) {
			c, err := ByName[icon](name)
			if err != nil {
				t.Fatalf("ByName: %v", err)
			}
			b, err := c.Encode(in)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			out, err := c.Decode(b)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if out.Name != in.Name || out.Size != in.Size || !out.Updated.Equal(in.Updated) {
				t.Fatalf("got %+v want %+v", out, in)
			}
		})
	}
}

func TestByNameDefaultsToJSON(t *testing.T) {
	c, err := ByName[int]("")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.(JSON[int]); !ok {
		t.Fatalf("got %T", c)
	}
	if _, err := ByName[int]("gob"); err == nil {
		t.Fatal("expected error for unknown codec")
	}
}

func TestCBORDeterministicIsStable(t *testing.T) {
	c, err := NewCBOR[map[string]int](true)
	if err != nil {
		t.Fatal(err)
	}
	m := map[string]int{"z": 1, "a": 2, "m": 3, "b": 4}
	first, err := c.Encode(m)
	if err != nil {
		t.Fatal(err)
	}
	for range 20 {
		b, err := c.Encode(m)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(b, first) {
			t.Fatalf("encoding not stable: %x vs %x", b, first)
		}
	}
}

func TestCBORDecodesMapsAsStringKeyed(t *testing.T) {
	c, err := NewCBOR[any](false)
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.Encode(map[string]any{"k": "v"})
	if err != nil {
		t.Fatal(err)
	}
	v, err := c.Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := v.(map[string]any); !ok {
		t.Fatalf("got %T", v)
	}
}

func TestProtobuf(t *testing.T) {
	c := NewProtobuf(func() *wrapperspb.StringValue { return &wrapperspb.StringValue{} })
	b, err := c.Encode(wrapperspb.String("icon.png"))
	if err != nil {
		t.Fatal(err)
	}
	out, err := c.Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if !proto.Equal(out, wrapperspb.String("icon.png")) {
		t.Fatalf("got %v", out)
	}
}

func TestBytesDecodeCopies(t *testing.T) {
	src := []byte("abc")
	out, _ := Bytes{}.Decode(src)
	src[0] = 'x'
	if string(out) != "abc" {
		t.Fatalf("decode aliased input: %q", out)
	}
}

func TestLimit(t *testing.T) {
	c := Limit[string]{Inner: String{}, Max: 4}

	if _, err := c.Encode("abcd"); err != nil {
		t.Fatalf("at limit: %v", err)
	}
	_, err := c.Encode("abcde")
	var tl *ErrTooLarge
	if !errors.As(err, &tl) || tl.Size != 5 || tl.Max != 4 {
		t.Fatalf("Encode: got %v", err)
	}
	if _, err := c.Decode([]byte("abcde")); !errors.As(err, &tl) {
		t.Fatalf("Decode: got %v", err)
	}

	off := Limit[string]{Inner: String{}}
	if _, err := off.Encode("much longer than four"); err != nil {
		t.Fatalf("disabled limit: %v", err)
	}
}
