package csv

import (
	"bytes"
	"runtime"
	"testing"

	"golang.org/x/xerrors"
)

func TestRecorderNil(t *testing.T) {
	enc := NewEncoder(&bytes.Buffer{})

	if err := enc.Encode(nil); err == nil {
		t.Fatalf("%+v\n", err)
	}
}

type Msg struct{}

func (m Msg) Record() []string {
	return []string{"a", "b"}
}

func TestRecorder(t *testing.T) {
	buf := &bytes.Buffer{}
	enc := NewEncoder(buf)

	if err := enc.Encode(Msg{}); err != nil {
		t.Fatalf("%+v\n", err)
	}
	if buf.String() != "a,b\n" {
		t.Fatalf("expected %q got %q\n", "a,b\n", buf.String())
	}
}

type NonRecorder struct{}

func TestNonRecorder(t *testing.T) {
	enc := NewEncoder(&bytes.Buffer{})

	err := enc.Encode(NonRecorder{})

	var runtimeErr runtime.Error
	if !xerrors.As(err, &runtimeErr) {
		t.Fatalf("%+v\n", runtimeErr)
	}
}
