package kv

import (
	"bytes"
	"testing"
)

func TestIndexMetaKeyRoundTrip(t *testing.T) {
	k := IndexMetaKey("full", "ann_ABC123")
	if !bytes.HasPrefix(k, []byte(PrefixIndexMeta)) {
		t.Fatal("missing prefix")
	}
	rest := k[len(PrefixIndexMeta):]
	i := bytes.IndexByte(rest, sep)
	if i == -1 {
		t.Fatal("missing separator")
	}
	if string(rest[:i]) != "full" {
		t.Errorf("shape: got %q, want %q", rest[:i], "full")
	}
	if string(rest[i+1:]) != "ann_ABC123" {
		t.Errorf("id: got %q, want %q", rest[i+1:], "ann_ABC123")
	}
}

func TestIndexMetaPrefixIsolatesShapes(t *testing.T) {
	full := IndexMetaKey("full", "a1")
	slim := IndexMetaKey("slim", "a1")
	if bytes.HasPrefix(full, IndexMetaPrefix("slim")) {
		t.Error("full key must not match slim prefix")
	}
	if !bytes.HasPrefix(slim, IndexMetaPrefix("slim")) {
		t.Error("slim key must match slim prefix")
	}
}

func TestEncodingRoundTrip(t *testing.T) {
	b := PutUint64BE(nil, 0xDEADBEEF01020304)
	if GetUint64BE(b) != 0xDEADBEEF01020304 {
		t.Error("uint64 round trip failed")
	}
	if len(b) != 8 {
		t.Errorf("encoded length = %d, want 8", len(b))
	}
}
