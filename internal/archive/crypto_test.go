package archive

import (
	"bytes"
	"strings"
	"testing"
)

func testKey(t *testing.T) *[KeySize]byte {
	t.Helper()
	key, err := ParseKey(strings.Repeat("ab", KeySize))
	if err != nil {
		t.Fatalf("ParseKey() error = %v", err)
	}
	return key
}

func TestSealOpenRoundTrip(t *testing.T) {
	key := testKey(t)
	plaintext := []byte(`[{"id":"tx-1","category":"Groceries","confidence":0.93}]`)

	sealed, err := seal(key, plaintext)
	if err != nil {
		t.Fatalf("seal() error = %v", err)
	}
	if bytes.Contains(sealed, []byte("Groceries")) {
		t.Error("sealed payload leaks plaintext")
	}

	got, err := open(key, sealed)
	if err != nil {
		t.Fatalf("open() error = %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("open() = %q, want %q", got, plaintext)
	}
}

func TestOpenRejectsWrongKey(t *testing.T) {
	key := testKey(t)
	sealed, err := seal(key, []byte("secret"))
	if err != nil {
		t.Fatalf("seal() error = %v", err)
	}

	other, _ := ParseKey(strings.Repeat("cd", KeySize))
	if _, err := open(other, sealed); err == nil {
		t.Error("open() with wrong key should fail")
	}
}

func TestOpenRejectsTamperedPayload(t *testing.T) {
	key := testKey(t)
	sealed, err := seal(key, []byte("secret"))
	if err != nil {
		t.Fatalf("seal() error = %v", err)
	}

	sealed[len(sealed)-1] ^= 0xFF
	if _, err := open(key, sealed); err == nil {
		t.Error("open() with tampered payload should fail")
	}

	if _, err := open(key, sealed[:10]); err == nil {
		t.Error("open() with truncated payload should fail")
	}
}

func TestParseKeyValidation(t *testing.T) {
	if _, err := ParseKey("zz"); err == nil {
		t.Error("ParseKey() should reject non-hex input")
	}
	if _, err := ParseKey("abcd"); err == nil {
		t.Error("ParseKey() should reject short keys")
	}
}

func TestObjectFromURI(t *testing.T) {
	tests := []struct {
		uri     string
		want    string
		wantErr bool
	}{
		{"gs://archive-bucket/oracle-responses/2025/06/15/x.bin", "oracle-responses/2025/06/15/x.bin", false},
		{"gs://other-bucket/x.bin", "", true},
		{"gs://archive-bucket", "", true},
		{"https://archive-bucket/x.bin", "", true},
	}

	for _, tt := range tests {
		got, err := objectFromURI(tt.uri, "archive-bucket")
		if (err != nil) != tt.wantErr {
			t.Errorf("objectFromURI(%q) error = %v, wantErr %v", tt.uri, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("objectFromURI(%q) = %q, want %q", tt.uri, got, tt.want)
		}
	}
}
