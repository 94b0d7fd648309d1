package fingerprint

import (
	"bytes"
	"strings"
	"testing"
)

// Known SHA-256 of "hello world".
const helloDigest = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

func TestCompute_KnownVector(t *testing.T) {
	got := Compute([]byte("hello world"))
	if got != Digest(helloDigest) {
		t.Errorf("Compute() = %q, want %q", got, helloDigest)
	}
}

func TestCompute_Deterministic(t *testing.T) {
	content := []byte("the same bytes every time")

	if Compute(content) != Compute(content) {
		t.Error("Compute() should be deterministic for identical content")
	}
}

func TestFromReader_MatchesCompute(t *testing.T) {
	content := []byte("streamed content")

	got, err := FromReader(bytes.NewReader(content))
	if err != nil {
		t.Fatalf("FromReader() error = %v", err)
	}

	if got != Compute(content) {
		t.Errorf("FromReader() = %q, want %q", got, Compute(content))
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Digest
		wantErr bool
	}{
		{
			name:  "valid lowercase",
			input: helloDigest,
			want:  Digest(helloDigest),
		},
		{
			name:  "uppercase normalized",
			input: strings.ToUpper(helloDigest),
			want:  Digest(helloDigest),
		},
		{
			name:    "too short",
			input:   "abcdef",
			wantErr: true,
		},
		{
			name:    "right length but not hex",
			input:   strings.Repeat("z", EncodedLen),
			wantErr: true,
		},
		{
			name:    "empty",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse() error = %v, wantErr %v", err, tt.wantErr)
			}

			if !tt.wantErr && got != tt.want {
				t.Errorf("Parse() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPrefix_NeverFullDigest(t *testing.T) {
	d := Compute([]byte("secret content"))

	if len(d.Prefix()) >= len(d) {
		t.Error("Prefix() must be strictly shorter than the digest")
	}

	if !strings.HasPrefix(string(d), d.Prefix()) {
		t.Errorf("Prefix() = %q is not a prefix of %q", d.Prefix(), d)
	}
}
