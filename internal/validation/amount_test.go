package validation

import (
	"errors"
	"strings"
	"testing"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{name: "integer", raw: "500"},
		{name: "fractional", raw: "1.25"},
		{name: "negative", raw: "-250"},
		{name: "padded", raw: " 42 "},
		{name: "empty", raw: "", wantErr: ErrNotNumeric},
		{name: "letters", raw: "lots", wantErr: ErrNotNumeric},
		{name: "double dot", raw: "1.2.3", wantErr: ErrNotNumeric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAmount(tt.raw)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parse %q: %v", tt.raw, err)
			}
		})
	}
}

func TestPointsFromAmount(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    int64
		wantErr error
	}{
		{name: "integer", raw: "500", want: 500},
		{name: "fraction truncated", raw: "12.9", want: 12},
		{name: "zero", raw: "0", wantErr: ErrNotPositive},
		{name: "sub-point fraction", raw: "0.4", wantErr: ErrNotPositive},
		{name: "negative", raw: "-5", wantErr: ErrNotPositive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseAmount(tt.raw)
			if err != nil {
				t.Fatalf("parse %q: %v", tt.raw, err)
			}

			got, err := PointsFromAmount(d)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("points from %q: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Fatalf("points = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestIsValidWalletAddress(t *testing.T) {
	tests := []struct {
		name string
		addr string
		want bool
	}{
		{name: "btc style", addr: "1BoatSLRHtKNngkdXEeobR76b53LETtpyT", want: true},
		{name: "too short", addr: "abc123", want: false},
		{name: "too long", addr: strings.Repeat("a", 129), want: false},
		{name: "hex with 0x prefix", addr: "0x52908400098527886E0F7030069857D2E4169EE7", want: true},
		{name: "punctuation", addr: "1BoatSLRHtKNngkdXEeobR76b53LETtpy!", want: false},
		{name: "whitespace", addr: "1BoatSLRHtKNngkdXEeob R76b53LETtpyT", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidWalletAddress(tt.addr); got != tt.want {
				t.Fatalf("IsValidWalletAddress(%q) = %v, want %v", tt.addr, got, tt.want)
			}
		})
	}
}
