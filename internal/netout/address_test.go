package netout

import (
	"errors"
	"testing"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		name    string
		address string
		want    string
		wantErr bool
	}{
		{
			name:    "full tcp address",
			address: "tcp://0.0.0.0:8554",
			want:    "0.0.0.0:8554",
		},
		{
			name:    "localhost with port",
			address: "tcp://127.0.0.1:9000",
			want:    "127.0.0.1:9000",
		},
		{
			name:    "missing port binds ephemerally",
			address: "tcp://0.0.0.0",
			want:    "0.0.0.0:0",
		},
		{
			name:    "hostname without port binds ephemerally",
			address: "tcp://localhost",
			want:    "localhost:0",
		},
		{
			name:    "explicit zero port",
			address: "tcp://127.0.0.1:0",
			want:    "127.0.0.1:0",
		},
		{
			name:    "udp scheme rejected",
			address: "udp://0.0.0.0:8554",
			wantErr: true,
		},
		{
			name:    "http scheme rejected",
			address: "http://example.com:80",
			wantErr: true,
		},
		{
			name:    "no scheme rejected",
			address: "0.0.0.0:8554",
			wantErr: true,
		},
		{
			name:    "empty address rejected",
			address: "",
			wantErr: true,
		},
		{
			name:    "port out of range",
			address: "tcp://0.0.0.0:70000",
			wantErr: true,
		},
		{
			name:    "non-numeric port",
			address: "tcp://0.0.0.0:video",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAddress(tt.address)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseAddress(%q) succeeded, want error", tt.address)
				}
				var addrErr *AddressError
				if !errors.As(err, &addrErr) {
					t.Errorf("Expected *AddressError, got %T", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAddress(%q) failed: %v", tt.address, err)
			}
			if got != tt.want {
				t.Errorf("ParseAddress(%q) = %q, want %q", tt.address, got, tt.want)
			}
		})
	}
}

// TestAddressErrorMessage verifies the error names the offending address.
func TestAddressErrorMessage(t *testing.T) {
	_, err := ParseAddress("udp://0.0.0.0:1")
	if err == nil {
		t.Fatal("Expected error for udp scheme")
	}
	var addrErr *AddressError
	if !errors.As(err, &addrErr) {
		t.Fatalf("Expected *AddressError, got %T", err)
	}
	if addrErr.Address != "udp://0.0.0.0:1" {
		t.Errorf("AddressError.Address = %q, want the original input", addrErr.Address)
	}
}
