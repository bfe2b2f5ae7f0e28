package util

import (
	"testing"
)

func TestParseCIDR(t *testing.T) {
	tests := []struct {
		cidr      string
		expectErr bool
	}{
		{"10.1.0.0/16", false},
		{"10.1.2.3/24", false},
		{"10.1.0.0/33", true},
		{"fd00::/64", true},
		{"garbage", true},
	}
	for _, tt := range tests {
		_, err := ParseCIDR(tt.cidr)
		if tt.expectErr != (err != nil) {
			t.Errorf("ParseCIDR(%q): expectErr=%v, got %v", tt.cidr, tt.expectErr, err)
		}
	}
}

func TestNormalizeMAC(t *testing.T) {
	got, err := NormalizeMAC("02:00:0A:0B:0C:0D")
	if err != nil {
		t.Fatal(err)
	}
	if got != "02:00:0a:0b:0c:0d" {
		t.Errorf("expected lower-case MAC, got %q", got)
	}
	if _, err := NormalizeMAC("02:00:0a"); err == nil {
		t.Error("expected error for short MAC")
	}
}

func TestIsAnyCIDR(t *testing.T) {
	for cidr, want := range map[string]bool{
		"0.0.0.0/0":   true,
		"0.0.0.0":     true,
		" 0.0.0.0/0 ": true,
		"10.0.0.0/8":  false,
		"":            false,
	} {
		if got := IsAnyCIDR(cidr); got != want {
			t.Errorf("IsAnyCIDR(%q): expected %v, got %v", cidr, want, got)
		}
	}
}
