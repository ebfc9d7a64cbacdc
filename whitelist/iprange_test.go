package whitelist

import (
	"net"
	"testing"
)

func TestParseIPRange(t *testing.T) {
	tests := []struct {
		cidr       string
		wantText   string
		wantPrefix int
		wantIPv4   bool
	}{
		{"10.0.0.0/8", "10.0.0.0/8", 8, true},
		{"192.168.0.0/16", "192.168.0.0/16", 16, true},
		{"172.16.0.0/12", "172.16.0.0/12", 12, true},
		{"203.0.113.7/32", "203.0.113.7/32", 32, true},
		{"0.0.0.0/0", "0.0.0.0/0", 0, true},
		{"2001:db8::/32", "2001:db8::/32", 32, false},
		{"::1/128", "::1/128", 128, false},
		// Host bits below the prefix are masked off.
		{"10.5.10.20/8", "10.0.0.0/8", 8, true},
		{"2001:db8:ffff::1/32", "2001:db8::/32", 32, false},
	}

	for _, tt := range tests {
		t.Run(tt.cidr, func(t *testing.T) {
			r, err := ParseIPRange(tt.cidr)
			if err != nil {
				t.Fatalf("ParseIPRange(%q): %v", tt.cidr, err)
			}
			if got := r.CIDRNotation(); got != tt.wantText {
				t.Errorf("CIDRNotation() = %q, want %q", got, tt.wantText)
			}
			if got := r.PrefixLength(); got != tt.wantPrefix {
				t.Errorf("PrefixLength() = %d, want %d", got, tt.wantPrefix)
			}
			if got := r.IsIPv4(); got != tt.wantIPv4 {
				t.Errorf("IsIPv4() = %v, want %v", got, tt.wantIPv4)
			}
		})
	}
}

func TestParseIPRangeInvalid(t *testing.T) {
	for _, cidr := range []string{"", "10.0.0.0", "10.0.0.0/33", "not-a-cidr", "10.0.0.0/-1", "2001:db8::/129"} {
		if _, err := ParseIPRange(cidr); err == nil {
			t.Errorf("ParseIPRange(%q) succeeded, want error", cidr)
		}
	}
}

func TestIPRangeContains(t *testing.T) {
	tests := []struct {
		cidr string
		ip   string
		want bool
	}{
		{"10.0.0.0/8", "10.5.10.20", true},
		{"10.0.0.0/8", "10.0.0.0", true},
		{"10.0.0.0/8", "10.255.255.255", true},
		{"10.0.0.0/8", "11.0.0.1", false},
		{"10.0.0.0/8", "9.255.255.255", false},
		{"172.16.0.0/12", "172.16.0.1", true},
		{"172.16.0.0/12", "172.31.255.254", true},
		{"172.16.0.0/12", "172.32.0.1", false},
		{"192.168.0.0/16", "192.168.44.7", true},
		{"192.168.0.0/16", "192.169.0.1", false},
		{"203.0.113.7/32", "203.0.113.7", true},
		{"203.0.113.7/32", "203.0.113.8", false},
		{"0.0.0.0/0", "8.8.8.8", true},
		{"2001:db8::/32", "2001:db8::1", true},
		{"2001:db8::/32", "2001:db8:ffff::1", true},
		{"2001:db8::/32", "2001:db9::1", false},
		{"::1/128", "::1", true},
		{"::1/128", "::2", false},
		// Address families never mix.
		{"10.0.0.0/8", "2001:db8::1", false},
		{"2001:db8::/32", "10.0.0.1", false},
		{"::/0", "10.0.0.1", false},
	}

	for _, tt := range tests {
		t.Run(tt.cidr+"_"+tt.ip, func(t *testing.T) {
			r, err := ParseIPRange(tt.cidr)
			if err != nil {
				t.Fatal(err)
			}
			ip := net.ParseIP(tt.ip)
			if ip == nil {
				t.Fatalf("bad test IP %q", tt.ip)
			}
			if got := r.Contains(ip); got != tt.want {
				t.Errorf("%q.Contains(%q) = %v, want %v", tt.cidr, tt.ip, got, tt.want)
			}
		})
	}
}

func TestIPRangeContainsNil(t *testing.T) {
	r, err := ParseIPRange("10.0.0.0/8")
	if err != nil {
		t.Fatal(err)
	}
	if r.Contains(nil) {
		t.Error("nil IP reported as contained")
	}
}
