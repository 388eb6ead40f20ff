package util

import "testing"

func TestByteToBinaryString(t *testing.T) {
	tests := []struct {
		in   byte
		want string
	}{
		{0x00, "00000000"},
		{0x01, "10000000"},
		{0x80, "00000001"},
		{0x62, "01000110"},
	}
	for _, tt := range tests {
		if got := ByteToBinaryString(tt.in); got != tt.want {
			t.Errorf("ByteToBinaryString(%#x) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
