package util

import "strings"

// ByteToBinaryString renders a byte LSB-first, the way the fuse and state
// bits are documented in the controller's datasheet.
func ByteToBinaryString(b byte) string {
	var s strings.Builder
	for i := 0; i < 8; i++ {
		if b&(1<<i) != 0 {
			s.WriteString("1")
		} else {
			s.WriteString("0")
		}
	}
	return s.String()
}
