// SPDX-License-Identifier: MIT

// Package format renders byte counts in engineering notation for progress output.
package format

import (
	"fmt"
	"strings"
)

var prefixes = []string{"", "k", "M", "G", "T", "P"}

// Bytes formats n with an SI prefix, e.g. 1536000 -> "1.536 MB".
// Values are scaled by powers of 1000 and trailing zeros are trimmed.
func Bytes(n int64) string {
	if n < 0 {
		return "-" + Bytes(-n)
	}
	v := float64(n)
	idx := 0
	for v >= 1000 && idx < len(prefixes)-1 {
		v /= 1000
		idx++
	}
	if idx == 0 {
		return fmt.Sprintf("%d B", n)
	}
	s := strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.3f", v), "0"), ".")
	return s + " " + prefixes[idx] + "B"
}
