//go:build !linux

package main

import "os"

// stderrIsTTY is a seam for tests.
var stderrIsTTY = func() bool {
	st, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (st.Mode() & os.ModeCharDevice) != 0
}
