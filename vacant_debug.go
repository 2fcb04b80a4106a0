//go:build orderwal_debug

package orderwal

import "fmt"

// assertBuilderWroteWithinBounds panics if a builder callback reported
// writing outside the buffer it was given. Only compiled in with the
// orderwal_debug build tag, so the check never costs anything in a
// production build.
func assertBuilderWroteWithinBounds(written, capacity int) {
	if written < 0 || written > capacity {
		panic(fmt.Sprintf("orderwal: builder reported %d bytes written, capacity was %d", written, capacity))
	}
}
