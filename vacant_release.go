//go:build !orderwal_debug

package orderwal

func assertBuilderWroteWithinBounds(written, capacity int) {}
