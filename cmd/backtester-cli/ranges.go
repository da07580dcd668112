package main

import (
	"fmt"
	"strconv"
	"strings"
)

// parseRange parses "low-high" or a single value into an inclusive pair.
func parseRange(s string) ([2]int, error) {
	lo, hi, found := strings.Cut(strings.TrimSpace(s), "-")
	a, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return [2]int{}, fmt.Errorf("invalid range %q", s)
	}
	if !found {
		return [2]int{a, a}, nil
	}
	b, err := strconv.Atoi(strings.TrimSpace(hi))
	if err != nil {
		return [2]int{}, fmt.Errorf("invalid range %q", s)
	}
	return [2]int{a, b}, nil
}

// span renders an inclusive pair for display.
func span(r [2]int) string {
	if r[0] == r[1] {
		return strconv.Itoa(r[0])
	}
	return fmt.Sprintf("%d-%d", r[0], r[1])
}
