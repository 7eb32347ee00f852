package app

import "sync/atomic"

// Numbers hands out consecutive integers starting at 1
type Numbers struct {
	last atomic.Int64
}

// Next returns the next number in the sequence
func (n *Numbers) Next() int {
	return int(n.last.Add(1))
}
