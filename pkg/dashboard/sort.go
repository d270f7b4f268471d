package dashboard

import (
	"sort"
	"strconv"
	"time"
)

// SortMode selects the board ordering.
type SortMode string

const (
	SortByETA      SortMode = "eta"
	SortByReceived SortMode = "received"
	SortByPain     SortMode = "pain"
	SortByStatus   SortMode = "status"
)

// SortPatients orders the slice in place. The zero mode sorts by received.
func SortPatients(ps []*Patient, mode SortMode, now time.Time) {
	switch mode {
	case SortByETA:
		sort.SliceStable(ps, func(i, j int) bool {
			a, b := ps[i].ETARemaining(now), ps[j].ETARemaining(now)
			if a == nil {
				return false
			}
			if b == nil {
				return true
			}
			return *a < *b
		})
	case SortByPain:
		sort.SliceStable(ps, func(i, j int) bool {
			return painLevel(ps[i]) > painLevel(ps[j])
		})
	case SortByStatus:
		sort.SliceStable(ps, func(i, j int) bool {
			return ps[i].Status.Priority() < ps[j].Status.Priority()
		})
	default:
		sort.SliceStable(ps, func(i, j int) bool {
			return ps[i].ReceivedAt.After(ps[j].ReceivedAt)
		})
	}
}

func painLevel(p *Patient) int {
	n, err := strconv.Atoi(leadingInt(p.Report["painLevel"]))
	if err != nil {
		return -1
	}
	return n
}
