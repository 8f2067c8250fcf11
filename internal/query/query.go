// Package query filters and orders market snapshots for display. Everything
// here is pure: inputs are never modified and the same inputs always produce
// the same output.
package query

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Poornadinethyapa/predictionm/internal/domain"
)

// Status selects which markets a listing shows. Exactly one is active.
type Status string

const (
	StatusAll      Status = "all"
	StatusActive   Status = "active"
	StatusResolved Status = "resolved"
	StatusExpired  Status = "expired"
	StatusMine     Status = "mine"
)

// SortMode orders a listing. Exactly one is active.
type SortMode string

const (
	SortNewest      SortMode = "newest"
	SortDeadline    SortMode = "deadline"
	SortTotalStaked SortMode = "totalStaked"
	SortMostPopular SortMode = "mostPopular"
)

// Query holds the listing controls.
type Query struct {
	Search string
	Status Status
	MyBets bool
	Sort   SortMode

	// BookmarkedOnly restricts the listing to ids present in Bookmarks.
	BookmarkedOnly bool
	Bookmarks      []uint64
}

// ParseStatus maps a request value onto a Status. Empty means all.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return StatusAll, nil
	case "active":
		return StatusActive, nil
	case "resolved":
		return StatusResolved, nil
	case "expired":
		return StatusExpired, nil
	case "mine", "owned":
		return StatusMine, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", domain.ErrValidation, s)
	}
}

// ParseSort maps a request value onto a SortMode, ignoring case. Empty means
// newest.
func ParseSort(s string) (SortMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "newest":
		return SortNewest, nil
	case "deadline":
		return SortDeadline, nil
	case "totalstaked", "total_staked", "volume":
		return SortTotalStaked, nil
	case "mostpopular", "most_popular", "popular":
		return SortMostPopular, nil
	default:
		return "", fmt.Errorf("%w: unknown sort %q", domain.ErrValidation, s)
	}
}

// FilterAndSort applies search, status, participation and bookmark filters in
// that order, then sorts the survivors. The input slice is left untouched.
func FilterAndSort(markets []domain.Market, stakes domain.ViewerStakes, viewer string, q Query, now time.Time) []domain.Market {
	needle := strings.ToLower(strings.TrimSpace(q.Search))

	var marked map[uint64]bool
	if q.BookmarkedOnly {
		marked = make(map[uint64]bool, len(q.Bookmarks))
		for _, id := range q.Bookmarks {
			marked[id] = true
		}
	}

	out := make([]domain.Market, 0, len(markets))
	for _, m := range markets {
		if needle != "" && !matches(m, needle) {
			continue
		}
		if !statusMatches(m, q.Status, viewer, now) {
			continue
		}
		if q.MyBets && !stakes.HasPosition(m.ID) {
			continue
		}
		if q.BookmarkedOnly && !marked[m.ID] {
			continue
		}
		out = append(out, m)
	}

	Sort(out, q.Sort)
	return out
}

// Sort orders markets in place using a stable sort, so equal keys keep their
// incoming relative order.
func Sort(markets []domain.Market, mode SortMode) {
	var less func(a, b domain.Market) bool
	switch mode {
	case SortDeadline:
		less = func(a, b domain.Market) bool { return a.Deadline.Before(b.Deadline) }
	case SortTotalStaked:
		less = func(a, b domain.Market) bool { return cmpTotal(a, b) > 0 }
	case SortMostPopular:
		less = func(a, b domain.Market) bool { return a.BackedOutcomes() > b.BackedOutcomes() }
	default:
		less = func(a, b domain.Market) bool { return a.ID > b.ID }
	}
	sort.SliceStable(markets, func(i, j int) bool { return less(markets[i], markets[j]) })
}

func cmpTotal(a, b domain.Market) int {
	switch {
	case a.TotalStaked == nil && b.TotalStaked == nil:
		return 0
	case a.TotalStaked == nil:
		return -b.TotalStaked.Sign()
	case b.TotalStaked == nil:
		return a.TotalStaked.Sign()
	}
	return a.TotalStaked.Cmp(b.TotalStaked)
}

func matches(m domain.Market, needle string) bool {
	if strings.Contains(strings.ToLower(m.Question), needle) {
		return true
	}
	for _, o := range m.Outcomes {
		if strings.Contains(strings.ToLower(o), needle) {
			return true
		}
	}
	return false
}

func statusMatches(m domain.Market, s Status, viewer string, now time.Time) bool {
	switch s {
	case StatusActive:
		return m.Status(now) == domain.StatusActive
	case StatusResolved:
		return m.Resolved
	case StatusExpired:
		return m.Status(now) == domain.StatusExpired
	case StatusMine:
		return m.OwnedBy(viewer)
	default:
		return true
	}
}

// Resolvable lists the markets the viewer may resolve: owned, unresolved and
// past the deadline. Ascending by id.
func Resolvable(markets []domain.Market, viewer string, now time.Time) []domain.Market {
	out := make([]domain.Market, 0)
	if viewer == "" {
		return out
	}
	for _, m := range markets {
		if m.OwnedBy(viewer) && m.Status(now) == domain.StatusExpired {
			out = append(out, m)
		}
	}
	return out
}

// TimeRemaining renders a coarse countdown to the deadline, or "Ended".
func TimeRemaining(deadline, now time.Time) string {
	d := deadline.Sub(now)
	if d <= 0 {
		return "Ended"
	}
	days := int(d / (24 * time.Hour))
	hours := int(d%(24*time.Hour)) / int(time.Hour)
	mins := int(d%time.Hour) / int(time.Minute)
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, mins)
	default:
		return fmt.Sprintf("%dm", mins)
	}
}
