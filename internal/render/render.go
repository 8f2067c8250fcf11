// Package render prints snapshots, viewer statistics and batch results as
// terminal tables.
package render

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/Poornadinethyapa/predictionm/internal/analytics"
	"github.com/Poornadinethyapa/predictionm/internal/domain"
	"github.com/Poornadinethyapa/predictionm/internal/query"
	"github.com/Poornadinethyapa/predictionm/internal/txn"
)

const (
	etherPlaces    = 4
	maxQuestionLen = 48
)

// Markets writes one row per market. Viewer stake columns are filled only
// when stakes is non-empty.
func Markets(w io.Writer, markets []domain.Market, stakes domain.ViewerStakes, now time.Time) error {
	if len(markets) == 0 {
		_, err := fmt.Fprintln(w, "No markets.")
		return err
	}

	table := tablewriter.NewWriter(w)
	table.Header("ID", "Question", "Status", "Ends", "Pool (ETH)", "Odds", "Your stake")
	for _, m := range markets {
		o, err := odds(m)
		if err != nil {
			return fmt.Errorf("render: markets: %w", err)
		}
		if err := table.Append(
			strconv.FormatUint(m.ID, 10),
			truncate(m.Question, maxQuestionLen),
			statusLabel(m, now),
			query.TimeRemaining(m.Deadline, now),
			domain.FormatEther(m.TotalStaked, etherPlaces),
			o,
			yourStake(m, stakes),
		); err != nil {
			return fmt.Errorf("render: markets: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("render: markets: %w", err)
	}
	return nil
}

// Stats writes the viewer summary. A nil st prints a hint to connect a
// wallet.
func Stats(w io.Writer, st *analytics.Stats) error {
	if st == nil {
		_, err := fmt.Fprintln(w, "No wallet connected; statistics unavailable.")
		return err
	}

	table := tablewriter.NewWriter(w)
	table.Header("Wallet", "Created", "Won", "Lost", "Resolved bets", "Win rate", "Earnings (ETH)")
	if err := table.Append(
		st.Viewer,
		strconv.Itoa(st.MarketsCreated),
		strconv.Itoa(st.MarketsWon),
		strconv.Itoa(st.MarketsLost),
		strconv.Itoa(st.TotalResolvedBets),
		st.WinRate+"%",
		st.TotalEarnings,
	); err != nil {
		return fmt.Errorf("render: stats: %w", err)
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("render: stats: %w", err)
	}
	return nil
}

// Batch writes the claim-all summary followed by any failures.
func Batch(w io.Writer, res txn.BatchResult) error {
	if _, err := fmt.Fprintf(w, "Claimed %d of %d markets.\n", res.Succeeded, res.Attempted); err != nil {
		return err
	}
	if len(res.Failures) == 0 {
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.Header("Market", "Error")
	for _, f := range res.Failures {
		if err := table.Append(strconv.FormatUint(f.MarketID, 10), f.Error); err != nil {
			return fmt.Errorf("render: batch: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("render: batch: %w", err)
	}
	return nil
}

func statusLabel(m domain.Market, now time.Time) string {
	st := m.Status(now)
	if st == domain.StatusResolved && m.WinningOutcome >= 0 && m.WinningOutcome < len(m.Outcomes) {
		return "resolved: " + m.Outcomes[m.WinningOutcome]
	}
	return string(st)
}

// odds renders "Yes 62.5% / No 37.5%".
func odds(m domain.Market) (string, error) {
	probs, err := analytics.Probabilities(m)
	if err != nil {
		return "", err
	}
	parts := make([]string, len(m.Outcomes))
	for i, o := range m.Outcomes {
		parts[i] = fmt.Sprintf("%s %s%%", o, probs[i])
	}
	return strings.Join(parts, " / "), nil
}

func yourStake(m domain.Market, stakes domain.ViewerStakes) string {
	if !stakes.HasPosition(m.ID) {
		return "-"
	}
	var parts []string
	for i, o := range m.Outcomes {
		s := stakes.Stake(m.ID, i)
		if s.Sign() > 0 {
			parts = append(parts, o+" "+domain.FormatEther(s, etherPlaces))
		}
	}
	return strings.Join(parts, ", ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
