package main

import (
	"fmt"
	"io"
	"math"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"spotter/internal/domain"
	"spotter/internal/strategy"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	gainStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

type report struct {
	preset  string
	params  strategy.Params
	result  *strategy.BacktestResult
	filter  strategy.FilterReport
	kept    []strategy.AnnotatedTrade
	caps    bool // market-cap data was available
	elapsed time.Duration
}

func writeParams(w io.Writer, p strategy.Params) {
	out, err := yaml.Marshal(p)
	if err != nil {
		fmt.Fprintf(w, "error: %v\n", err)
		return
	}
	w.Write(out)
}

func (r report) write(w io.Writer) {
	res := r.result
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("preset %s, start %s", r.preset, r.params.StartDate)))
	fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("instruments %d: simulated %d, skipped %d, failed %d (%s)",
		res.Instruments, res.Simulated, res.Skipped, res.Failed, r.elapsed.Round(time.Millisecond))))
	if r.caps {
		fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("market cap filter: %d in, %d kept, %d below floor, %d without data",
			r.filter.Input, r.filter.Kept, r.filter.Removed, r.filter.Missing)))
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "set\ttrades\topen\twin%\tavg%\tavg win%\tavg loss%\tP/L\tEV%\tavg hold\tmed hold\t")

	trades := make([]domain.Trade, len(r.kept))
	for i, t := range r.kept {
		trades[i] = t.Trade
	}
	statsRow(tw, "all", strategy.Summarize(trades))

	byClass := strategy.GroupByClass(r.kept)
	for _, c := range []domain.FundamentalClass{domain.Growth, domain.PersistentLoss, domain.Unclassified} {
		if ts, ok := byClass[c]; ok {
			statsRow(tw, c.String(), strategy.Summarize(ts))
		}
	}
	for _, b := range strategy.PriceQuintiles(trades) {
		statsRow(tw, "price "+b.Label, b.Stats)
	}
	if r.caps {
		for _, b := range strategy.MarketCapQuintiles(r.kept) {
			statsRow(tw, "mcap "+b.Label, b.Stats)
		}
	}
	tw.Flush()

	all := strategy.Summarize(trades)
	style := gainStyle
	if all.EV < 0 {
		style = lossStyle
	}
	fmt.Fprintln(w, style.Render(fmt.Sprintf("expected value %.2f%% per trade over %d closed trades", all.EV, all.Closed)))
	fmt.Fprintln(w)
}

func statsRow(w io.Writer, label string, s strategy.TradeStats) {
	pl := "inf"
	if !math.IsInf(s.PLRatio, 1) {
		pl = fmt.Sprintf("%.2f", s.PLRatio)
	}
	fmt.Fprintf(w, "%s\t%d\t%d\t%.1f\t%.2f\t%.2f\t%.2f\t%s\t%.2f\t%.1f\t%d\t\n",
		label, s.Closed, s.Open, s.WinRate, s.AvgReturn, s.AvgWin, s.AvgLoss, pl, s.EV, s.AvgHold, s.MedianHold)
}
