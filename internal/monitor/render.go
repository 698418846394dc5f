package monitor

import (
	"fmt"
	"html"
	"math"
	"strings"

	"github.com/web3-frozen/lp-monitor/internal/runeyield"
	"github.com/web3-frozen/lp-monitor/internal/store"
)

// RenderReport formats a report as a Telegram HTML message with values in
// the given unit.
func RenderReport(r *runeyield.Report, mode runeyield.Mode) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 <b>%s LP report</b> (%s)\n", html.EscapeString(r.Pool), stringToUpper(string(mode)))
	fmt.Fprintf(&b, "<code>%s</code>\n\n", html.EscapeString(r.Address))

	if r.Events == 0 {
		b.WriteString("No liquidity activity found for this pool.")
		return b.String()
	}

	runeAmt, assetAmt := r.RedeemableRuneAsset()
	ticker := assetTicker(r.Pool)
	fmt.Fprintf(&b, "Value now: %s\n", formatValue(r.CurrentValue(mode), mode, ticker))
	fmt.Fprintf(&b, "Redeemable: %s RUNE + %s %s\n", formatNum(runeAmt), formatNum(assetAmt), ticker)
	fmt.Fprintf(&b, "Added: %s\n", formatValue(r.AddedValue(mode), mode, ticker))
	if w := r.WithdrawnValue(mode); w > 0 {
		fmt.Fprintf(&b, "Withdrawn: %s\n", formatValue(w, mode, ticker))
	}

	gl, glPct := r.GainLoss(mode)
	fmt.Fprintf(&b, "Gain/loss: %s (%s)\n", formatSignedValue(gl, mode, ticker), formatPct(glPct))
	runeAbs, runePct, assetAbs, assetPct := r.GainLossRaw()
	fmt.Fprintf(&b, "Tokens: %s (%s), %s (%s)\n\n",
		formatSignedValue(runeAbs, runeyield.ModeRune, ticker), formatPct(runePct),
		formatSignedValue(assetAbs, runeyield.ModeAsset, ticker), formatPct(assetPct))

	fmt.Fprintf(&b, "Fees earned: %s\n", formatValue(r.FeeValue(mode), mode, ticker))
	fmt.Fprintf(&b, "Impermanent loss: %s (%s)\n", formatSignedValue(r.Fees.ImpLossUSD, runeyield.ModeUSD, ticker), formatPct(r.Fees.ImpLossPercent))

	lvh, lvhPct := r.LPVsHold()
	fmt.Fprintf(&b, "LP vs HOLD: %s (%s), APY %s\n\n", formatSignedValue(lvh, runeyield.ModeUSD, ticker), formatPct(lvhPct), formatPct(r.LPVsHoldAPY()))

	fmt.Fprintf(&b, "RUNE: $%s → $%s (%s)\n", formatNum(r.USDPerRuneStart), formatNum(r.USDPerRune), formatPct(r.PriceChange(runeyield.ModeRune)))
	fmt.Fprintf(&b, "%s: $%s → $%s (%s)\n", ticker, formatNum(r.USDPerAssetStart), formatNum(r.USDPerAsset), formatPct(r.PriceChange(runeyield.ModeAsset)))
	fmt.Fprintf(&b, "Since %s (%.0f days, %d adds, %d withdrawals)",
		r.Liquidity.FirstEventAt.UTC().Format("2006-01-02"), r.TotalDays(), r.Liquidity.Adds, r.Liquidity.Withdrawals)
	return b.String()
}

// RenderSummary lists every pool of a wallet, largest position first.
func RenderSummary(s *runeyield.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "💼 <b>LP positions</b>\n<code>%s</code>\n\n", html.EscapeString(s.Address))
	if len(s.Reports) == 0 {
		b.WriteString("No liquidity activity found.")
		return b.String()
	}
	for _, r := range s.Reports {
		fmt.Fprintf(&b, "• %s: $%s, fees $%s, IL %s\n",
			html.EscapeString(r.Pool), formatNum(r.CurrentValue(runeyield.ModeUSD)), formatNum(r.Fees.FeeUSD), formatPct(r.Fees.ImpLossPercent))
	}
	fmt.Fprintf(&b, "\nTotal: $%s (added $%s, withdrawn $%s)",
		formatNum(s.CurrentUSD), formatNum(s.AddedUSD), formatNum(s.WithdrawnUSD))
	return b.String()
}

// RenderILAlert is the message sent when a watch passes its loss threshold.
func RenderILAlert(w store.Watch, r *runeyield.Report) string {
	return fmt.Sprintf("🚨 %s IMPERMANENT LOSS ALERT\n\n"+
		"Watch #%d lost %s to impermanent loss (%s), past your %.1f%% threshold.\n"+
		"Fees earned: $%s\n"+
		"Position now: $%s\n\n"+
		"<code>%s</code>",
		html.EscapeString(r.Pool),
		w.ID,
		formatSignedValue(r.Fees.ImpLossUSD, runeyield.ModeUSD, ""),
		formatPct(r.Fees.ImpLossPercent),
		w.ILAlertPct,
		formatNum(r.Fees.FeeUSD),
		formatNum(r.CurrentValue(runeyield.ModeUSD)),
		html.EscapeString(w.Address))
}

// assetTicker turns "ETH.USDC-0XA0B8..." into "USDC".
func assetTicker(pool string) string {
	s := pool
	if i := strings.IndexAny(s, "./~"); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.Index(s, "-"); i >= 0 {
		s = s[:i]
	}
	return s
}

func formatValue(v float64, mode runeyield.Mode, ticker string) string {
	switch mode {
	case runeyield.ModeRune:
		return formatNum(v) + " RUNE"
	case runeyield.ModeAsset:
		return formatNum(v) + " " + ticker
	}
	return "$" + formatNum(v)
}

func formatSignedValue(v float64, mode runeyield.Mode, ticker string) string {
	sign := "+"
	if v < 0 {
		sign = "-"
	}
	return sign + formatValue(math.Abs(v), mode, ticker)
}

func formatPct(p float64) string {
	return fmt.Sprintf("%+.2f%%", p)
}

func formatNum(v float64) string {
	if v >= 1_000_000 {
		return fmt.Sprintf("%.2fM", v/1_000_000)
	}
	if v >= 1_000 {
		return addCommas(fmt.Sprintf("%.2f", math.Round(v*100)/100))
	}
	return fmt.Sprintf("%.4f", v)
}

func addCommas(s string) string {
	parts := strings.SplitN(s, ".", 2)
	intPart := parts[0]
	n := len(intPart)
	if n <= 3 {
		if len(parts) == 2 {
			return intPart + "." + parts[1]
		}
		return intPart
	}
	var result []byte
	for i, c := range intPart {
		if i > 0 && (n-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, byte(c))
	}
	if len(parts) == 2 {
		return string(result) + "." + parts[1]
	}
	return string(result)
}

func stringToUpper(s string) string {
	if len(s) == 0 {
		return s
	}
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 32
		}
	}
	return string(b)
}
