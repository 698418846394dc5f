package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/web3-frozen/lp-monitor/internal/runeyield"
)

// ReportGenerator computes LP reports for the API and the bot.
type ReportGenerator interface {
	GenerateReport(ctx context.Context, address, pool string) (*runeyield.Report, error)
	GenerateSummary(ctx context.Context, address string, pools []string) (*runeyield.Summary, error)
	DailyValues(ctx context.Context, address, pool string, days int) ([]runeyield.DailyPoint, error)
}

// reportView is a report plus the derived figures for one unit.
type reportView struct {
	*runeyield.Report
	Mode            runeyield.Mode `json:"mode"`
	CurrentValue    float64        `json:"current_value"`
	AddedValue      float64        `json:"added_value"`
	WithdrawnValue  float64        `json:"withdrawn_value"`
	FeeValue        float64        `json:"fee_value"`
	GainLoss        float64        `json:"gain_loss"`
	GainLossPct     float64        `json:"gain_loss_pct"`
	RuneGain        float64        `json:"rune_gain"`
	RuneGainPct     float64        `json:"rune_gain_pct"`
	AssetGain       float64        `json:"asset_gain"`
	AssetGainPct    float64        `json:"asset_gain_pct"`
	PriceChangePct  float64        `json:"price_change_pct"`
	LPVsHold        float64        `json:"lp_vs_hold"`
	LPVsHoldPct     float64        `json:"lp_vs_hold_pct"`
	LPVsHoldAPY     float64        `json:"lp_vs_hold_apy"`
	RedeemableRune  float64        `json:"redeemable_rune"`
	RedeemableAsset float64        `json:"redeemable_asset"`
	TotalDays       float64        `json:"total_days"`
}

func newReportView(r *runeyield.Report, mode runeyield.Mode) reportView {
	v := reportView{
		Report:         r,
		Mode:           mode,
		CurrentValue:   r.CurrentValue(mode),
		AddedValue:     r.AddedValue(mode),
		WithdrawnValue: r.WithdrawnValue(mode),
		FeeValue:       r.FeeValue(mode),
		LPVsHoldAPY:    r.LPVsHoldAPY(),
		TotalDays:      r.TotalDays(),
	}
	v.GainLoss, v.GainLossPct = r.GainLoss(mode)
	v.RuneGain, v.RuneGainPct, v.AssetGain, v.AssetGainPct = r.GainLossRaw()
	v.LPVsHold, v.LPVsHoldPct = r.LPVsHold()
	v.RedeemableRune, v.RedeemableAsset = r.RedeemableRuneAsset()
	if mode != runeyield.ModeUSD {
		v.PriceChangePct = r.PriceChange(mode)
	}
	return v
}

// LPReport serves GET /api/lp/{address}?pool=&mode=. Without a pool it
// returns the summary of every pool the address touched.
func LPReport(gen ReportGenerator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		address := strings.TrimSpace(chi.URLParam(r, "address"))
		if !runeyield.ValidAddress(address) {
			http.Error(w, `{"error":"invalid address"}`, http.StatusBadRequest)
			return
		}
		pool := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("pool")))
		mode := runeyield.ParseMode(r.URL.Query().Get("mode"))

		if pool == "" {
			sum, err := gen.GenerateSummary(r.Context(), address, nil)
			if err != nil {
				reportError(w, err)
				return
			}
			views := make([]reportView, 0, len(sum.Reports))
			for _, rep := range sum.Reports {
				views = append(views, newReportView(rep, mode))
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"address":       sum.Address,
				"reports":       views,
				"current_usd":   sum.CurrentUSD,
				"added_usd":     sum.AddedUSD,
				"withdrawn_usd": sum.WithdrawnUSD,
				"fee_usd":       sum.FeeUSD,
				"imp_loss_usd":  sum.ImpLossUSD,
				"generated_at":  sum.GeneratedAt,
			})
			return
		}

		report, err := gen.GenerateReport(r.Context(), address, pool)
		if err != nil {
			reportError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newReportView(report, mode))
	}
}

// LPChart serves GET /api/lp/{address}/chart?pool=&days=.
func LPChart(gen ReportGenerator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		address := strings.TrimSpace(chi.URLParam(r, "address"))
		if !runeyield.ValidAddress(address) {
			http.Error(w, `{"error":"invalid address"}`, http.StatusBadRequest)
			return
		}
		pool := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("pool")))
		if pool == "" {
			http.Error(w, `{"error":"pool required"}`, http.StatusBadRequest)
			return
		}
		days := 14
		if v := r.URL.Query().Get("days"); v != "" {
			d, err := strconv.Atoi(v)
			if err != nil || d <= 0 || d > 365 {
				http.Error(w, `{"error":"days must be between 1 and 365"}`, http.StatusBadRequest)
				return
			}
			days = d
		}

		points, err := gen.DailyValues(r.Context(), address, pool, days)
		if err != nil {
			reportError(w, err)
			return
		}
		if points == nil {
			points = []runeyield.DailyPoint{}
		}
		writeJSON(w, http.StatusOK, points)
	}
}

// reportError maps engine failures to status codes: chain or indexer
// trouble is a 502, an expired computation a 504.
func reportError(w http.ResponseWriter, err error) {
	switch {
	case runeyield.IsUpstream(err):
		if errors.Is(err, context.DeadlineExceeded) {
			http.Error(w, `{"error":"report timed out"}`, http.StatusGatewayTimeout)
			return
		}
		http.Error(w, `{"error":"chain data not available, try again later"}`, http.StatusBadGateway)
	case errors.Is(err, context.DeadlineExceeded):
		http.Error(w, `{"error":"report timed out"}`, http.StatusGatewayTimeout)
	default:
		http.Error(w, `{"error":"failed to compute report"}`, http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
