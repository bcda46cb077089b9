package strategy

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
)

// ErrInvalidParams wraps every parameter validation failure.
var ErrInvalidParams = errors.New("invalid strategy params")

var validate = validator.New()

// Params configures the detector, the simulator and the backtester. It is
// passed by value so a running backtest never observes later edits.
//
// Zero-valued fields are filled from the default tags by Validate, so a
// threshold cannot be set to exactly zero through a config file.
type Params struct {
	// Detection
	VolumeAvgDays    int     `yaml:"volume_avg_days" json:"volume_avg_days" default:"10" validate:"gte=1"`
	VolumeRatioMin   float64 `yaml:"volume_ratio_min" json:"volume_ratio_min" default:"2.0" validate:"gte=0"`
	ConsolMinDays    int     `yaml:"consol_min_days" json:"consol_min_days" default:"10" validate:"gte=1"`
	ConsolMaxDays    int     `yaml:"consol_max_days" json:"consol_max_days" default:"130" validate:"gtefield=ConsolMinDays"`
	MaxDropPct       float64 `yaml:"max_drop_pct" json:"max_drop_pct" default:"50" validate:"gte=0,lte=100"`
	RiseMinPct       float64 `yaml:"rise_min_pct" json:"rise_min_pct" default:"100" validate:"gte=0"`
	RiseLookbackDays int     `yaml:"rise_lookback_days" json:"rise_lookback_days" validate:"gte=0"` // 0 = all history before the peak

	// BreakoutLookbackDays > 0 switches detection to a high-of-N breakout:
	// today's close above the highest high of the prior N bars on a volume
	// surge. The consolidation, drop and rise rules are not applied.
	BreakoutLookbackDays int `yaml:"breakout_lookback_days" json:"breakout_lookback_days" validate:"gte=0"`
	// MinHistoryDays raises the history floor, e.g. for the trend template's
	// 52-week window.
	MinHistoryDays int `yaml:"min_history_days" json:"min_history_days" validate:"gte=0"`

	// Exits
	StopLossPct     float64 `yaml:"stop_loss_pct" json:"stop_loss_pct" default:"7" validate:"gt=0,lt=100"`
	TrailingStopPct float64 `yaml:"trailing_stop_pct" json:"trailing_stop_pct" default:"15" validate:"gt=0,lt=100"`
	MAExitDays      int     `yaml:"ma_exit_days" json:"ma_exit_days" validate:"gte=0"` // 0 disables the MA exit

	// Run
	StartDate string `yaml:"start_date" json:"start_date" default:"2016-01-01" validate:"omitempty,datetime=2006-01-02"`
	Workers   int    `yaml:"workers" json:"workers" validate:"gte=0"` // 0 = one per CPU

	TrendTemplate *TrendTemplate `yaml:"trend_template,omitempty" json:"trend_template,omitempty"`
}

// MinHistory is the number of prior bars the detector needs before it can
// evaluate a day.
func (p Params) MinHistory() int {
	if p.BreakoutLookbackDays > 0 {
		return max(p.VolumeAvgDays, p.BreakoutLookbackDays, p.MinHistoryDays)
	}
	return max(p.VolumeAvgDays, p.ConsolMaxDays, p.RiseLookbackDays, p.MinHistoryDays)
}

// Start parses StartDate. An empty date means "from the first bar".
func (p Params) Start() time.Time {
	if p.StartDate == "" {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02", p.StartDate)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Validate fills defaults and checks every field. It must succeed before
// any simulation starts.
func (p *Params) Validate() error {
	// defaults.Set recurses into a non-nil TrendTemplate.
	if err := defaults.Set(p); err != nil {
		return fmt.Errorf("%w: applying defaults: %v", ErrInvalidParams, err)
	}
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidParams, describe(err))
	}
	return nil
}

// describe flattens validator field errors into one line.
func describe(err error) string {
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) {
		return err.Error()
	}
	msgs := make([]string, 0, len(fields))
	for _, fe := range fields {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s (got %v)", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s (got %v)", fe.Namespace(), fe.Tag(), fe.Value()))
		}
	}
	return strings.Join(msgs, "; ")
}

// Clone returns a deep copy so callers can derive a new snapshot without
// touching one that may be in use.
func (p Params) Clone() Params {
	if p.TrendTemplate != nil {
		tt := *p.TrendTemplate
		p.TrendTemplate = &tt
	}
	return p
}
