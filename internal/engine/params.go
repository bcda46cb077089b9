package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"

	"spotter/internal/domain"
)

// ErrInvalidParams wraps every rotation parameter validation failure.
var ErrInvalidParams = errors.New("invalid rotation params")

var validate = validator.New()

// RotationParams configures the rotation engine. Zero-valued fields take the
// default tag values, so Threshold and MinHistory cannot be set to zero
// from a config file.
type RotationParams struct {
	Alloc          []int           `yaml:"alloc" json:"alloc" default:"[3,2,1]" validate:"min=1,dive,gte=1"`
	RSPeriod       domain.RSPeriod `yaml:"rs_period" json:"rs_period" default:"1m" validate:"oneof=1m 3m 6m"`
	Threshold      int             `yaml:"threshold" json:"threshold" default:"70" validate:"gte=0,lte=99"`
	InitialCapital float64         `yaml:"initial_capital" json:"initial_capital" default:"100000" validate:"gt=0"`
	MinHistory     int             `yaml:"min_history" json:"min_history" default:"262" validate:"gte=0"`
	StartDate      string          `yaml:"start_date" json:"start_date" default:"2016-01-01" validate:"omitempty,datetime=2006-01-02"`
}

// Validate fills defaults and checks every field.
func (p *RotationParams) Validate() error {
	if err := defaults.Set(p); err != nil {
		return fmt.Errorf("%w: applying defaults: %v", ErrInvalidParams, err)
	}
	if err := validate.Struct(p); err != nil {
		var fields validator.ValidationErrors
		if !errors.As(err, &fields) {
			return fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
		msgs := make([]string, 0, len(fields))
		for _, fe := range fields {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s (got %v)", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value()))
		}
		return fmt.Errorf("%w: %s", ErrInvalidParams, strings.Join(msgs, "; "))
	}
	return nil
}

// Slots is the number of groups held at once.
func (p RotationParams) Slots() int { return len(p.Alloc) }

// MaxPositions is the most instruments the portfolio can hold.
func (p RotationParams) MaxPositions() int {
	n := 0
	for _, a := range p.Alloc {
		n += a
	}
	return n
}

// Start parses StartDate; an empty or unparsable date means the first bar.
func (p RotationParams) Start() time.Time {
	t, err := time.Parse("2006-01-02", p.StartDate)
	if err != nil {
		return time.Time{}
	}
	return t
}

// AllocString renders Alloc as "3+2+1".
func (p RotationParams) AllocString() string {
	parts := make([]string, len(p.Alloc))
	for i, a := range p.Alloc {
		parts[i] = fmt.Sprint(a)
	}
	return strings.Join(parts, "+")
}
