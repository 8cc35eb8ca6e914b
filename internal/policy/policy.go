// Package policy loads the operator-tunable queue policy file. Everything an
// ops lead may want to adjust without a deploy lives here: lease durations,
// callback retry behavior, aging cadence, outcome score adjustments, the
// conversion dedup window, attribution rules, and the per-category
// eligibility queries.
package policy

import (
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Policy is the full queue policy document.
type Policy struct {
	Leases      LeasePolicy       `yaml:"leases"`
	Callbacks   CallbackPolicy    `yaml:"callbacks"`
	Aging       AgingPolicy       `yaml:"aging"`
	Inbound     InboundPolicy     `yaml:"inbound"`
	Outcomes    OutcomePolicy     `yaml:"outcomes"`
	Conversions ConversionPolicy  `yaml:"conversions"`
	Attribution AttributionPolicy `yaml:"attribution"`
	Eligibility map[string]string `yaml:"eligibility"` // category -> SOQL template
}

// LeasePolicy sets how long each kind of claim holds before expiring.
type LeasePolicy struct {
	LeadSecs         int `yaml:"lead_secs"`
	CallbackSecs     int `yaml:"callback_secs"`
	InboundGraceSecs int `yaml:"inbound_grace_secs"`
}

// CallbackPolicy sets retry behavior for failed callback attempts.
type CallbackPolicy struct {
	MaxRetries     int `yaml:"max_retries"`
	RetryDelayMins int `yaml:"retry_delay_mins"`
}

// AgingPolicy sets the daily score-aging cadence.
type AgingPolicy struct {
	Step    int    `yaml:"step"`
	RestDay string `yaml:"rest_day"`
}

// InboundPolicy sets wait limits for the inbound queue.
type InboundPolicy struct {
	MaxWaitSecs   int  `yaml:"max_wait_secs"`
	OfferCallback bool `yaml:"offer_callback"`
}

// OutcomePolicy sets the score adjustment applied after each call outcome.
// Adjustments only push scores toward the terminal end; clamping to the
// score domain happens at write time.
type OutcomePolicy struct {
	Answered int `yaml:"answered"`
	NoAnswer int `yaml:"no_answer"`
	Busy     int `yaml:"busy"`
	Failed   int `yaml:"failed"`
}

// ConversionPolicy sets the rolling dedup window for the conversion ledger.
type ConversionPolicy struct {
	DedupWindowMins int `yaml:"dedup_window_mins"`
}

// AttributionPolicy sets which contacts qualify for conversion credit.
type AttributionPolicy struct {
	LookbackDays   int `yaml:"lookback_days"`
	MinTalkSeconds int `yaml:"min_talk_seconds"`
}

// Default returns the policy the engine ships with.
func Default() *Policy {
	return &Policy{
		Leases: LeasePolicy{
			LeadSecs:         300,
			CallbackSecs:     300,
			InboundGraceSecs: 30,
		},
		Callbacks: CallbackPolicy{
			MaxRetries:     1,
			RetryDelayMins: 15,
		},
		Aging: AgingPolicy{
			Step:    1,
			RestDay: "Sunday",
		},
		Inbound: InboundPolicy{
			MaxWaitSecs:   600,
			OfferCallback: true,
		},
		Outcomes: OutcomePolicy{
			Answered: 40,
			NoAnswer: 5,
			Busy:     2,
			Failed:   5,
		},
		Conversions: ConversionPolicy{
			DedupWindowMins: 60,
		},
		Attribution: AttributionPolicy{
			LookbackDays:   30,
			MinTalkSeconds: 30,
		},
	}
}

// Load reads the policy file at path, layered over Default. A missing file
// returns the defaults unchanged.
func Load(path string) (*Policy, error) {
	p := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return nil, eris.Wrapf(err, "policy: read %s", path)
	}

	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, eris.Wrapf(err, "policy: parse %s", path)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the policy for values the engine cannot run with.
func (p *Policy) Validate() error {
	if p.Leases.LeadSecs <= 0 || p.Leases.CallbackSecs <= 0 || p.Leases.InboundGraceSecs <= 0 {
		return eris.New("policy: lease durations must be positive")
	}
	if p.Callbacks.MaxRetries < 0 {
		return eris.New("policy: callbacks.max_retries must not be negative")
	}
	if p.Callbacks.RetryDelayMins <= 0 {
		return eris.New("policy: callbacks.retry_delay_mins must be positive")
	}
	if p.Aging.Step <= 0 {
		return eris.New("policy: aging.step must be positive")
	}
	if _, err := p.RestWeekday(); err != nil {
		return err
	}
	if p.Conversions.DedupWindowMins <= 0 {
		return eris.New("policy: conversions.dedup_window_mins must be positive")
	}
	if p.Attribution.LookbackDays <= 0 || p.Attribution.MinTalkSeconds < 0 {
		return eris.New("policy: attribution settings out of range")
	}
	return nil
}

// LeadLease returns the ordinary-lead claim duration.
func (p *Policy) LeadLease() time.Duration {
	return time.Duration(p.Leases.LeadSecs) * time.Second
}

// CallbackLease returns the callback assignment duration.
func (p *Policy) CallbackLease() time.Duration {
	return time.Duration(p.Leases.CallbackSecs) * time.Second
}

// InboundGrace returns the inbound connect grace period.
func (p *Policy) InboundGrace() time.Duration {
	return time.Duration(p.Leases.InboundGraceSecs) * time.Second
}

// RetryDelay returns how far out a failed callback is rescheduled.
func (p *Policy) RetryDelay() time.Duration {
	return time.Duration(p.Callbacks.RetryDelayMins) * time.Minute
}

// MaxWait returns the inbound wait limit.
func (p *Policy) MaxWait() time.Duration {
	return time.Duration(p.Inbound.MaxWaitSecs) * time.Second
}

// DedupWindow returns the rolling conversion dedup window.
func (p *Policy) DedupWindow() time.Duration {
	return time.Duration(p.Conversions.DedupWindowMins) * time.Minute
}

// AttributionLookback returns how far back qualifying contacts are counted.
func (p *Policy) AttributionLookback() time.Duration {
	return time.Duration(p.Attribution.LookbackDays) * 24 * time.Hour
}

// RestWeekday parses the configured aging rest day.
func (p *Policy) RestWeekday() (time.Weekday, error) {
	switch strings.ToLower(p.Aging.RestDay) {
	case "sunday":
		return time.Sunday, nil
	case "monday":
		return time.Monday, nil
	case "tuesday":
		return time.Tuesday, nil
	case "wednesday":
		return time.Wednesday, nil
	case "thursday":
		return time.Thursday, nil
	case "friday":
		return time.Friday, nil
	case "saturday":
		return time.Saturday, nil
	default:
		return 0, eris.Errorf("policy: unknown rest day %q", p.Aging.RestDay)
	}
}

// OutcomeAdjustment returns the score delta for a call outcome string.
// Unknown outcomes adjust by zero.
func (p *Policy) OutcomeAdjustment(outcome string) int {
	switch outcome {
	case "answered":
		return p.Outcomes.Answered
	case "no_answer":
		return p.Outcomes.NoAnswer
	case "busy":
		return p.Outcomes.Busy
	case "failed":
		return p.Outcomes.Failed
	default:
		return 0
	}
}
