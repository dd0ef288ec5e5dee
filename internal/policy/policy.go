// Package policy decides whether an automatic reply is warranted.
package policy

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/begonlabs/unified-agent-pro-sub001/internal/models"
)

// PaymentActive is the payment_status of a paying account in good standing.
const PaymentActive = "active"

// DefaultOutsideHoursNotice is sent when a message arrives outside operating hours
// and the configuration has no custom text.
const DefaultOutsideHoursNotice = "¡Gracias por tu mensaje! En este momento estamos fuera de nuestro horario de atención. Te responderemos lo antes posible."

// Reason explains a negative decision.
type Reason string

const (
	ReasonNone                 Reason = ""
	ReasonNoConfig             Reason = "no_config"
	ReasonInactive             Reason = "inactive"
	ReasonTooShort             Reason = "too_short"
	ReasonOutsideHours         Reason = "outside_hours"
	ReasonQuotaExhausted       Reason = "quota_exhausted"
	ReasonSubscriptionInactive Reason = "subscription_inactive"
)

// Quota is the owner's monthly counter state.
type Quota struct {
	Sent          int
	Limit         int
	IsTrial       bool
	PaymentStatus string
}

// QuotaFromProfile extracts quota counters from a profile.
func QuotaFromProfile(p *models.Profile) Quota {
	return Quota{
		Sent:          p.MessagesSentThisMonth,
		Limit:         p.MessagesLimit,
		IsTrial:       p.IsTrial,
		PaymentStatus: p.PaymentStatus,
	}
}

// Check returns the reason the plan forbids another automatic reply, or
// ReasonNone. Trials are not metered.
func (q Quota) Check() Reason {
	switch {
	case q.IsTrial:
		return ReasonNone
	case q.PaymentStatus != PaymentActive:
		return ReasonSubscriptionInactive
	case q.Sent >= q.Limit:
		return ReasonQuotaExhausted
	}
	return ReasonNone
}

// Decision is the outcome of Decide.
type Decision struct {
	Respond bool
	Reason  Reason
}

// Engine holds the policy knobs that are not per-owner.
type Engine struct {
	MinLength int
}

// Decide evaluates every suppression rule in order. Quota is checked before
// any reply is generated, never after.
func (e Engine) Decide(cfg *models.AIConfiguration, quota Quota, text string, now time.Time) Decision {
	switch {
	case cfg == nil:
		return Decision{Reason: ReasonNoConfig}
	case !cfg.IsActive:
		return Decision{Reason: ReasonInactive}
	case utf8.RuneCountInString(strings.TrimSpace(text)) < e.MinLength:
		return Decision{Reason: ReasonTooShort}
	}

	// Quota comes before hours so an exhausted plan gets no notice either.
	if reason := quota.Check(); reason != ReasonNone {
		return Decision{Reason: reason}
	}
	if !cfg.AlwaysActive && !WithinOperatingHours(cfg, now) {
		return Decision{Reason: ReasonOutsideHours}
	}
	return Decision{Respond: true}
}

// ShouldRespond is Decide reduced to a boolean.
func (e Engine) ShouldRespond(cfg *models.AIConfiguration, quota Quota, text string, now time.Time) bool {
	return e.Decide(cfg, quota, text, now).Respond
}

// OutsideHoursNotice returns the owner's custom notice or the default one.
func OutsideHoursNotice(cfg *models.AIConfiguration) string {
	if cfg != nil && strings.TrimSpace(cfg.OutOfHoursMessage) != "" {
		return strings.TrimSpace(cfg.OutOfHoursMessage)
	}
	return DefaultOutsideHoursNotice
}
