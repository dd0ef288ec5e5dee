package policy

import (
	"testing"
	"time"

	"github.com/begonlabs/unified-agent-pro-sub001/internal/models"
)

// 2025-03-10 is a Monday.
var monday1500 = time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)

func activeConfig() *models.AIConfiguration {
	return &models.AIConfiguration{IsActive: true, AlwaysActive: true, Timezone: "UTC"}
}

func paid(sent, limit int) Quota {
	return Quota{Sent: sent, Limit: limit, PaymentStatus: PaymentActive}
}

func TestDecide(t *testing.T) {
	engine := Engine{MinLength: 2}
	weekdays := &models.AIConfiguration{
		IsActive: true,
		Timezone: "UTC",
		OperatingHours: map[string]models.DayHours{
			"monday": {Enabled: true, Open: "09:00", Close: "18:00"},
			"sunday": {Enabled: false, Open: "09:00", Close: "18:00"},
		},
	}

	tests := []struct {
		name  string
		cfg   *models.AIConfiguration
		quota Quota
		text  string
		now   time.Time
		want  Decision
	}{
		{"eligible", activeConfig(), paid(10, 100), "hola", monday1500, Decision{Respond: true}},
		{"no configuration", nil, paid(0, 100), "hola", monday1500, Decision{Reason: ReasonNoConfig}},
		{"inactive configuration", &models.AIConfiguration{AlwaysActive: true}, paid(0, 100), "hola", monday1500, Decision{Reason: ReasonInactive}},
		{"single character", activeConfig(), paid(0, 100), " k ", monday1500, Decision{Reason: ReasonTooShort}},
		{"two accented runes pass", activeConfig(), paid(0, 100), "sí", monday1500, Decision{Respond: true}},
		{"inside hours", weekdays, paid(0, 100), "hola", monday1500, Decision{Respond: true}},
		{"after closing", weekdays, paid(0, 100), "hola", monday1500.Add(4 * time.Hour), Decision{Reason: ReasonOutsideHours}},
		{"disabled day", weekdays, paid(0, 100), "hola", monday1500.AddDate(0, 0, 6), Decision{Reason: ReasonOutsideHours}},
		{"unscheduled day", weekdays, paid(0, 100), "hola", monday1500.AddDate(0, 0, 1), Decision{Reason: ReasonOutsideHours}},
		{"quota exhausted", activeConfig(), paid(100, 100), "hola", monday1500, Decision{Reason: ReasonQuotaExhausted}},
		{"quota exceeded", activeConfig(), paid(101, 100), "hola", monday1500, Decision{Reason: ReasonQuotaExhausted}},
		{"subscription inactive", activeConfig(), Quota{Sent: 0, Limit: 100, PaymentStatus: "past_due"}, "hola", monday1500, Decision{Reason: ReasonSubscriptionInactive}},
		{"exhausted quota outside hours", weekdays, paid(100, 100), "hola", monday1500.Add(4 * time.Hour), Decision{Reason: ReasonQuotaExhausted}},
		{"trial bypasses quota", activeConfig(), Quota{Sent: 100, Limit: 100, IsTrial: true}, "hola", monday1500, Decision{Respond: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := engine.Decide(tt.cfg, tt.quota, tt.text, tt.now)
			if got != tt.want {
				t.Errorf("Decide = %+v, want %+v", got, tt.want)
			}
			if engine.ShouldRespond(tt.cfg, tt.quota, tt.text, tt.now) != tt.want.Respond {
				t.Error("ShouldRespond disagrees with Decide")
			}
		})
	}
}

func TestWithinOperatingHours(t *testing.T) {
	overnight := &models.AIConfiguration{
		Timezone: "UTC",
		OperatingHours: map[string]models.DayHours{
			"monday": {Enabled: true, Open: "22:00", Close: "02:00"},
		},
	}
	tests := []struct {
		name string
		cfg  *models.AIConfiguration
		now  time.Time
		want bool
	}{
		{"no schedule means open", &models.AIConfiguration{}, monday1500, true},
		{"overnight before midnight", overnight, time.Date(2025, 3, 10, 23, 30, 0, 0, time.UTC), true},
		{"overnight early morning", overnight, time.Date(2025, 3, 10, 1, 0, 0, 0, time.UTC), true},
		{"overnight afternoon", overnight, monday1500, false},
		{
			"timezone shifts the weekday",
			&models.AIConfiguration{Timezone: "America/Mexico_City", OperatingHours: map[string]models.DayHours{
				"sunday": {Enabled: true, Open: "20:00", Close: "23:00"},
			}},
			time.Date(2025, 3, 10, 3, 0, 0, 0, time.UTC), // Sunday 21:00 in Mexico City
			true,
		},
		{
			"unparsable hours are closed",
			&models.AIConfiguration{OperatingHours: map[string]models.DayHours{"monday": {Enabled: true, Open: "9am", Close: "6pm"}}},
			monday1500,
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WithinOperatingHours(tt.cfg, tt.now); got != tt.want {
				t.Errorf("WithinOperatingHours = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOutsideHoursNotice(t *testing.T) {
	if got := OutsideHoursNotice(nil); got != DefaultOutsideHoursNotice {
		t.Errorf("nil config notice = %q", got)
	}
	custom := &models.AIConfiguration{OutOfHoursMessage: " Volvemos el lunes. "}
	if got := OutsideHoursNotice(custom); got != "Volvemos el lunes." {
		t.Errorf("custom notice = %q", got)
	}
}
