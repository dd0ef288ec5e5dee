package policy

import (
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog/log"

	"github.com/begonlabs/unified-agent-pro-sub001/internal/models"
)

// WithinOperatingHours reports whether now falls inside the configured window
// for its weekday, evaluated in the configuration's timezone. No schedule
// at all means always open; a configured schedule without today means closed.
func WithinOperatingHours(cfg *models.AIConfiguration, now time.Time) bool {
	if cfg.AlwaysActive || len(cfg.OperatingHours) == 0 {
		return true
	}

	local := now.In(location(cfg.Timezone))
	day, ok := cfg.OperatingHours[strings.ToLower(local.Weekday().String())]
	if !ok || !day.Enabled {
		return false
	}

	open, okOpen := minutesOfDay(day.Open)
	closing, okClose := minutesOfDay(day.Close)
	if !okOpen || !okClose {
		log.Warn().Str("ownerID", cfg.UserID).Str("open", day.Open).Str("close", day.Close).Msg("Unparsable operating hours, treating day as closed")
		return false
	}

	m := local.Hour()*60 + local.Minute()
	if open <= closing {
		return m >= open && m < closing
	}
	// overnight window, e.g. 22:00-02:00
	return m >= open || m < closing
}

func location(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Warn().Err(err).Str("timezone", name).Msg("Unknown timezone, using UTC")
		return time.UTC
	}
	return loc
}

func minutesOfDay(hhmm string) (int, bool) {
	t, err := time.Parse("15:04", strings.TrimSpace(hhmm))
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}
