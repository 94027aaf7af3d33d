package scheduling

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

const (
	fallbackWindowStart = 9 * 60  // 09:00
	fallbackWindowEnd   = 21 * 60 // exclusive, last slot is 20:59
)

// LocalTime is a wall-clock time of day with minute precision.
type LocalTime struct {
	Hour   int
	Minute int
}

func (t LocalTime) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

var errMalformedTime = errors.New("preferred time must be HH:MM")

// ParseLocalTime parses a strict 24-hour "HH:MM" value.
func ParseLocalTime(raw string) (LocalTime, error) {
	if len(raw) != 5 || raw[2] != ':' {
		return LocalTime{}, errMalformedTime
	}
	h, okH := twoDigits(raw[0], raw[1])
	m, okM := twoDigits(raw[3], raw[4])
	if !okH || !okM || h > 23 || m > 59 {
		return LocalTime{}, errMalformedTime
	}
	return LocalTime{Hour: h, Minute: m}, nil
}

func twoDigits(a, b byte) (int, bool) {
	if a < '0' || a > '9' || b < '0' || b > '9' {
		return 0, false
	}
	return int(a-'0')*10 + int(b-'0'), true
}

// Resolution is the outcome of resolving a recipient's next delivery instant.
type Resolution struct {
	At time.Time
	// Timezone is the zone actually used. It differs from the input when the
	// input was not a recognised IANA name.
	Timezone          string
	TimezoneCorrected bool
	Fallback          bool
}

type Resolver struct {
	intn   func(n int) int
	logger *slog.Logger
}

type ResolverOption func(*Resolver)

// WithRandom replaces the source of the fallback delivery minute.
func WithRandom(intn func(n int) int) ResolverOption {
	return func(r *Resolver) { r.intn = intn }
}

func WithResolverLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = logger }
}

func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		intn:   rand.IntN,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the next instant strictly after now at which the preferred
// local time occurs in timezone. A nil preferred time picks a random minute in
// the 09:00-20:59 local window. The UTC offset applied is the one in effect on
// the resolved local date.
func (r *Resolver) Resolve(timezone string, preferred *LocalTime, now time.Time) Resolution {
	loc, corrected := loadLocation(timezone)
	res := Resolution{Timezone: loc.String(), TimezoneCorrected: corrected}
	if corrected {
		r.logger.Warn("unrecognised timezone, using UTC", "timezone", timezone)
	}

	var at LocalTime
	if preferred != nil {
		at = *preferred
	} else {
		minute := fallbackWindowStart + r.intn(fallbackWindowEnd-fallbackWindowStart)
		at = LocalTime{Hour: minute / 60, Minute: minute % 60}
		res.Fallback = true
		r.logger.Info("no preferred time, using random delivery window", "local_time", at.String(), "timezone", res.Timezone)
	}

	local := now.In(loc)
	for days := 0; ; days++ {
		candidate := time.Date(local.Year(), local.Month(), local.Day()+days, at.Hour, at.Minute, 0, 0, loc)
		if candidate.After(now) {
			res.At = candidate.UTC()
			return res
		}
	}
}

func loadLocation(name string) (*time.Location, bool) {
	if name == "" || name == "Local" {
		return time.UTC, true
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC, true
	}
	return loc, false
}
