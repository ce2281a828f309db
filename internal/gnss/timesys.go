package gnss

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// TimeSystem tags the scale that record times are expressed in. Times are
// carried as time.Time; the tag only labels them.
type TimeSystem int

const (
	TimeAny TimeSystem = iota
	TimeGPS
	TimeUTC
	TimeGLO
	TimeGAL
	TimeBDT
	TimeQZS
)

var timeSystemNames = []string{"Any", "GPS", "UTC", "GLO", "GAL", "BDT", "QZS"}

func (ts TimeSystem) String() string {
	if ts < 0 || int(ts) >= len(timeSystemNames) {
		return "Unknown"
	}
	return timeSystemNames[ts]
}

// ParseTimeSystem maps a name such as "GPS" or "utc" to a TimeSystem.
func ParseTimeSystem(s string) (TimeSystem, error) {
	for i, n := range timeSystemNames {
		if strings.EqualFold(n, s) {
			return TimeSystem(i), nil
		}
	}
	return TimeAny, fmt.Errorf("unknown time system %q", s)
}

// Sentinels for an empty span. An empty store reports
// [EndOfTime, BeginningOfTime], i.e. infinitely wide with no data.
var (
	BeginningOfTime = time.Date(0, time.January, 1, 0, 0, 0, 0, time.UTC)
	EndOfTime       = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)
)

// TimeFormat is the layout used by diagnostics.
const TimeFormat = "2006/01/02 15:04:05"

// FormatTime renders t for diagnostics, spelling out the sentinels.
func FormatTime(t time.Time, ts TimeSystem) string {
	switch {
	case t.Equal(EndOfTime):
		return "End_time"
	case t.Equal(BeginningOfTime):
		return "Begin_time"
	}
	return t.UTC().Format(TimeFormat) + " " + ts.String()
}

// Week epochs for the systems whose broadcast elements are referenced to a
// week (Galileo's GST week shares the GPS epoch modulo 1024 weeks).
var (
	gpsEpoch = time.Date(1980, time.January, 6, 0, 0, 0, 0, time.UTC)
	bdtEpoch = time.Date(2006, time.January, 1, 0, 0, 0, 0, time.UTC)
)

// SecondsPerWeek is the length of a navigation week.
const SecondsPerWeek = 604800.0

// WeekSeconds splits t into a week number and seconds of week for the given
// constellation. t is interpreted in that constellation's time scale.
func WeekSeconds(sys System, t time.Time) (int, float64) {
	epoch := gpsEpoch
	if sys == SystemBeiDou {
		epoch = bdtEpoch
	}
	d := t.Sub(epoch).Seconds()
	week := int(math.Floor(d / SecondsPerWeek))
	return week, d - float64(week)*SecondsPerWeek
}
