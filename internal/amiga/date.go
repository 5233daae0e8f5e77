package amiga

import "time"

// Epoch is the AmigaDOS reference date.
var Epoch = time.Date(1978, time.January, 1, 0, 0, 0, 0, time.UTC)

// TicksPerSecond of an AmigaDOS datestamp.
const TicksPerSecond = 50

// Date is an AmigaDOS datestamp: days since 1978-01-01, minutes past
// midnight and ticks (1/50 s) past the minute.
type Date struct {
	Days  int32
	Mins  int32
	Ticks int32
}

// Time converts the datestamp to UTC.
func (d Date) Time() time.Time {
	return Epoch.AddDate(0, 0, int(d.Days)).
		Add(time.Duration(d.Mins) * time.Minute).
		Add(time.Duration(d.Ticks) * time.Second / TicksPerSecond)
}

// DateFromTime converts t to a datestamp, clamping dates before the epoch.
func DateFromTime(t time.Time) Date {
	t = t.UTC()
	if t.Before(Epoch) {
		return Date{}
	}
	y, m, dd := t.Date()
	midnight := time.Date(y, m, dd, 0, 0, 0, 0, time.UTC)
	days := int32(midnight.Sub(Epoch).Hours() / 24)
	sinceMidnight := t.Sub(midnight)
	mins := int32(sinceMidnight / time.Minute)
	ticks := int32((sinceMidnight % time.Minute) * TicksPerSecond / time.Second)
	return Date{Days: days, Mins: mins, Ticks: ticks}
}
