package core

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const DateLayout = "2006-01-02"

var (
	errInvalidDate  = errors.New("invalid date, expected YYYY-MM-DD")
	errInvalidClock = errors.New("invalid time, expected HH:MM")
)

// Date is a calendar day, stored as midnight UTC.
type Date struct {
	time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar day of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, m, d)
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, errInvalidDate
	}
	return Date{t}, nil
}

// MustParseDate panics on invalid input; meant for tests and constants.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

func (d Date) AddDays(n int) Date { return Date{d.Time.AddDate(0, 0, n)} }
func (d Date) Before(other Date) bool { return d.Time.Before(other.Time) }
func (d Date) After(other Date) bool { return d.Time.After(other.Time) }
func (d Date) Equal(other Date) bool { return d.Time.Equal(other.Time) }
func (d Date) Between(from, to Date) bool { return !d.Before(from) && !d.After(to) }

// ISOWeekday returns 1 for Monday through 7 for Sunday.
func (d Date) ISOWeekday() int {
	wd := int(d.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// At combines the day with a clock time in loc.
func (d Date) At(c Clock, loc *time.Location) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), c.Hour(), c.Minute(), 0, 0, loc)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errInvalidDate
	}
	return d.UnmarshalParam(s)
}

// UnmarshalParam implements echo.BindUnmarshaler.
func (d *Date) UnmarshalParam(param string) error {
	if strings.TrimSpace(param) == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(param)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Date) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}
	return d.Time, nil
}

func (d *Date) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*d = Date{}
	case time.Time:
		*d = DateOf(v)
	case []byte:
		return d.UnmarshalParam(string(v[:min(len(v), len(DateLayout))]))
	case string:
		return d.UnmarshalParam(v[:min(len(v), len(DateLayout))])
	default:
		return fmt.Errorf("cannot scan %T into core.Date", src)
	}
	return nil
}

// Clock is a time of day with minute precision.
type Clock int

func NewClock(hour, minute int) Clock {
	return Clock(hour*60 + minute)
}

// ParseClock accepts HH:MM and HH:MM:SS.
func ParseClock(s string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, errInvalidClock
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, errInvalidClock
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, errInvalidClock
	}
	return NewClock(h, m), nil
}

func MustParseClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Clock) Hour() int   { return int(c) / 60 }
func (c Clock) Minute() int { return int(c) % 60 }

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

func (c Clock) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Clock) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errInvalidClock
	}
	parsed, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func (c *Clock) UnmarshalParam(param string) error {
	parsed, err := ParseClock(param)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func (c Clock) Value() (driver.Value, error) {
	return c.String() + ":00", nil
}

func (c *Clock) Scan(src interface{}) error {
	var err error
	switch v := src.(type) {
	case time.Time:
		*c = NewClock(v.Hour(), v.Minute())
	case []byte:
		*c, err = ParseClock(string(v))
	case string:
		*c, err = ParseClock(v)
	default:
		return fmt.Errorf("cannot scan %T into core.Clock", src)
	}
	return err
}
