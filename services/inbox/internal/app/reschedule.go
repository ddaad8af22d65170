package app

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"lessonhub/pkg/booking"
	"lessonhub/pkg/domain"
)

// Reasons recorded when a reschedule or cancel request is checked.
const (
	rescheduleVerified        = "verified"
	rescheduleNoCustomer      = "no_customer"
	rescheduleNoTimeReference = "no_time_reference"
	rescheduleNoMatch         = "no_match"
	rescheduleAmbiguous       = "ambiguous"
	rescheduleLookupFailed    = "lookup_failed"
)

var (
	isoDateRe  = regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`)
	dmyDateRe  = regexp.MustCompile(`\b(\d{1,2})[./](\d{1,2})(?:[./](\d{4}|\d{2}))?\b`)
	weekdayRe  = regexp.MustCompile(`\b(next\s+)?(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
	relDayRe   = regexp.MustCompile(`\b(day after tomorrow|tomorrow|today|tonight)\b`)
	clockRange = regexp.MustCompile(`\b(\d{1,2})(?:[:.](\d{2}))?\s*(am|pm|h)?\s*(?:-|–|to|until|till)\s*(\d{1,2})(?:[:.](\d{2}))?(?:\s*(am|pm|h)\b)?`)
	clockPoint = regexp.MustCompile(`\b(\d{1,2})(?:[:.](\d{2}))?(?:\s*(am|pm|h|uhr)\b)?`)
)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// clockWindow is a time of day range in minutes after midnight.
type clockWindow struct {
	start  int
	end    int
	hasEnd bool
	pos    int
}

func (w clockWindow) startOn(day time.Time) time.Time {
	return atMinute(day, w.start)
}

func (w clockWindow) endOn(day time.Time) time.Time {
	if w.end <= w.start {
		day = day.AddDate(0, 0, 1)
	}
	return atMinute(day, w.end)
}

func atMinute(day time.Time, minute int) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, minute/60, minute%60, 0, 0, day.Location())
}

// timeReference is what a message says about when a lesson takes place.
type timeReference struct {
	day     time.Time
	hasDay  bool
	windows []clockWindow
}

func (r timeReference) empty() bool { return !r.hasDay && len(r.windows) == 0 }

// parseTimeReference extracts a day and clock windows from text. Relative days
// are resolved against now in loc.
func parseTimeReference(text string, now time.Time, loc *time.Location) timeReference {
	if loc == nil {
		loc = time.UTC
	}
	lower := strings.ToLower(text)
	lower = strings.NewReplacer("a.m.", "am ", "p.m.", "pm ", "–", "- ").Replace(lower)
	buf := []byte(lower)
	today := midnight(now.In(loc))

	var ref timeReference
	for _, m := range isoDateRe.FindAllStringSubmatchIndex(lower, -1) {
		y, _ := strconv.Atoi(group(lower, m, 1))
		mo, _ := strconv.Atoi(group(lower, m, 2))
		d, _ := strconv.Atoi(group(lower, m, 3))
		blank(buf, m[0], m[1])
		if day, ok := civilDate(y, mo, d, loc); ok && !ref.hasDay {
			ref.day, ref.hasDay = day, true
		}
	}
	rest := string(buf)
	for _, m := range dmyDateRe.FindAllStringSubmatchIndex(rest, -1) {
		d, _ := strconv.Atoi(group(rest, m, 1))
		mo, _ := strconv.Atoi(group(rest, m, 2))
		day, ok := time.Time{}, false
		if ys := group(rest, m, 3); ys != "" {
			y, _ := strconv.Atoi(ys)
			if y < 100 {
				y += 2000
			}
			day, ok = civilDate(y, mo, d, loc)
		} else {
			day, ok = civilDate(today.Year(), mo, d, loc)
			if ok && day.Before(today) {
				day, ok = civilDate(today.Year()+1, mo, d, loc)
			}
		}
		if !ok {
			continue
		}
		blank(buf, m[0], m[1])
		if !ref.hasDay {
			ref.day, ref.hasDay = day, true
		}
	}
	rest = string(buf)

	if !ref.hasDay {
		if m := relDayRe.FindStringSubmatch(rest); m != nil {
			offset := 0
			switch m[1] {
			case "tomorrow":
				offset = 1
			case "day after tomorrow":
				offset = 2
			}
			ref.day, ref.hasDay = today.AddDate(0, 0, offset), true
		}
	}
	if !ref.hasDay {
		if m := weekdayRe.FindStringSubmatch(rest); m != nil {
			ahead := (int(weekdays[m[2]]) - int(today.Weekday()) + 7) % 7
			if ahead == 0 && m[1] != "" {
				ahead = 7
			}
			ref.day, ref.hasDay = today.AddDate(0, 0, ahead), true
		}
	}

	ref.windows = parseClockWindows(rest)
	return ref
}

func parseClockWindows(text string) []clockWindow {
	var out []clockWindow
	buf := []byte(text)
	for _, m := range clockRange.FindAllStringSubmatchIndex(text, -1) {
		h1, m1, mer1 := group(text, m, 1), group(text, m, 2), group(text, m, 3)
		h2, m2, mer2 := group(text, m, 4), group(text, m, 5), group(text, m, 6)
		if m1 == "" && mer1 == "" && m2 == "" && mer2 == "" {
			continue
		}
		if m1 == "" && followedByDigit(text, m[3]) || m2 == "" && followedByDigit(text, m[9]) {
			continue
		}
		if mer1 == "" && (mer2 == "am" || mer2 == "pm") {
			mer1 = mer2
		}
		start, ok1 := clockMinutes(h1, m1, mer1)
		end, ok2 := clockMinutes(h2, m2, mer2)
		if mer2 == "pm" && group(text, m, 3) == "" && start > end {
			start, ok1 = clockMinutes(h1, m1, "am")
		}
		if !ok1 || !ok2 {
			continue
		}
		out = append(out, clockWindow{start: start, end: end, hasEnd: true, pos: m[0]})
		blank(buf, m[0], m[1])
	}
	rest := string(buf)
	for _, m := range clockPoint.FindAllStringSubmatchIndex(rest, -1) {
		h, mm, mer := group(rest, m, 1), group(rest, m, 2), group(rest, m, 3)
		if mm == "" && mer == "" {
			continue
		}
		if mm == "" && followedByDigit(rest, m[3]) {
			continue
		}
		start, ok := clockMinutes(h, mm, mer)
		if !ok {
			continue
		}
		out = append(out, clockWindow{start: start, pos: m[0]})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].pos < out[j].pos })
	return out
}

func clockMinutes(hour, minute, meridiem string) (int, bool) {
	h, err := strconv.Atoi(hour)
	if err != nil {
		return 0, false
	}
	m := 0
	if minute != "" {
		if m, err = strconv.Atoi(minute); err != nil || m > 59 {
			return 0, false
		}
	}
	switch meridiem {
	case "am", "pm":
		if h < 1 || h > 12 {
			return 0, false
		}
		if h == 12 {
			h = 0
		}
		if meridiem == "pm" {
			h += 12
		}
	default:
		if h > 23 {
			return 0, false
		}
	}
	return h*60 + m, true
}

// rescheduleCheck is the outcome of matching a message against bookings.
type rescheduleCheck struct {
	Verified  bool
	BookingID string
	Reason    string
	Proposed  *domain.SuggestedAction
}

// matchBooking looks for exactly one live booking referenced by ref. A booking
// matches when its start is within tolerance of the first window, its end is
// within tolerance when the window has one, and its local date equals the
// referenced day when one was given.
func matchBooking(ref timeReference, candidates []domain.Booking, now time.Time, loc *time.Location, tolerance time.Duration) rescheduleCheck {
	if ref.empty() {
		return rescheduleCheck{Reason: rescheduleNoTimeReference}
	}
	var matches []domain.Booking
	for _, b := range candidates {
		if !booking.IsActive(b.Status) || !b.EndTime.After(now) {
			continue
		}
		day := midnight(b.StartTime.In(loc))
		if ref.hasDay && !day.Equal(ref.day) {
			continue
		}
		if len(ref.windows) > 0 {
			from := ref.windows[0]
			if absDuration(b.StartTime.Sub(from.startOn(day))) > tolerance {
				continue
			}
			if from.hasEnd && absDuration(b.EndTime.Sub(from.endOn(day))) > tolerance {
				continue
			}
		}
		matches = append(matches, b)
	}
	switch len(matches) {
	case 0:
		return rescheduleCheck{Reason: rescheduleNoMatch}
	case 1:
	default:
		return rescheduleCheck{Reason: rescheduleAmbiguous}
	}
	b := matches[0]
	check := rescheduleCheck{Verified: true, BookingID: b.ID, Reason: rescheduleVerified}
	if len(ref.windows) > 1 {
		to := ref.windows[1]
		day := midnight(b.StartTime.In(loc))
		start := to.startOn(day)
		end := start.Add(b.EndTime.Sub(b.StartTime))
		if to.hasEnd {
			end = to.endOn(day)
		}
		start, end = start.UTC(), end.UTC()
		check.Proposed = &domain.SuggestedAction{ProposedStart: &start, ProposedEnd: &end}
	}
	return check
}

func civilDate(y, m, d int, loc *time.Location) (time.Time, bool) {
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, loc)
	if t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func group(s string, m []int, i int) string {
	if 2*i+1 >= len(m) || m[2*i] < 0 {
		return ""
	}
	return s[m[2*i]:m[2*i+1]]
}

func followedByDigit(s string, end int) bool {
	return end >= 0 && end < len(s) && s[end] >= '0' && s[end] <= '9'
}

func blank(buf []byte, from, to int) {
	for i := from; i < to && i < len(buf); i++ {
		buf[i] = ' '
	}
}
