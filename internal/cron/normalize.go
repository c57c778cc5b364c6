package cron

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/adhocore/gronx"
)

var (
	everyNMinutesRe = regexp.MustCompile(`^every\s+(\d+)\s+min(?:ute)?s?$`)
	everyNHoursRe   = regexp.MustCompile(`^every\s+(\d+)\s+hours?$`)
	atTimeRe        = regexp.MustCompile(`^every\s+(morning|day|evening|night)(?:\s+at\s+(\d{1,2})(?::(\d{2}))?\s*(am|pm)?)?$`)
	weekdayRe       = regexp.MustCompile(`^every\s+(sunday|monday|tuesday|wednesday|thursday|friday|saturday)(?:\s+at\s+(\d{1,2})(?::(\d{2}))?\s*(am|pm)?)?$`)
)

var weekdays = map[string]int{
	"sunday": 0, "monday": 1, "tuesday": 2, "wednesday": 3,
	"thursday": 4, "friday": 5, "saturday": 6,
}

// Normalize maps a natural-language recurrence to a five-field cron
// expression. Inputs that already look like cron expressions pass through
// after validation. Returns an error for phrases it cannot interpret.
func Normalize(input string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(input))
	s = strings.Join(strings.Fields(s), " ")

	if gronx.New().IsValid(s) {
		return s, nil
	}

	switch s {
	case "every minute":
		return "* * * * *", nil
	case "every hour", "hourly":
		return "0 * * * *", nil
	case "every day", "daily":
		return "0 9 * * *", nil
	case "every week", "weekly":
		return "0 9 * * 1", nil
	case "every month", "monthly":
		return "0 9 1 * *", nil
	}

	if m := everyNMinutesRe.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n < 1 || n > 59 {
			return "", fmt.Errorf("minute interval %d out of range", n)
		}
		return fmt.Sprintf("*/%d * * * *", n), nil
	}
	if m := everyNHoursRe.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n < 1 || n > 23 {
			return "", fmt.Errorf("hour interval %d out of range", n)
		}
		return fmt.Sprintf("0 */%d * * *", n), nil
	}
	if m := atTimeRe.FindStringSubmatch(s); m != nil {
		hour, minute, err := clockFields(m[2], m[3], m[4], defaultHour(m[1]))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d %d * * *", minute, hour), nil
	}
	if m := weekdayRe.FindStringSubmatch(s); m != nil {
		hour, minute, err := clockFields(m[2], m[3], m[4], 9)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d %d * * %d", minute, hour, weekdays[m[1]]), nil
	}
	return "", fmt.Errorf("cannot interpret schedule %q", input)
}

// defaultHour picks a sensible hour for a time-of-day word with no clock.
func defaultHour(word string) int {
	switch word {
	case "morning":
		return 8
	case "evening":
		return 18
	case "night":
		return 21
	default:
		return 9
	}
}

func clockFields(hourStr, minStr, ampm string, fallbackHour int) (int, int, error) {
	if hourStr == "" {
		return fallbackHour, 0, nil
	}
	hour, err := strconv.Atoi(hourStr)
	if err != nil {
		return 0, 0, fmt.Errorf("bad hour %q", hourStr)
	}
	minute := 0
	if minStr != "" {
		minute, err = strconv.Atoi(minStr)
		if err != nil || minute > 59 {
			return 0, 0, fmt.Errorf("bad minute %q", minStr)
		}
	}
	switch ampm {
	case "pm":
		if hour < 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	}
	if hour > 23 {
		return 0, 0, fmt.Errorf("hour %d out of range", hour)
	}
	return hour, minute, nil
}

// ValidateExpr reports whether expr is an acceptable cron expression.
func ValidateExpr(expr string) error {
	if !gronx.New().IsValid(expr) {
		return fmt.Errorf("invalid cron expression %q", expr)
	}
	return nil
}
