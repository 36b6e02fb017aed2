package dataset

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	raRegex  = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d:[0-5]\d(?:\.\d+)?$`)
	decRegex = regexp.MustCompile(`^[+-]?(?:[0-8]?\d|90):[0-5]\d:[0-5]\d(?:\.\d+)?$`)
)

// ValidRA reports whether ra is a right ascension in HH:MM:SS(.sss) with hours below 24.
func ValidRA(ra string) bool {
	return raRegex.MatchString(strings.TrimSpace(ra))
}

// ValidDec reports whether dec is a declination in ±DD:MM:SS(.sss) within 90 degrees.
func ValidDec(dec string) bool {
	dec = strings.TrimSpace(dec)
	if !decRegex.MatchString(dec) {
		return false
	}
	// 90 degrees admits no further minutes or seconds.
	deg, rest, _ := strings.Cut(strings.TrimLeft(dec, "+-"), ":")
	if deg == "90" {
		return strings.Trim(strings.ReplaceAll(rest, ":", ""), "0.") == ""
	}
	return true
}

// Check returns a descriptive error for the first invalid field of o.
func (o *Observation) Check() error {
	switch {
	case strings.TrimSpace(o.ObjectName) == "":
		return fmt.Errorf("%w: object_name is required", ErrInvalidObservation)
	case strings.TrimSpace(o.RA) == "":
		return fmt.Errorf("%w: ra is required", ErrInvalidObservation)
	case !ValidRA(o.RA):
		return fmt.Errorf("%w: ra must be HH:MM:SS(.sss)", ErrInvalidObservation)
	case strings.TrimSpace(o.Dec) == "":
		return fmt.Errorf("%w: dec is required", ErrInvalidObservation)
	case !ValidDec(o.Dec):
		return fmt.Errorf("%w: dec must be +/-DD:MM:SS(.sss)", ErrInvalidObservation)
	case o.ObservationDate.IsZero():
		return fmt.Errorf("%w: observation_date is required", ErrInvalidObservation)
	}
	return nil
}

// HumanSize renders a byte count as "N bytes", "x KB", "x MB" or "x GB",
// rounded to two decimals.
func HumanSize(size int64) string {
	switch {
	case size < 1024:
		return fmt.Sprintf("%d bytes", size)
	case size < 1024*1024:
		return formatUnit(float64(size)/1024, "KB")
	case size < 1024*1024*1024:
		return formatUnit(float64(size)/(1024*1024), "MB")
	default:
		return formatUnit(float64(size)/(1024*1024*1024), "GB")
	}
}

func formatUnit(v float64, unit string) string {
	s := strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s + " " + unit
}
