package domain

import (
	"fmt"
	"strings"
)

// Sensor is a named weather station from the catalog.
type Sensor struct {
	ID   int64
	Name string
}

// ResolveSensor finds the single catalog sensor whose name contains
// candidate as a literal substring. An empty candidate never matches.
//
// Both "no match" and "more than one match" are errors: a file must never be
// attributed to a sensor by accident.
func ResolveSensor(candidate string, sensors []Sensor) (Sensor, error) {
	if candidate == "" {
		return Sensor{}, fmt.Errorf("%w: empty sensor name", ErrUnknownSensor)
	}

	var matches []Sensor
	for _, s := range sensors {
		if strings.Contains(s.Name, candidate) {
			matches = append(matches, s)
		}
	}

	switch len(matches) {
	case 0:
		return Sensor{}, fmt.Errorf("%w: %q", ErrUnknownSensor, candidate)
	case 1:
		return matches[0], nil
	default:
		names := make([]string, len(matches))
		for i, m := range matches {
			names[i] = m.Name
		}
		return Sensor{}, fmt.Errorf("%w: %q matches %s", ErrAmbiguousSensor, candidate, strings.Join(names, ", "))
	}
}

// SensorNameFromFile derives the candidate sensor name from a file's base
// name: the text before the first occurrence of mask, or the whole stem when
// mask is empty or absent.
func SensorNameFromFile(base, mask string) string {
	stem := strings.TrimSuffix(base, extOf(base))
	if mask == "" {
		return stem
	}
	if i := strings.Index(base, mask); i >= 0 {
		return base[:i]
	}
	return stem
}

func extOf(name string) string {
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		return name[i:]
	}
	return ""
}
