package sheet

import (
	"fmt"
	"strings"
)

// FuelStep is the granularity of a recorded fuel level.
const FuelStep = 10

// FuelLevel is a tank level as an integer percentage.
type FuelLevel int

// FuelBucket groups fuel levels for display.
type FuelBucket string

const (
	FuelCritical FuelBucket = "critical"
	FuelLow      FuelBucket = "low"
	FuelOK       FuelBucket = "ok"
)

// ParseFuelLevel accepts 0..100 in steps of FuelStep.
func ParseFuelLevel(percent int) (FuelLevel, error) {
	level := FuelLevel(percent)
	if !level.Valid() {
		return 0, fmt.Errorf("fuel percentage %d must be one of 0, 10, ..., 100", percent)
	}
	return level, nil
}

// Valid reports whether the level is a recordable value.
func (f FuelLevel) Valid() bool {
	return f >= 0 && f <= 100 && int(f)%FuelStep == 0
}

// Bucket classifies the level. Values are clamped to 0..100 first.
func (f FuelLevel) Bucket() FuelBucket {
	switch v := f.clamped(); {
	case v <= 20:
		return FuelCritical
	case v <= 50:
		return FuelLow
	default:
		return FuelOK
	}
}

// Color is the display color of the level's bucket.
func (f FuelLevel) Color() string {
	switch f.Bucket() {
	case FuelCritical:
		return "#d32f2f"
	case FuelLow:
		return "#f9a825"
	default:
		return "#2e7d32"
	}
}

// Gauge renders the level as ten segments, e.g. "■■■■■■■□□□" for 70.
func (f FuelLevel) Gauge() string {
	filled := int(f.clamped()) / FuelStep
	return strings.Repeat("■", filled) + strings.Repeat("□", 100/FuelStep-filled)
}

func (f FuelLevel) clamped() FuelLevel {
	if f < 0 {
		return 0
	}
	if f > 100 {
		return 100
	}
	return f
}
