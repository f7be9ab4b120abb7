package model

import (
	"errors"
	"fmt"
	"strings"
)

// Category is the classification tag assigned to every tracked object.
type Category int

const (
	Satellite Category = iota
	Debris
	RocketBody
)

// ErrInvalidCategory is returned when a category name is not recognised.
var ErrInvalidCategory = errors.New("invalid category")

// Categories lists every category in the order category stores are cleared.
func Categories() []Category {
	return []Category{Satellite, Debris, RocketBody}
}

func (c Category) String() string {
	switch c {
	case Satellite:
		return "SATELLITE"
	case Debris:
		return "DEBRIS"
	case RocketBody:
		return "ROCKET BODY"
	default:
		return fmt.Sprintf("Category(%d)", int(c))
	}
}

// ParseCategory resolves a category name case-insensitively. Unlike Classify
// it rejects unknown names, since it is used for queries rather than feed
// labels.
func ParseCategory(s string) (Category, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SATELLITE":
		return Satellite, nil
	case "DEBRIS":
		return Debris, nil
	case "ROCKET BODY", "ROCKET_BODY", "ROCKETBODY":
		return RocketBody, nil
	}
	return Satellite, fmt.Errorf("%w: %q", ErrInvalidCategory, s)
}

// Classify maps a feed object-type label onto a category. Only DEBRIS and
// ROCKET BODY are recognised, matched exactly apart from case; every other
// label, including an empty or padded one,
// is treated as a satellite. Feed vocabulary drift therefore shows up as
// extra satellites rather than as an error.
func Classify(label string) Category {
	switch strings.ToUpper(label) {
	case "DEBRIS":
		return Debris
	case "ROCKET BODY":
		return RocketBody
	default:
		return Satellite
	}
}
