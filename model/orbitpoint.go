package model

import "time"

// OrbitPoint is a geodetic sample of an object's sub-satellite point.
// Altitude is in metres above the WGS84 ellipsoid and may be negative.
type OrbitPoint struct {
	Time      time.Time `json:"time"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Altitude  float64   `json:"altitude"`
}

// Trajectory is an ordered run of OrbitPoints. When propagation fails part
// way through, Truncated is set and Err carries the cause; Points then holds
// every sample up to the last successful step.
type Trajectory struct {
	Name      string
	Points    []OrbitPoint
	Truncated bool
	Err       error
}
