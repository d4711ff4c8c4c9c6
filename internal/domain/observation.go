package domain

import "time"

// Observation is one raw temperature reading as delivered by the upstream
// API, before gridding.
type Observation struct {
	StationID   string    `json:"station_id"`
	Time        time.Time `json:"time"`
	Temperature float64   `json:"temperature"`
}
