package models

import (
	"strings"
	"time"
)

// Facility 医院/救治单元
type Facility struct {
	ID            string    `json:"id" yaml:"id" gorm:"primaryKey;size:64"`
	Name          string    `json:"name" yaml:"name" gorm:"size:255"`
	Latitude      float64   `json:"latitude" yaml:"latitude"`
	Longitude     float64   `json:"longitude" yaml:"longitude"`
	Capabilities  []string  `json:"capabilities" yaml:"capabilities" gorm:"serializer:json"` // 如 "ICU"、"trauma"
	AvailableBeds int       `json:"availableBeds" yaml:"availableBeds"`
	Reachable     bool      `json:"reachable" yaml:"reachable"`
	LastHeartbeat time.Time `json:"lastHeartbeat" yaml:"-"`
	ProbeTarget   string    `json:"probeTarget,omitempty" yaml:"probeTarget" gorm:"size:255"` // gRPC health 地址，可选
	CreatedAt     time.Time `json:"createdAt" yaml:"-"`
	UpdatedAt     time.Time `json:"updatedAt" yaml:"-"`
}

func (f *Facility) Coordinate() Coordinate {
	return Coordinate{Latitude: f.Latitude, Longitude: f.Longitude}
}

// HasCapabilities reports whether the declared tags are a superset of required,
// compared case-insensitively.
func (f *Facility) HasCapabilities(required []string) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[string]struct{}, len(f.Capabilities))
	for _, c := range f.Capabilities {
		have[strings.ToLower(strings.TrimSpace(c))] = struct{}{}
	}
	for _, r := range required {
		if _, ok := have[strings.ToLower(strings.TrimSpace(r))]; !ok {
			return false
		}
	}
	return true
}

func (f *Facility) Clone() Facility {
	out := *f
	out.Capabilities = append([]string(nil), f.Capabilities...)
	return out
}

// RankedCandidate is produced per ranking query and never cached.
type RankedCandidate struct {
	FacilityID  string  `json:"facilityId"`
	Name        string  `json:"name"`
	ETAMinutes  int     `json:"etaMinutes"`
	DistanceKm  float64 `json:"distanceKm"`
	BedsAtQuery int     `json:"bedsAtQuery"`
}
