// Package model defines the regions, demographic profiles, and result records
// shared by the matching engine and its collaborators.
package model

// RegionType identifies the geographic granularity of a region.
type RegionType string

const (
	RegionTypeZIP    RegionType = "zip"
	RegionTypeDMA    RegionType = "dma"
	RegionTypeCounty RegionType = "county"
	RegionTypeState  RegionType = "state"
)

// Valid reports whether t is a known region type.
func (t RegionType) Valid() bool {
	switch t {
	case RegionTypeZIP, RegionTypeDMA, RegionTypeCounty, RegionTypeState:
		return true
	}
	return false
}

// Provenance tags for where a region's profile came from.
const (
	SourceAuthoritative = "authoritative"
	SourceEstimated     = "estimated"
	SourceUserUploaded  = "user-uploaded"
)

// Region is a geographic unit with a demographic profile. The engine treats
// regions as read-only.
type Region struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Type       RegionType `json:"type"`
	Profile    Profile    `json:"profile"`
	Source     string     `json:"source,omitempty"`
	Population *int64     `json:"population,omitempty"`
	Latitude   *float64   `json:"latitude,omitempty"`
	Longitude  *float64   `json:"longitude,omitempty"`
}

// HasCoordinates reports whether both latitude and longitude are set.
func (r Region) HasCoordinates() bool {
	return r.Latitude != nil && r.Longitude != nil
}

// WithOverlay returns a copy of r whose profile is r.Profile overlaid with
// overlay. A non-empty source replaces the provenance tag.
func (r Region) WithOverlay(overlay Profile, source string) Region {
	out := r
	out.Profile = Overlay(r.Profile, overlay)
	if source != "" {
		out.Source = source
	}
	return out
}
