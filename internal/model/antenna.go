package model

import (
	"fmt"
	"strings"
)

// Country is an ISO 3166-1 alpha-2 code identifying the regulator an antenna
// is licensed under.
type Country string

// Countries with antenna datasets.
const (
	CountryAR Country = "AR"
	CountryBR Country = "BR"
	CountryCA Country = "CA"
	CountryMX Country = "MX"
	CountryUS Country = "US"
	CountryUY Country = "UY"
)

// ParseCountry normalizes a country code.
func ParseCountry(s string) Country {
	return Country(strings.ToUpper(strings.TrimSpace(s)))
}

// AntennaID is the stable identity of an antenna: its country dataset plus its
// index within that dataset. It is comparable and used as a map key.
type AntennaID struct {
	Country Country `json:"country"`
	Index   int     `json:"index"`
}

func (id AntennaID) String() string {
	return fmt.Sprintf("%s-%d", id.Country, id.Index)
}

// Antenna is a broadcast transmitter site.
type Antenna struct {
	ID          AntennaID `json:"id"`
	Description string    `json:"description,omitempty"`
	Channels    []string  `json:"channels,omitempty"`
	PowerKW     float64   `json:"power_kw,omitempty"`
	Position    Position  `json:"position"`
}

// Country returns the country the antenna is licensed in.
func (a Antenna) Country() Country {
	return a.ID.Country
}

func (a Antenna) String() string {
	if a.Description != "" {
		return a.Description
	}
	if len(a.Channels) > 0 {
		return strings.Join(a.Channels, ", ")
	}
	return a.ID.String()
}

// IDs returns the identities of the given antennas, preserving order.
func IDs(antennas []Antenna) []AntennaID {
	ids := make([]AntennaID, len(antennas))
	for i, a := range antennas {
		ids[i] = a.ID
	}
	return ids
}
