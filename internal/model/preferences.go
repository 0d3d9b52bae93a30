package model

// Default preference values.
const (
	DefaultMaxDistanceKM = 60
	DefaultPreferFewer   = true
	DefaultUseContours   = true
)

// Preferences are the user-tunable settings that shape the nearby antenna list.
type Preferences struct {
	// MaxDistance is the search radius in meters.
	MaxDistance float64 `json:"max_distance"`
	// PreferFewer collapses co-located antennas into a single entry.
	PreferFewer bool `json:"prefer_fewer"`
	// UseContours enables the broadcast contour check. When off every
	// antenna is considered near.
	UseContours bool `json:"use_contours"`
}

// DefaultPreferences returns the preferences used before the user changes anything.
func DefaultPreferences() Preferences {
	return Preferences{
		MaxDistance: DefaultMaxDistanceKM * 1000,
		PreferFewer: DefaultPreferFewer,
		UseContours: DefaultUseContours,
	}
}
