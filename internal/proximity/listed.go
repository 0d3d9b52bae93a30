package proximity

import (
	"fmt"

	"github.com/sells-group/antenna-proximity/internal/model"
)

// Listed is one entry of a published result list.
type Listed struct {
	Antenna  model.Antenna `json:"antenna"`
	Distance float64       `json:"distance_m"`
	Bearing  float64       `json:"bearing_deg"`
	Far      bool          `json:"far"`
}

func (l Listed) String() string {
	state := "near"
	if l.Far {
		state = "far"
	}
	return fmt.Sprintf("{%s %.0fm %s}", l.Antenna, l.Distance, state)
}
