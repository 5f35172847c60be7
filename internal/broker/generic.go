package broker

import (
	"time"

	"github.com/linnemanlabs/sdtom/internal/catalog"
)

// GenericAlert is the broker-independent view of an alert.
type GenericAlert struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	URL       string            `json:"url"`
	Timestamp time.Time         `json:"timestamp"`
	RA        float64           `json:"ra"`
	Dec       float64           `json:"dec"`
	Mag       float64           `json:"mag"`
	Score     float64           `json:"score"`
	Extras    map[string]string `json:"extras,omitempty"`
}

// ToTarget builds an unsaved sidereal target and the extras to save with it.
func (g *GenericAlert) ToTarget() (*catalog.Target, map[string]string) {
	t := &catalog.Target{
		Name: g.Name,
		Type: catalog.TargetTypeSidereal,
		RA:   g.RA,
		Dec:  g.Dec,
	}
	extras := make(map[string]string, len(g.Extras))
	for k, v := range g.Extras {
		extras[k] = v
	}
	return t, extras
}
