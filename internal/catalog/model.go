package catalog

import "time"

// TargetTypeSidereal is the target type assigned to broker discoveries.
const TargetTypeSidereal = "SIDEREAL"

// DataTypePhotometry marks reduced data carrying a magnitude measurement.
const DataTypePhotometry = "photometry"

// NewTargetListName is the list newly discovered targets are added to.
const NewTargetListName = "New"

// Target is a catalogued astronomical object.
type Target struct {
	ID       int64             `json:"id"`
	Name     string            `json:"name"`
	Type     string            `json:"type"`
	RA       float64           `json:"ra"`
	Dec      float64           `json:"dec"`
	Extras   map[string]string `json:"extras,omitempty"`
	Created  time.Time         `json:"created"`
	Modified time.Time         `json:"modified"`
}

// Extra returns the extra field stored under key, or "" when absent.
func (t *Target) Extra(key string) string {
	if t == nil || t.Extras == nil {
		return ""
	}
	return t.Extras[key]
}

// Clone returns a deep copy of the target.
func (t *Target) Clone() *Target {
	cp := *t
	if t.Extras != nil {
		cp.Extras = make(map[string]string, len(t.Extras))
		for k, v := range t.Extras {
			cp.Extras[k] = v
		}
	}
	return &cp
}

// ReducedDatum is a single processed measurement attached to a target.
type ReducedDatum struct {
	ID        int64          `json:"id"`
	TargetID  int64          `json:"target_id"`
	Source    string         `json:"source"`
	DataType  string         `json:"data_type"`
	Timestamp time.Time      `json:"timestamp"`
	Value     map[string]any `json:"value"`
}

// Magnitude returns the "magnitude" entry of the datum's value map.
func (d *ReducedDatum) Magnitude() (float64, bool) {
	if d == nil || d.Value == nil {
		return 0, false
	}
	switch v := d.Value["magnitude"].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// TargetList groups targets under a name.
type TargetList struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// BrokerQuery is a saved query against an alert broker.
// A zero LastRun means the query has never completed.
type BrokerQuery struct {
	ID         int64          `json:"id"`
	Name       string         `json:"name"`
	Broker     string         `json:"broker"`
	LastRun    time.Time      `json:"last_run,omitempty"`
	Parameters map[string]any `json:"parameters"`
	Created    time.Time      `json:"created"`
	Modified   time.Time      `json:"modified"`
}

// QueryName returns the tag merged into targets found by this query.
func (q *BrokerQuery) QueryName() string {
	if q == nil || q.Parameters == nil {
		return ""
	}
	s, _ := q.Parameters[ExtraQueryName].(string)
	return s
}

// Clone returns a copy of the query with its own parameter map.
func (q *BrokerQuery) Clone() *BrokerQuery {
	cp := *q
	if q.Parameters != nil {
		cp.Parameters = make(map[string]any, len(q.Parameters))
		for k, v := range q.Parameters {
			cp.Parameters[k] = v
		}
	}
	return &cp
}
