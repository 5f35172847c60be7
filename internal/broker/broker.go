// Package broker holds the types shared by the alert-broker adapters: raw
// alerts, the finite alert stream, the generic alert representation and a
// rate-limited JSON client.
package broker

import "context"

// Alert is a raw alert record as returned by a broker.
type Alert map[string]any

// String returns the string value under key, or "".
func (a Alert) String(key string) string {
	s, _ := a[key].(string)
	return s
}

// Float returns the numeric value under key.
func (a Alert) Float(key string) (float64, bool) {
	switch v := a[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// Object returns the nested object under key, or nil.
func (a Alert) Object(key string) Alert {
	switch v := a[key].(type) {
	case map[string]any:
		return Alert(v)
	case Alert:
		return v
	default:
		return nil
	}
}

// Params filter a broker fetch. Keys are broker specific.
type Params map[string]any

// Merge returns a new Params with the entries of others layered over p.
func (p Params) Merge(others ...map[string]any) Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	for _, o := range others {
		for k, v := range o {
			out[k] = v
		}
	}
	return out
}

// Stream is a finite, non-restartable sequence of alerts. Next returns
// ok == false with a nil error once the stream is exhausted, and keeps doing
// so on every later call.
type Stream interface {
	Next(ctx context.Context) (alert Alert, ok bool, err error)
}

// SliceStream streams alerts already held in memory.
type SliceStream struct {
	alerts []Alert
	pos    int
}

// NewSliceStream returns a stream over alerts in order.
func NewSliceStream(alerts []Alert) *SliceStream {
	return &SliceStream{alerts: alerts}
}

// Next returns the next alert.
func (s *SliceStream) Next(ctx context.Context) (Alert, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if s.pos >= len(s.alerts) {
		s.alerts = nil
		s.pos = 0
		return nil, false, nil
	}
	a := s.alerts[s.pos]
	s.pos++
	return a, true, nil
}

// Exhausted reports whether the stream has nothing left.
func (s *SliceStream) Exhausted() bool {
	return s.pos >= len(s.alerts)
}

// Drain reads the remaining alerts of a stream into a slice.
func Drain(ctx context.Context, s Stream) ([]Alert, error) {
	var out []Alert
	for {
		a, ok, err := s.Next(ctx)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, a)
	}
}
