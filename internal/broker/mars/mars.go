// Package mars reads ZTF alerts from the LCO MARS broker.
package mars

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/linnemanlabs/sdtom/internal/broker"
	"github.com/linnemanlabs/sdtom/internal/catalog"
)

// Name is the broker name and the source recorded on reduced data.
const Name = "MARS"

// DefaultBaseURL is the public MARS API.
const DefaultBaseURL = "https://mars.lco.global"

// DatumWriter stores reduced data.
type DatumWriter interface {
	AddReducedData(ctx context.Context, data []catalog.ReducedDatum) (int, error)
}

// Broker queries MARS and stores candidate photometry.
type Broker struct {
	client *broker.Client
	data   DatumWriter
}

// New builds a MARS broker writing to data.
func New(client *broker.Client, data DatumWriter) *Broker {
	return &Broker{client: client, data: data}
}

// Name returns the broker name.
func (b *Broker) Name() string { return Name }

type page struct {
	Next    string         `json:"next"`
	Results []broker.Alert `json:"results"`
}

// FetchAlerts returns a stream over every alert matching params, newest
// first. Pages are fetched on demand as the stream is read.
func (b *Broker) FetchAlerts(ctx context.Context, params broker.Params) (broker.Stream, error) {
	q := url.Values{}
	q.Set("format", "json")
	q.Set("sort_value", "jd")
	q.Set("sort_order", "desc")
	for k, v := range params {
		q.Set(k, fmt.Sprint(v))
	}
	return &pageStream{client: b.client, next: b.client.URL("/", q)}, nil
}

type pageStream struct {
	client *broker.Client
	next   string
	buf    []broker.Alert
}

func (s *pageStream) Next(ctx context.Context) (broker.Alert, bool, error) {
	for len(s.buf) == 0 {
		if s.next == "" {
			return nil, false, nil
		}
		var p page
		if err := s.client.GetURL(ctx, s.next, &p); err != nil {
			return nil, false, fmt.Errorf("mars: fetch alerts: %w", err)
		}
		s.next = p.Next
		s.buf = p.Results
	}
	a := s.buf[0]
	s.buf = s.buf[1:]
	return a, true, nil
}

// ProcessReducedData stores the alert's candidate and its previous
// candidates as photometry for t. Points without a magnitude are skipped.
// It returns how many data points were new.
func (b *Broker) ProcessReducedData(ctx context.Context, t *catalog.Target, alert broker.Alert) (int, error) {
	cand := alert.Object("candidate")
	if cand == nil {
		return 0, errors.New("mars: alert has no candidate")
	}

	candidates := []broker.Alert{cand}
	if prv, ok := alert["prv_candidate"].([]any); ok {
		for _, p := range prv {
			obj, ok := p.(map[string]any)
			if !ok {
				continue
			}
			if c := broker.Alert(obj).Object("candidate"); c != nil {
				candidates = append(candidates, c)
			}
		}
	}

	data := make([]catalog.ReducedDatum, 0, len(candidates))
	for _, c := range candidates {
		d, ok := toDatum(t.ID, c)
		if ok {
			data = append(data, d)
		}
	}

	n, err := b.data.AddReducedData(ctx, data)
	if err != nil {
		return n, fmt.Errorf("mars: store reduced data for %s: %w", t.Name, err)
	}
	return n, nil
}

func toDatum(targetID int64, c broker.Alert) (catalog.ReducedDatum, bool) {
	jd, ok := c.Float("jd")
	if !ok {
		return catalog.ReducedDatum{}, false
	}
	mag, ok := c.Float("magpsf")
	if !ok {
		return catalog.ReducedDatum{}, false
	}
	value := map[string]any{"magnitude": mag}
	if sigma, ok := c.Float("sigmapsf"); ok {
		value["error"] = sigma
	}
	if fid, ok := c.Float("fid"); ok {
		value["filter"] = broker.ZTFFilter(int(fid))
	}
	return catalog.ReducedDatum{
		TargetID:  targetID,
		Source:    Name,
		DataType:  catalog.DataTypePhotometry,
		Timestamp: broker.JDToTime(jd),
		Value:     value,
	}, true
}
