// Package lasair reads alerts from a Lasair stream topic.
package lasair

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/linnemanlabs/sdtom/internal/broker"
)

// Name is the broker name Lasair queries are saved under.
const Name = "Lasair"

// DefaultBaseURL is the public Lasair ZTF API.
const DefaultBaseURL = "https://lasair-ztf.lsst.ac.uk/api"

const defaultLimit = 1000

// utcLayout is the format of the "UTC" field in stream records.
const utcLayout = "2006-01-02 15:04:05"

// Broker fetches Lasair stream records and converts them to generic alerts.
type Broker struct {
	client  *broker.Client
	siteURL string
}

// New builds a Lasair broker on the given client.
func New(client *broker.Client) *Broker {
	site := strings.TrimSuffix(client.URL("", nil), "/")
	site = strings.TrimSuffix(site, "/api")
	return &Broker{client: client, siteURL: site}
}

// Name returns the broker name.
func (b *Broker) Name() string { return Name }

// FetchAlerts returns the records of params["stream"] published after
// params["since"]. An optional params["limit"] caps the request size.
func (b *Broker) FetchAlerts(ctx context.Context, params broker.Params) (broker.Stream, error) {
	topic, _ := params["stream"].(string)
	if topic == "" {
		return nil, errors.New("lasair: stream parameter is required")
	}

	limit := defaultLimit
	switch v := params["limit"].(type) {
	case int:
		limit = v
	case float64:
		limit = int(v)
	}

	var since time.Time
	switch v := params["since"].(type) {
	case time.Time:
		since = v
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, fmt.Errorf("lasair: invalid since %q: %w", v, err)
		}
		since = t
	}

	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("format", "json")

	var records []broker.Alert
	if err := b.client.GetJSON(ctx, "streams/"+url.PathEscape(topic)+"/", q, &records); err != nil {
		return nil, fmt.Errorf("lasair: fetch stream %s: %w", topic, err)
	}

	out := make([]broker.Alert, 0, len(records))
	for _, r := range records {
		if !since.IsZero() {
			ts, err := recordTime(r)
			if err != nil {
				return nil, err
			}
			if !ts.After(since) {
				continue
			}
		}
		out = append(out, r)
	}
	return broker.NewSliceStream(out), nil
}

// ToGenericAlert converts a stream record.
func (b *Broker) ToGenericAlert(a broker.Alert) (*broker.GenericAlert, error) {
	name := a.String("objectId")
	if name == "" {
		return nil, errors.New("lasair: record has no objectId")
	}
	ts, err := recordTime(a)
	if err != nil {
		return nil, err
	}

	g := &broker.GenericAlert{
		ID:        name,
		Name:      name,
		URL:       b.siteURL + "/objects/" + url.PathEscape(name) + "/",
		Timestamp: ts,
	}
	g.RA, _ = a.Float("ramean")
	g.Dec, _ = a.Float("decmean")
	for _, k := range []string{"rmag", "gmag", "magpsf"} {
		if m, ok := a.Float(k); ok {
			g.Mag = m
			break
		}
	}
	if s, ok := a.Float("score"); ok {
		g.Score = s
	}
	if c := a.String("classification"); c != "" {
		g.Extras = map[string]string{"classification": c}
	}
	return g, nil
}

func recordTime(a broker.Alert) (time.Time, error) {
	raw := a.String("UTC")
	if raw == "" {
		return time.Time{}, fmt.Errorf("lasair: record %s has no UTC time", a.String("objectId"))
	}
	ts, err := time.ParseInLocation(utcLayout, raw, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("lasair: record %s: invalid UTC %q: %w", a.String("objectId"), raw, err)
	}
	return ts, nil
}
