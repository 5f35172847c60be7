// Package alerce pulls ZTF light curves from ALeRCE into the catalog.
package alerce

import (
	"context"
	"fmt"
	"net/url"

	"github.com/linnemanlabs/sdtom/internal/broker"
	"github.com/linnemanlabs/sdtom/internal/catalog"
)

// Name is the broker name and the source recorded on reduced data.
const Name = "ALeRCE"

// DefaultBaseURL is the public ALeRCE ZTF API.
const DefaultBaseURL = "https://api.alerce.online/ztf/v1"

// DatumWriter stores reduced data.
type DatumWriter interface {
	AddReducedData(ctx context.Context, data []catalog.ReducedDatum) (int, error)
}

type detection struct {
	Candid   any      `json:"candid"`
	MJD      float64  `json:"mjd"`
	FID      int      `json:"fid"`
	MagPSF   *float64 `json:"magpsf"`
	SigmaPSF *float64 `json:"sigmapsf"`
}

type lightcurve struct {
	Detections []detection `json:"detections"`
}

// Broker fetches light curves and stores detections as photometry.
type Broker struct {
	client *broker.Client
	data   DatumWriter
}

// New builds an ALeRCE broker writing to data.
func New(client *broker.Client, data DatumWriter) *Broker {
	return &Broker{client: client, data: data}
}

// Name returns the broker name.
func (b *Broker) Name() string { return Name }

// ProcessReducedData fetches the target's light curve and stores every
// detection not already present. It returns how many data points were new.
func (b *Broker) ProcessReducedData(ctx context.Context, t *catalog.Target) (int, error) {
	var lc lightcurve
	path := "objects/" + url.PathEscape(t.Name) + "/lightcurve"
	if err := b.client.GetJSON(ctx, path, nil, &lc); err != nil {
		return 0, fmt.Errorf("alerce: lightcurve %s: %w", t.Name, err)
	}

	data := make([]catalog.ReducedDatum, 0, len(lc.Detections))
	for _, d := range lc.Detections {
		if d.MagPSF == nil {
			continue
		}
		value := map[string]any{
			"magnitude": *d.MagPSF,
			"filter":    broker.ZTFFilter(d.FID),
		}
		if d.SigmaPSF != nil {
			value["error"] = *d.SigmaPSF
		}
		data = append(data, catalog.ReducedDatum{
			TargetID:  t.ID,
			Source:    Name,
			DataType:  catalog.DataTypePhotometry,
			Timestamp: broker.MJDToTime(d.MJD),
			Value:     value,
		})
	}

	n, err := b.data.AddReducedData(ctx, data)
	if err != nil {
		return n, fmt.Errorf("alerce: store reduced data for %s: %w", t.Name, err)
	}
	return n, nil
}
