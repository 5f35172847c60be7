package jobs

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/linnemanlabs/sdtom/internal/broker"
	"github.com/linnemanlabs/sdtom/internal/cache"
	"github.com/linnemanlabs/sdtom/internal/catalog"
)

var tracer = otel.Tracer("github.com/linnemanlabs/sdtom/internal/jobs")

// TNSUpdater refreshes TNS names and classifications.
type TNSUpdater interface {
	UpdateTNSData(ctx context.Context) error
}

// MARSBroker fetches alerts for an object and stores their photometry.
type MARSBroker interface {
	FetchAlerts(ctx context.Context, params broker.Params) (broker.Stream, error)
	ProcessReducedData(ctx context.Context, t *catalog.Target, alert broker.Alert) (int, error)
}

// ALeRCEBroker stores an object's light curve.
type ALeRCEBroker interface {
	ProcessReducedData(ctx context.Context, t *catalog.Target) (int, error)
}

// StreamBroker serves saved broker queries as alert streams.
type StreamBroker interface {
	Name() string
	FetchAlerts(ctx context.Context, params broker.Params) (broker.Stream, error)
	ToGenericAlert(a broker.Alert) (*broker.GenericAlert, error)
}

// Deps are the collaborators of a Service. Notifier and Logger are optional.
type Deps struct {
	Store    catalog.Store
	Cache    cache.Cache
	TNS      TNSUpdater
	MARS     MARSBroker
	ALeRCE   ALeRCEBroker
	Lasair   StreamBroker
	Notifier Notifier
	Hooks    Hooks
	Logger   log.Logger
}

// Hooks observe job progress. Nil fields are skipped.
type Hooks struct {
	OnAlert      func(query string)
	OnTarget     func(created bool)
	OnCacheWrite func(ok bool)
	OnNotifyErr  func()
}

// Service holds the jobs and their collaborators.
type Service struct {
	store    catalog.Store
	cache    cache.Cache
	tns      TNSUpdater
	mars     MARSBroker
	alerce   ALeRCEBroker
	lasair   StreamBroker
	notifier Notifier
	hooks    Hooks
	logger   log.Logger
	now      func() time.Time
}

// NewService builds a Service. It panics when a required dependency is nil.
func NewService(d Deps) *Service {
	switch {
	case d.Store == nil:
		panic(xerrors.New("catalog store is required"))
	case d.Cache == nil:
		panic(xerrors.New("cache is required"))
	case d.TNS == nil:
		panic(xerrors.New("tns updater is required"))
	case d.MARS == nil:
		panic(xerrors.New("mars broker is required"))
	case d.ALeRCE == nil:
		panic(xerrors.New("alerce broker is required"))
	case d.Lasair == nil:
		panic(xerrors.New("lasair broker is required"))
	}
	if d.Logger == nil {
		d.Logger = log.Nop()
	}
	if d.Notifier == nil {
		d.Notifier = Notifiers(nil)
	}
	return &Service{
		store:    d.Store,
		cache:    d.Cache,
		tns:      d.TNS,
		mars:     d.MARS,
		alerce:   d.ALeRCE,
		lasair:   d.Lasair,
		notifier: d.Notifier,
		hooks:    d.Hooks,
		logger:   d.Logger,
		now:      time.Now,
	}
}

// Store returns the catalog the service writes to.
func (s *Service) Store() catalog.Store { return s.store }

// Cache returns the cache the service writes latest magnitudes to.
func (s *Service) Cache() cache.Cache { return s.cache }

// FindNewTNSClassifications delegates to the TNS updater. Errors are returned
// unchanged.
func (s *Service) FindNewTNSClassifications(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "jobs.find_new_tns_classifications")
	defer span.End()

	if err := s.tns.UpdateTNSData(ctx); err != nil {
		return recordErr(span, err)
	}
	return nil
}

func recordErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
