package testfixtures

import (
	"log/slog"
	"time"

	"github.com/example/sport-scheduler/internal/application"
	"github.com/example/sport-scheduler/internal/recurrence"
	"github.com/example/sport-scheduler/internal/scheduler"
)

// FastArgon2idParams keeps join code hashing cheap in tests.
var FastArgon2idParams = application.Argon2idParams{
	Memory:      64,
	Iterations:  1,
	Parallelism: 1,
	KeyLength:   16,
}

// ServiceFactory assists tests with constructing application services using
// deterministic identifiers and clocks.
type ServiceFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
	Location    *time.Location
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory constructs a ServiceFactory with defaults.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{
		Clock:       NewClock(time.Time{}),
		IDGenerator: NewIDGenerator("id"),
		Location:    time.UTC,
	}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Clock == nil {
		factory.Clock = NewClock(time.Time{})
	}
	if factory.IDGenerator == nil {
		factory.IDGenerator = NewIDGenerator("id")
	}
	if factory.Location == nil {
		factory.Location = time.UTC
	}
	return factory
}

// WithClock overrides the clock used by the factory.
func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Clock = clock
	}
}

// WithIDGenerator overrides the identifier generator used by the factory.
func WithIDGenerator(generator *IDGenerator) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.IDGenerator = generator
	}
}

// WithLocation overrides the scheduling time zone.
func WithLocation(loc *time.Location) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Location = loc
	}
}

// Validator returns a validator with the default rules on the factory clock.
func (f *ServiceFactory) Validator() *scheduler.Validator {
	return scheduler.NewValidator(scheduler.DefaultConstraints(), f.Clock.NowFunc(), f.Location)
}

// Engine returns a recurrence engine on the factory clock and the default horizon.
func (f *ServiceFactory) Engine() *recurrence.Engine {
	return recurrence.NewEngine(f.Location, f.Clock.NowFunc(), scheduler.DefaultConstraints().MaxAdvance)
}

// JoinCodes returns join codes keyed by a fixed secret.
func (f *ServiceFactory) JoinCodes() *application.JoinCodes {
	return application.NewJoinCodes("test-secret", FastArgon2idParams)
}

// ActivityServiceDeps captures dependencies for constructing an activity service.
type ActivityServiceDeps struct {
	Store       application.ActivityStore
	Codes       *application.JoinCodes
	IDGenerator func() string
	Logger      *slog.Logger
	Options     []application.ActivityOption
}

// NewActivityService builds an activity service using the supplied
// dependencies combined with the factory defaults.
func (f *ServiceFactory) NewActivityService(deps ActivityServiceDeps) *application.ActivityService {
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = f.IDGenerator.NextFunc()
	}
	codes := deps.Codes
	if codes == nil {
		codes = f.JoinCodes()
	}
	return application.NewActivityServiceWithLogger(
		deps.Store,
		f.Validator(),
		f.Engine(),
		codes,
		idGen,
		f.Clock.NowFunc(),
		deps.Logger,
		deps.Options...,
	)
}

// ParticipationServiceDeps captures dependencies for constructing a participation service.
type ParticipationServiceDeps struct {
	Store   application.ParticipationStore
	Logger  *slog.Logger
	Options []application.ParticipationOption
}

// NewParticipationService builds a participation service on the factory clock.
func (f *ServiceFactory) NewParticipationService(deps ParticipationServiceDeps) *application.ParticipationService {
	return application.NewParticipationServiceWithLogger(
		deps.Store,
		f.Clock.NowFunc(),
		deps.Logger,
		deps.Options...,
	)
}
