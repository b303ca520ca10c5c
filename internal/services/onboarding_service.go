package services

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/soaringjerry/Emtrip/internal/models"
)

// IntroDoneKey is the durable key whose presence marks onboarding as finished.
const IntroDoneKey = "intro_done"

// OnboardingRoute is the screen a user should see next.
type OnboardingRoute int

const (
	RouteWelcome OnboardingRoute = iota // no config present
	RouteSummary                        // config present, not consented, summary not seen
	RouteConsent                        // config present, not consented, summary seen
	RouteSaveQR                         // consented, login QR not saved
	RouteSurvey                         // consented, QR saved
	RouteDone                           // intro_done marked
)

func (r OnboardingRoute) String() string {
	switch r {
	case RouteWelcome:
		return "WELCOME"
	case RouteSummary:
		return "SUMMARY"
	case RouteConsent:
		return "CONSENT"
	case RouteSaveQR:
		return "SAVE_QR"
	case RouteSurvey:
		return "SURVEY"
	case RouteDone:
		return "DONE"
	}
	return "UNKNOWN"
}

func (r OnboardingRoute) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

type OnboardingState struct {
	Route  OnboardingRoute `json:"route"`
	Opcode string          `json:"opcode,omitempty"`
}

// OnboardingProgress holds the milestones passed during the current app session.
// Unlike intro_done these are not persisted; a restart starts them over.
type OnboardingProgress struct {
	SummaryDone      bool `json:"summary_done"`
	SaveQrDone       bool `json:"save_qr_done"`
	RegisterUserDone bool `json:"register_user_done"`
}

func (p *OnboardingProgress) SetSummaryDone(b bool)      { p.SummaryDone = b }
func (p *OnboardingProgress) SetSaveQrDone(b bool)       { p.SaveQrDone = b }
func (p *OnboardingProgress) SetRegisterUserDone(b bool) { p.RegisterUserDone = b }

// ConfigSource returns the joined study config, or nil when the user has not joined.
type ConfigSource interface {
	GetConfig(ctx context.Context) (*models.AppConfig, error)
}

// ConsentReader reads the stored consent and decides whether it is sufficient.
type ConsentReader interface {
	ReadConsentState(ctx context.Context) (*models.ConsentState, error)
	IsConsented(state *models.ConsentState) bool
}

type OnboardingService struct {
	kv      KVStore
	configs ConfigSource
	consent ConsentReader
	now     func() time.Time
	logger  *zap.Logger
}

func NewOnboardingService(kv KVStore, configs ConfigSource, consent ConsentReader, logger *zap.Logger) *OnboardingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OnboardingService{
		kv:      kv,
		configs: configs,
		consent: consent,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger,
	}
}

// routeInputs are the five facts the route is a function of.
type routeInputs struct {
	configPresent bool
	consented     bool
	summaryDone   bool
	saveQrDone    bool
	introDone     bool
}

// decideRoute applies the onboarding precedence; the first matching rule wins.
func decideRoute(in routeInputs) OnboardingRoute {
	switch {
	case in.introDone:
		return RouteDone
	case !in.configPresent:
		return RouteWelcome
	case !in.consented && !in.summaryDone:
		return RouteSummary
	case !in.consented:
		return RouteConsent
	case !in.saveQrDone:
		return RouteSaveQR
	default:
		return RouteSurvey
	}
}

// ResolveRoute reads config, consent and intro_done concurrently and decides the
// route once all three have resolved. Any failed read is returned; no route is
// guessed from partial data.
func (s *OnboardingService) ResolveRoute(ctx context.Context, progress OnboardingProgress) (*OnboardingState, error) {
	var (
		cfg       *models.AppConfig
		consented bool
		introDone bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := s.configs.GetConfig(gctx)
		if err != nil {
			return NewFetchError("read config", err)
		}
		cfg = c
		return nil
	})
	g.Go(func() error {
		state, err := s.consent.ReadConsentState(gctx)
		if err != nil {
			return NewStoreReadError("read consent state", err)
		}
		consented = s.consent.IsConsented(state)
		return nil
	})
	g.Go(func() error {
		done, err := s.ReadIntroDone(gctx)
		if err != nil {
			return err
		}
		introDone = done
		return nil
	})
	if err := g.Wait(); err != nil {
		s.logger.Warn("onboarding route unresolved", zap.Error(err))
		return nil, err
	}

	state := &OnboardingState{
		Route: decideRoute(routeInputs{
			configPresent: cfg != nil,
			consented:     consented,
			summaryDone:   progress.SummaryDone,
			saveQrDone:    progress.SaveQrDone,
			introDone:     introDone,
		}),
	}
	if cfg != nil && cfg.Joined != nil {
		state.Opcode = cfg.Joined.Opcode
	}
	s.logger.Debug("onboarding route resolved", zap.Stringer("route", state.Route), zap.Bool("consented", consented))
	return state, nil
}

// ReadIntroDone reports whether any truthy value is stored under IntroDoneKey.
func (s *OnboardingService) ReadIntroDone(ctx context.Context) (bool, error) {
	raw, err := s.kv.Get(ctx, IntroDoneKey)
	if err != nil {
		return false, NewStoreReadError("read intro_done", err)
	}
	return truthy(raw), nil
}

// MarkIntroDone stores the current time under IntroDoneKey.
func (s *OnboardingService) MarkIntroDone(ctx context.Context) error {
	if err := s.kv.Set(ctx, IntroDoneKey, s.now().Format(time.RFC3339Nano)); err != nil {
		return NewPersistenceError("write intro_done", err)
	}
	s.logger.Info("onboarding intro marked done")
	return nil
}
