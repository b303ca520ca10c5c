package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/soaringjerry/Emtrip/internal/models"
)

// FormSelector addresses the form element the engine binds to.
const FormSelector = "form.or:eq(0)"

// ConfirmSurveyKey is the data key of trip confirmation surveys, whose answers
// are restored when the same trip is surveyed again.
const ConfirmSurveyKey = "manual/confirm_survey"

// maxFormBytes bounds downloaded form bundles.
const maxFormBytes = 4 << 20

// FormEngine is a live, instantiated form.
type FormEngine interface {
	// Init renders the form and returns its load errors; empty means success.
	Init() []string
	Validate(ctx context.Context) (bool, error)
	DataStr() string
}

// FormData is what a form is instantiated from.
type FormData struct {
	ModelStr    string
	InstanceStr string
	Submitted   bool
	External    []any
	Session     map[string]any
}

// FormFactory builds a form engine bound to selector.
type FormFactory func(selector string, data FormData, opts map[string]any) (FormEngine, error)

// AnswerStore is the message-store contract for survey answers.
type AnswerStore interface {
	GetAllMessages(ctx context.Context, key string, includeDeleted bool) ([]models.StoredAnswer, error)
	PutMessage(ctx context.Context, key string, answer models.StoredAnswer) error
}

// FormBundle is the document served at a form location.
type FormBundle struct {
	Form  string `json:"form"`
	Model string `json:"model"`
}

type SessionPhase int

const (
	PhaseUninitialized SessionPhase = iota
	PhaseLoading
	PhaseLoaded
	PhaseDisplayed
	PhaseValidated
)

func (p SessionPhase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseLoading:
		return "loading"
	case PhaseLoaded:
		return "loaded"
	case PhaseDisplayed:
		return "displayed"
	case PhaseValidated:
		return "validated"
	}
	return "unknown"
}

func (p SessionPhase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// SessionSnapshot is a copy of the session fields. Form is the live engine
// handle and is shared with the manager; Data is its serialized instance taken
// under the manager lock and is what readers outside the manager should use.
type SessionSnapshot struct {
	Phase        SessionPhase
	FormLocation string
	Form         FormEngine
	Data         string
	Session      models.SessionContext
	LoadedForm   string
	LoadedModel  string
}

// SurveySessionManager holds the single open survey form. Init always starts
// over; results of work begun under an older Init are discarded.
type SurveySessionManager struct {
	answers      AnswerStore
	client       HTTPClient
	newForm      FormFactory
	restorable   map[string]struct{}
	fetchTimeout time.Duration
	logger       *zap.Logger

	mu           sync.Mutex
	generation   uint64
	phase        SessionPhase
	formLocation string
	session      models.SessionContext
	loadedForm   string
	loadedModel  string
	form         FormEngine
}

type SurveyOptions struct {
	// RestorableKeys lists data keys whose stored answers are restored on display.
	// Defaults to ConfirmSurveyKey.
	RestorableKeys []string
	FetchTimeout   time.Duration
	Logger         *zap.Logger
}

func NewSurveySessionManager(answers AnswerStore, client HTTPClient, newForm FormFactory, opts SurveyOptions) *SurveySessionManager {
	if client == nil {
		client = http.DefaultClient
	}
	keys := opts.RestorableKeys
	if len(keys) == 0 {
		keys = []string{ConfirmSurveyKey}
	}
	restorable := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		restorable[k] = struct{}{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SurveySessionManager{
		answers:      answers,
		client:       client,
		newForm:      newForm,
		restorable:   restorable,
		fetchTimeout: opts.FetchTimeout,
		logger:       logger,
	}
}

// ParseSessionOptions reads the optional session object out of a JSON options
// string. An empty string means no options.
func ParseSessionOptions(options string) (models.SessionContext, error) {
	var sc models.SessionContext
	if strings.TrimSpace(options) == "" {
		return sc, nil
	}
	var opts struct {
		Session json.RawMessage `json:"session"`
	}
	if err := json.Unmarshal([]byte(options), &opts); err != nil {
		return sc, NewInvalidError("options must be a JSON object")
	}
	if len(opts.Session) == 0 || string(opts.Session) == "null" {
		return sc, nil
	}
	if err := json.Unmarshal(opts.Session, &sc.Raw); err != nil {
		return models.SessionContext{}, NewInvalidError("options.session must be an object")
	}
	if err := json.Unmarshal(opts.Session, &sc); err != nil {
		return models.SessionContext{}, NewInvalidError("options.session: " + err.Error())
	}
	return sc, nil
}

// Init discards any previous session, then loads the form and default model
// from formLocation. A failed fetch is returned as is; there is no retry.
func (m *SurveySessionManager) Init(ctx context.Context, formLocation, options string) error {
	m.mu.Lock()
	m.generation++
	gen := m.generation
	m.phase = PhaseUninitialized
	m.formLocation = formLocation
	m.session = models.SessionContext{}
	m.loadedForm = ""
	m.loadedModel = ""
	m.form = nil
	sc, err := ParseSessionOptions(options)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.session = sc
	m.phase = PhaseLoading
	m.mu.Unlock()

	bundle, fetchErr := m.fetchBundle(ctx, formLocation)

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation {
		m.logger.Debug("discarding superseded form fetch", zap.String("location", formLocation))
		return ErrSessionSuperseded
	}
	if fetchErr != nil {
		m.phase = PhaseUninitialized
		m.logger.Warn("form fetch failed", zap.String("location", formLocation), zap.Error(fetchErr))
		return fetchErr
	}
	m.loadedForm = bundle.Form
	m.loadedModel = bundle.Model
	m.phase = PhaseLoaded
	return nil
}

func (m *SurveySessionManager) fetchBundle(ctx context.Context, formLocation string) (*FormBundle, error) {
	if strings.TrimSpace(formLocation) == "" {
		return nil, NewInvalidError("form location required")
	}
	if m.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.fetchTimeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, formLocation, nil)
	if err != nil {
		return nil, NewInvalidError("invalid form location")
	}
	req.Header.Set("Accept", "application/json")
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, NewFetchError("fetch form", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, NewFetchError("fetch form", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFormBytes))
	if err != nil {
		return nil, NewFetchError("read form body", err)
	}
	var bundle FormBundle
	if err := json.Unmarshal(body, &bundle); err != nil {
		return nil, NewFetchError("decode form bundle", err)
	}
	if bundle.Model == "" {
		return nil, NewFetchError("decode form bundle", fmt.Errorf("model missing"))
	}
	return &bundle, nil
}

// DisplayForm instantiates the loaded form. For restorable data keys the first
// stored answer for the same trip becomes the starting instance; otherwise the
// default model is used. The returned slice holds the engine's load errors.
func (m *SurveySessionManager) DisplayForm(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	if m.phase < PhaseLoaded {
		m.mu.Unlock()
		return nil, ErrSessionNotInitialized
	}
	gen := m.generation
	session := m.session
	_, restore := m.restorable[session.DataKey]
	if !restore {
		defer m.mu.Unlock()
		return m.loadForm("")
	}
	m.mu.Unlock()

	answers, err := m.answers.GetAllMessages(ctx, session.DataKey, false)
	if err != nil {
		return nil, NewStoreReadError("read stored answers", err)
	}
	m.logger.Debug("stored answers read", zap.String("data_key", session.DataKey), zap.Int("count", len(answers)))
	instance, found := MatchStoredAnswer(answers, session.TripProperties)
	if found {
		m.logger.Debug("restoring answer for trip", zap.Any("trip", session.TripProperties))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation {
		return nil, ErrSessionSuperseded
	}
	return m.loadForm(instance)
}

// UpdateInstance replaces the live form with one started from instance, as
// edited by the user. The previous handle is dropped, not mutated.
func (m *SurveySessionManager) UpdateInstance(ctx context.Context, instance string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase < PhaseLoaded {
		return nil, ErrSessionNotInitialized
	}
	if m.form == nil {
		return nil, ErrSessionNotDisplayed
	}
	return m.loadForm(instance)
}

// loadForm must be called with mu held.
func (m *SurveySessionManager) loadForm(instance string) ([]string, error) {
	if m.newForm == nil {
		return nil, NewInvalidError("no form engine configured")
	}
	data := FormData{
		ModelStr:    m.loadedModel,
		InstanceStr: instance,
		External:    []any{},
		Session:     copySessionMap(m.session.Raw),
	}
	if data.Session == nil {
		data.Session = map[string]any{}
	}
	form, err := m.newForm(FormSelector, data, map[string]any{})
	if err != nil {
		return nil, &ServiceError{Code: ErrorInvalid, Message: "instantiate form", Err: err}
	}
	loadErrors := form.Init()
	if loadErrors == nil {
		loadErrors = []string{}
	}
	m.form = form
	m.phase = PhaseDisplayed
	if len(loadErrors) > 0 {
		m.logger.Warn("form loaded with errors", zap.Strings("errors", loadErrors))
	}
	return loadErrors, nil
}

// ValidateForm validates the live form and, when valid, stores its data with
// the session's trip under the session's data key. It returns true only after
// the store acknowledged the write; an invalid form returns false and writes nothing.
func (m *SurveySessionManager) ValidateForm(ctx context.Context) (bool, error) {
	m.mu.Lock()
	form := m.form
	session := m.session
	gen := m.generation
	m.mu.Unlock()
	if form == nil {
		return false, ErrSessionNotDisplayed
	}

	valid, err := form.Validate(ctx)
	if err != nil {
		return false, &ServiceError{Code: ErrorInvalid, Message: "validate form", Err: err}
	}
	if !valid {
		return false, nil
	}
	if session.DataKey == "" {
		return false, NewInvalidError("session data_key required to save answer")
	}
	answer := models.StoredAnswer{Data: form.DataStr(), TripProperties: session.TripProperties}
	if err := m.answers.PutMessage(ctx, session.DataKey, answer); err != nil {
		m.logger.Warn("saving survey answer failed", zap.String("data_key", session.DataKey), zap.Error(err))
		return false, NewPersistenceError("save survey answer", err)
	}

	m.mu.Lock()
	if gen == m.generation {
		m.phase = PhaseValidated
	}
	m.mu.Unlock()
	return true, nil
}

func (m *SurveySessionManager) GetState() SessionSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	session := m.session
	session.Raw = copySessionMap(m.session.Raw)
	snap := SessionSnapshot{
		Phase:        m.phase,
		FormLocation: m.formLocation,
		Form:         m.form,
		Session:      session,
		LoadedForm:   m.loadedForm,
		LoadedModel:  m.loadedModel,
	}
	if m.form != nil {
		snap.Data = m.form.DataStr()
	}
	return snap
}

func copySessionMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
