package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/soaringjerry/Emtrip/internal/middleware"
	"github.com/soaringjerry/Emtrip/internal/models"
	"github.com/soaringjerry/Emtrip/internal/services"
	"github.com/soaringjerry/Emtrip/internal/utils"
)

const maxBodyBytes = 1 << 20

type RouterOptions struct {
	Auth        *middleware.Auth
	TokenTTL    time.Duration
	Client      services.HTTPClient
	FormFactory services.FormFactory
	Consent     services.ConsentRequirement
	Survey      services.SurveyOptions
	Logger      *zap.Logger
}

type Router struct {
	store      Store
	auth       *middleware.Auth
	tokenTTL   time.Duration
	configs    *services.ConfigService
	consent    *services.ConsentService
	onboarding *services.OnboardingService
	surveys    *services.SurveySessionManager
	logger     *zap.Logger
}

func NewRouter(store Store, opts RouterOptions) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	auth := opts.Auth
	if auth == nil {
		auth = middleware.NewAuth("")
	}
	ttl := opts.TokenTTL
	if ttl <= 0 {
		ttl = 720 * time.Hour
	}
	kv := newKVStoreAdapter(store)
	configs := services.NewConfigService(kv, opts.Client, logger.Named("config"))
	consent := services.NewConsentService(newConsentStoreAdapter(store), opts.Consent, logger.Named("consent"))
	surveyOpts := opts.Survey
	surveyOpts.Logger = logger.Named("survey")
	return &Router{
		store:      store,
		auth:       auth,
		tokenTTL:   ttl,
		configs:    configs,
		consent:    consent,
		onboarding: services.NewOnboardingService(kv, configs, consent, logger.Named("onboarding")),
		surveys:    services.NewSurveySessionManager(newAnswerStoreAdapter(store, logger.Named("answers")), opts.Client, opts.FormFactory, surveyOpts),
		logger:     logger,
	}
}

func (rt *Router) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/onboarding/route", rt.handleRoute)           // GET
	mux.HandleFunc("/api/onboarding/intro-done", rt.handleIntroDone)  // POST
	mux.HandleFunc("/api/onboarding/join", rt.handleJoin)             // POST
	mux.HandleFunc("/api/consent", rt.handleConsent)                  // POST
	mux.Handle("/api/surveys/session", rt.protect(rt.handleSession)) // GET, POST
	mux.Handle("/api/surveys/session/display", rt.protect(rt.handleDisplay))
	mux.Handle("/api/surveys/session/instance", rt.protect(rt.handleInstance))
	mux.Handle("/api/surveys/session/validate", rt.protect(rt.handleValidate))
}

// protect admits only bearer tokens issued for the study the device joined.
func (rt *Router) protect(h http.HandlerFunc) http.Handler {
	joined := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		opcode, _ := middleware.OpcodeFromContext(r.Context())
		cfg, err := rt.configs.GetConfig(r.Context())
		if err != nil {
			rt.writeError(w, r, err)
			return
		}
		if cfg == nil || cfg.Joined == nil || cfg.Joined.Opcode != opcode {
			rt.writeError(w, r, services.NewUnauthorizedError("token does not match the joined study"))
			return
		}
		h(w, r)
	})
	return rt.auth.WithAuth(middleware.RequireAuth(joined))
}

// GET /api/onboarding/route?summary_done=&save_qr_done=&register_user_done=
func (rt *Router) handleRoute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var progress services.OnboardingProgress
	flags := []struct {
		name string
		set  func(bool)
	}{
		{"summary_done", progress.SetSummaryDone},
		{"save_qr_done", progress.SetSaveQrDone},
		{"register_user_done", progress.SetRegisterUserDone},
	}
	q := r.URL.Query()
	for _, f := range flags {
		v := q.Get(f.name)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			rt.writeError(w, r, services.NewInvalidError(f.name+" must be a boolean"))
			return
		}
		f.set(b)
	}
	st, err := rt.onboarding.ResolveRoute(r.Context(), progress)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// POST /api/onboarding/intro-done
func (rt *Router) handleIntroDone(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := rt.onboarding.MarkIntroDone(r.Context()); err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// POST /api/onboarding/join {opcode, config_url}
func (rt *Router) handleJoin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Opcode    string `json:"opcode"`
		ConfigURL string `json:"config_url"`
	}
	if !rt.decode(w, r, &req) {
		return
	}
	cfg, err := rt.configs.JoinStudy(r.Context(), req.Opcode, req.ConfigURL)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	token, err := rt.auth.SignToken(cfg.Joined.Opcode, rt.tokenTTL)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	rt.store.AddAudit(AuditEntry{Time: time.Now().UTC(), Actor: "participant", Action: "study_join", Target: cfg.StudyName})
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "study_name": cfg.StudyName})
}

// POST /api/consent {category, approval_date, signed_at, evidence}
func (rt *Router) handleConsent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Category     string `json:"category"`
		ApprovalDate string `json:"approval_date"`
		SignedAt     string `json:"signed_at"`
		Evidence     string `json:"evidence"`
	}
	if !rt.decode(w, r, &req) {
		return
	}
	res, err := rt.consent.MarkConsented(r.Context(), services.ConsentSignRequest{
		Category:     req.Category,
		ApprovalDate: req.ApprovalDate,
		SignedAt:     req.SignedAt,
		Evidence:     req.Evidence,
	})
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": res.ID, "hash": res.Hash})
}

type sessionState struct {
	Phase          services.SessionPhase  `json:"phase"`
	FormLocation   string                 `json:"form_location,omitempty"`
	DataKey        string                 `json:"data_key,omitempty"`
	TripProperties *models.TripProperties `json:"trip_properties,omitempty"`
	Form           string                 `json:"form,omitempty"`
	Data           string                 `json:"data,omitempty"`
}

// GET  /api/surveys/session
// POST /api/surveys/session {form_location, options}
func (rt *Router) handleSession(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		snap := rt.surveys.GetState()
		out := sessionState{
			Phase:          snap.Phase,
			FormLocation:   snap.FormLocation,
			DataKey:        snap.Session.DataKey,
			TripProperties: snap.Session.TripProperties,
			Form:           snap.LoadedForm,
			Data:           snap.Data,
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodPost:
		var req struct {
			FormLocation string          `json:"form_location"`
			Options      json.RawMessage `json:"options"`
		}
		if !rt.decode(w, r, &req) {
			return
		}
		options, err := optionsText(req.Options)
		if err != nil {
			rt.writeError(w, r, err)
			return
		}
		if err := rt.surveys.Init(r.Context(), req.FormLocation, options); err != nil {
			rt.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"phase": rt.surveys.GetState().Phase})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// optionsText accepts the options either as a JSON object or as a string
// holding one.
func optionsText(raw json.RawMessage) (string, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return "", nil
	}
	if strings.HasPrefix(s, `"`) {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return "", services.NewInvalidError("options must be an object or a JSON string")
		}
		return text, nil
	}
	return s, nil
}

// POST /api/surveys/session/display
func (rt *Router) handleDisplay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	loadErrors, err := rt.surveys.DisplayForm(r.Context())
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"load_errors": loadErrors})
}

// PUT /api/surveys/session/instance {instance}
func (rt *Router) handleInstance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Instance string `json:"instance"`
	}
	if !rt.decode(w, r, &req) {
		return
	}
	loadErrors, err := rt.surveys.UpdateInstance(r.Context(), req.Instance)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"load_errors": loadErrors})
}

// POST /api/surveys/session/validate
func (rt *Router) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	valid, err := rt.surveys.ValidateForm(r.Context())
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": valid})
}

func (rt *Router) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		rt.writeError(w, r, services.NewInvalidError("invalid JSON body"))
		return false
	}
	return true
}

var statusByCode = map[services.ErrorCode]int{
	services.ErrorInvalid:      http.StatusBadRequest,
	services.ErrorNotFound:     http.StatusNotFound,
	services.ErrorConflict:     http.StatusConflict,
	services.ErrorUnauthorized: http.StatusUnauthorized,
	services.ErrorBadGateway:   http.StatusBadGateway,
	services.ErrorFetch:        http.StatusBadGateway,
	services.ErrorStoreRead:    http.StatusInternalServerError,
	services.ErrorPersistence:  http.StatusInternalServerError,
}

func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	locale := middleware.LocaleFromContext(r.Context())
	se, ok := services.AsServiceError(err)
	if !ok {
		rt.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   "internal",
			"message": utils.T(locale, "error.internal"),
		})
		return
	}
	status, known := statusByCode[se.Code]
	if !known {
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError || errors.Is(err, services.ErrSessionSuperseded) {
		rt.logger.Warn("request failed", zap.String("path", r.URL.Path), zap.String("code", string(se.Code)), zap.Error(err))
	}
	writeJSON(w, status, map[string]any{
		"error":   se.Code,
		"message": utils.T(locale, "error."+string(se.Code)),
		"detail":  se.Message,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
