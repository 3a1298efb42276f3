package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/punchamoorthee/rewardledger/internal/auth"
	"github.com/punchamoorthee/rewardledger/internal/domain"
	"github.com/punchamoorthee/rewardledger/internal/money"
	"github.com/punchamoorthee/rewardledger/internal/service"
)

// maxBodyBytes caps request payloads; screenshots are references, not uploads.
const maxBodyBytes = 64 << 10

type Handler struct {
	accounts  *service.Accounts
	workflow  *service.Workflow
	tokens    *auth.TokenManager
	log       *zap.Logger
	publicURL string
}

func NewHandler(accounts *service.Accounts, workflow *service.Workflow, tokens *auth.TokenManager, log *zap.Logger, publicURL string) *Handler {
	return &Handler{accounts: accounts, workflow: workflow, tokens: tokens, log: log, publicURL: publicURL}
}

// Router builds the full HTTP surface. corsOrigins follows CORS_ALLOWED_ORIGINS.
func (h *Handler) Router(corsOrigins []string) http.Handler {
	r := mux.NewRouter()
	r.Use(requestID, h.logRequests, instrument)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/auth/signup", h.SignupHandler).Methods(http.MethodPost)
	v1.HandleFunc("/auth/login", h.LoginHandler).Methods(http.MethodPost)
	v1.HandleFunc("/bonus-tiers", h.BonusTiersHandler).Methods(http.MethodGet)

	authed := v1.NewRoute().Subrouter()
	authed.Use(auth.RequireAuthenticated(h.tokens))
	authed.HandleFunc("/me", h.MeHandler).Methods(http.MethodGet)
	authed.HandleFunc("/users/{id:[0-9]+}", h.GetUserHandler).Methods(http.MethodGet)
	authed.HandleFunc("/users/{id:[0-9]+}/team", h.GetTeamHandler).Methods(http.MethodGet)
	authed.HandleFunc("/users/{id:[0-9]+}/referral-qr", h.ReferralQRHandler).Methods(http.MethodGet)
	authed.HandleFunc("/users/{id:[0-9]+}/deposits", h.ListDepositsHandler).Methods(http.MethodGet)
	authed.HandleFunc("/users/{id:[0-9]+}/withdrawals", h.ListWithdrawalsHandler).Methods(http.MethodGet)
	authed.HandleFunc("/users/{id:[0-9]+}/mining-claims", h.ListClaimsHandler).Methods(http.MethodGet)
	authed.HandleFunc("/users/{id:[0-9]+}/commissions", h.ListCommissionsHandler).Methods(http.MethodGet)
	authed.HandleFunc("/users/{id:[0-9]+}/ledger", h.ListEntriesHandler).Methods(http.MethodGet)
	authed.HandleFunc("/deposits", h.CreateDepositHandler).Methods(http.MethodPost)
	authed.HandleFunc("/withdrawals", h.CreateWithdrawalHandler).Methods(http.MethodPost)
	authed.HandleFunc("/mining/claims", h.CreateClaimHandler).Methods(http.MethodPost)

	admin := v1.PathPrefix("/admin").Subrouter()
	admin.Use(auth.RequireAdmin(h.tokens))
	admin.HandleFunc("/deposits", h.ReviewDepositsHandler).Methods(http.MethodGet)
	admin.HandleFunc("/deposits/decision", h.DecideDepositHandler).Methods(http.MethodPost)
	admin.HandleFunc("/withdrawals", h.ReviewWithdrawalsHandler).Methods(http.MethodGet)
	admin.HandleFunc("/withdrawals/decision", h.DecideWithdrawalHandler).Methods(http.MethodPost)
	admin.HandleFunc("/users/{id:[0-9]+}/machines", h.AssignMachinesHandler).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		respondWithError(w, http.StatusNotFound, string(domain.KindNotFound), "route not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		respondWithError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	return cors(corsOrigins, r)
}

// errorStatus maps an error kind to its HTTP status.
func errorStatus(kind domain.Kind) int {
	switch kind {
	case domain.KindInvalidAmount, domain.KindInsufficientFunds:
		return http.StatusUnprocessableEntity
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInvalidState, domain.KindConflict:
		return http.StatusConflict
	case domain.KindUnauthorized:
		return http.StatusUnauthorized
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindCodeGeneration:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// fail writes err as the error envelope. Errors without a domain kind, and referral
// cycles, are logged and reported without detail.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var de *domain.Error
	if errors.As(err, &de) && de.Kind != domain.KindReferralCycle {
		respondWithError(w, errorStatus(de.Kind), string(de.Kind), de.Message)
		return
	}
	h.log.Error("request failed",
		zap.String("request_id", requestIDFrom(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	if de != nil {
		respondWithError(w, errorStatus(de.Kind), string(de.Kind), "internal error")
		return
	}
	respondWithError(w, http.StatusInternalServerError, "internal", "internal error")
}

func principal(r *http.Request) domain.Principal {
	p, _ := auth.PrincipalFrom(r.Context())
	return p
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.Errorf(domain.KindValidation, "invalid id")
	}
	return id, nil
}

func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, money.ErrOutOfRange) || errors.Is(err, money.ErrPrecision) {
			return domain.Errorf(domain.KindInvalidAmount, "%v", err)
		}
		return domain.Errorf(domain.KindValidation, "malformed JSON body: %v", err)
	}
	return nil
}

func respondWithError(w http.ResponseWriter, code int, kind, message string) {
	respondWithJSON(w, code, map[string]string{"code": kind, "message": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
