package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/punchamoorthee/rewardledger/internal/commission"
	"github.com/punchamoorthee/rewardledger/internal/domain"
	"github.com/punchamoorthee/rewardledger/internal/service"
)

const qrSize = 256

type decisionRequest struct {
	RequestID int64           `json:"requestId"`
	Decision  domain.Decision `json:"decision"`
}

type machinesRequest struct {
	Machines int `json:"machines"`
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req service.SignupInput
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	sess, err := h.accounts.Signup(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, sess)
}

func (h *Handler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req service.LoginInput
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	sess, err := h.accounts.Login(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, sess)
}

func (h *Handler) BonusTiersHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, commission.Tiers)
}

func (h *Handler) MeHandler(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	u, err := h.accounts.Profile(r.Context(), p, p.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, u)
}

func (h *Handler) GetUserHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	u, err := h.accounts.Profile(r.Context(), principal(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, u)
}

func (h *Handler) GetTeamHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	team, err := h.accounts.Team(r.Context(), principal(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, team)
}

// ReferralQRHandler renders the user's signup link as a PNG.
func (h *Handler) ReferralQRHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	u, err := h.accounts.Profile(r.Context(), principal(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	png, err := qrcode.Encode(h.signupLink(u.ReferralCode), qrcode.Medium, qrSize)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

func (h *Handler) signupLink(code string) string {
	return strings.TrimRight(h.publicURL, "/") + "/signup?ref=" + url.QueryEscape(code)
}

func (h *Handler) ListDepositsHandler(w http.ResponseWriter, r *http.Request) {
	listFor(h, w, r, h.workflow.Deposits)
}

func (h *Handler) ListWithdrawalsHandler(w http.ResponseWriter, r *http.Request) {
	listFor(h, w, r, h.workflow.Withdrawals)
}

func (h *Handler) ListClaimsHandler(w http.ResponseWriter, r *http.Request) {
	listFor(h, w, r, h.workflow.MiningClaims)
}

func (h *Handler) ListCommissionsHandler(w http.ResponseWriter, r *http.Request) {
	listFor(h, w, r, h.workflow.Commissions)
}

func (h *Handler) ListEntriesHandler(w http.ResponseWriter, r *http.Request) {
	listFor(h, w, r, h.workflow.Entries)
}

func (h *Handler) CreateDepositHandler(w http.ResponseWriter, r *http.Request) {
	var req service.DepositInput
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	d, err := h.workflow.SubmitDeposit(r.Context(), principal(r), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, d)
}

func (h *Handler) CreateWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	var req service.WithdrawalInput
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	wr, err := h.workflow.SubmitWithdrawal(r.Context(), principal(r), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, wr)
}

// CreateClaimHandler answers 201 for a new claim and 200 when the Idempotency-Key
// replays an earlier one.
func (h *Handler) CreateClaimHandler(w http.ResponseWriter, r *http.Request) {
	var req service.ClaimInput
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	claim, replayed, err := h.workflow.ClaimMining(r.Context(), principal(r), req, r.Header.Get("Idempotency-Key"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if replayed {
		w.Header().Set("Idempotent-Replayed", "true")
		respondWithJSON(w, http.StatusOK, claim)
		return
	}
	respondWithJSON(w, http.StatusCreated, claim)
}

func (h *Handler) ReviewDepositsHandler(w http.ResponseWriter, r *http.Request) {
	status := domain.Status(r.URL.Query().Get("status"))
	list, err := h.workflow.ReviewDeposits(r.Context(), principal(r), status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, list)
}

func (h *Handler) ReviewWithdrawalsHandler(w http.ResponseWriter, r *http.Request) {
	status := domain.Status(r.URL.Query().Get("status"))
	list, err := h.workflow.ReviewWithdrawals(r.Context(), principal(r), status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, list)
}

func (h *Handler) DecideDepositHandler(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.RequestID <= 0 {
		h.fail(w, r, domain.Errorf(domain.KindValidation, "requestId is required"))
		return
	}
	d, err := h.workflow.DecideDeposit(r.Context(), principal(r), req.RequestID, req.Decision)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, d)
}

func (h *Handler) DecideWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.RequestID <= 0 {
		h.fail(w, r, domain.Errorf(domain.KindValidation, "requestId is required"))
		return
	}
	wr, err := h.workflow.DecideWithdrawal(r.Context(), principal(r), req.RequestID, req.Decision)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, wr)
}

func (h *Handler) AssignMachinesHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req machinesRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	u, err := h.workflow.AssignMachines(r.Context(), principal(r), id, req.Machines)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, u)
}

// listFor serves a per-user history listing.
func listFor[T any](h *Handler, w http.ResponseWriter, r *http.Request, list func(ctx context.Context, p domain.Principal, userID int64) ([]T, error)) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	items, err := list(r.Context(), principal(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, items)
}
