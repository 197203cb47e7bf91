package handler

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wadjakorntonsri/go-referral-engine/pkg/core/domain"
	"github.com/wadjakorntonsri/go-referral-engine/pkg/core/services"
	"github.com/wadjakorntonsri/go-referral-engine/pkg/ports"
)

const clickCookie = "ref_click"

type HTTPHandler struct {
	service   ports.ReferralService
	signupURL string
	secure    bool
	ips       IPResolver
	logger    *zap.Logger
}

func NewHTTPHandler(service ports.ReferralService, signupURL string, secure bool, ips IPResolver, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{service: service, signupURL: signupURL, secure: secure, ips: ips, logger: logger}
}

// RecordClickRequest payload
type RecordClickRequest struct {
	ReferralCode string            `json:"referral_code"`
	Device       domain.DeviceInfo `json:"device"`
}

// RecordSignupRequest payload. The referred user is the caller.
type RecordSignupRequest struct {
	ReferralCode string            `json:"referral_code"`
	ReferrerID   int64             `json:"referrer_id,omitempty"`
	ClickID      string            `json:"click_id,omitempty"`
	Device       domain.DeviceInfo `json:"device"`
}

// ClaimRequest payload
type ClaimRequest struct {
	Type string `json:"type"`
}

type page struct {
	Items interface{} `json:"items"`
	Total int64       `json:"total"`
	Page  int         `json:"page"`
	Limit int         `json:"limit"`
}

// Follow records a click for a referral link and sends the visitor on to signup
func (h *HTTPHandler) Follow(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	q := r.URL.Query()
	sec := domain.SecurityContext{
		IPAddress: h.ips.clientIP(r),
		Device: domain.DeviceInfo{
			UserAgent:        r.UserAgent(),
			Language:         primaryLanguage(r.Header.Get("Accept-Language")),
			ScreenResolution: q.Get("sr"),
			Timezone:         q.Get("tz"),
		},
	}

	res, err := h.service.RecordClick(r.Context(), code, sec)
	if err != nil {
		if domain.IsValidation(err) {
			http.Error(w, "Referral link not found", http.StatusNotFound)
			return
		}
		h.logger.Error("record click failed", zap.String("code", code), zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     clickCookie,
		Value:    res.Click.ID,
		Expires:  res.Click.ExpiresAt,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})

	target := h.signupURL + "?" + url.Values{"ref": {code}, "click_id": {res.Click.ID}}.Encode()
	http.Redirect(w, r, target, http.StatusFound)
}

// RecordClick is the JSON variant used by landing pages that collect device info
func (h *HTTPHandler) RecordClick(w http.ResponseWriter, r *http.Request) {
	var req RecordClickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid request body")
		return
	}
	if req.Device.UserAgent == "" {
		req.Device.UserAgent = r.UserAgent()
	}

	res, err := h.service.RecordClick(r.Context(), req.ReferralCode, domain.SecurityContext{
		IPAddress: h.ips.clientIP(r),
		Device:    req.Device,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *HTTPHandler) RecordSignup(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFrom(r.Context())
	if !ok {
		writeErrorCode(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
		return
	}

	var req RecordSignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid request body")
		return
	}
	if req.ClickID == "" {
		if c, err := r.Cookie(clickCookie); err == nil {
			req.ClickID = c.Value
		}
	}
	if req.Device.UserAgent == "" {
		req.Device.UserAgent = r.UserAgent()
	}

	res, err := h.service.RecordSignup(r.Context(), ports.SignupInput{
		ReferrerID:     req.ReferrerID,
		ReferredUserID: userID,
		ReferralCode:   req.ReferralCode,
		ClickID:        req.ClickID,
		Security:       domain.SecurityContext{IPAddress: h.ips.clientIP(r), Device: req.Device},
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *HTTPHandler) Stats(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFrom(r.Context())
	stats, err := h.service.GetUserStats(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *HTTPHandler) ReferredUsers(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFrom(r.Context())
	p, limit := pageParams(r)
	users, total, err := h.service.GetReferredUsers(r.Context(), userID, p, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page{Items: users, Total: total, Page: p, Limit: limit})
}

func (h *HTTPHandler) Clicks(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFrom(r.Context())
	p, limit := pageParams(r)
	clicks, total, err := h.service.ListClicks(r.Context(), userID, p, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page{Items: clicks, Total: total, Page: p, Limit: limit})
}

func (h *HTTPHandler) Tier(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFrom(r.Context())
	tier, err := h.service.GetTier(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tier)
}

func (h *HTTPHandler) Claim(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFrom(r.Context())

	var req ClaimRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErrorCode(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid request body")
			return
		}
	}

	res, err := h.service.Claim(r.Context(), userID, domain.ClaimType(req.Type))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *HTTPHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if statusFor(err) >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, err)
}

// pageParams reads page and limit, clamped the same way the listings are
func pageParams(r *http.Request) (int, int) {
	q := r.URL.Query()
	p, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	return services.NormalizePage(p, limit)
}

// primaryLanguage returns the first tag of an Accept-Language header
func primaryLanguage(header string) string {
	tag := header
	if i := strings.IndexAny(tag, ",;"); i >= 0 {
		tag = tag[:i]
	}
	return strings.TrimSpace(tag)
}

func healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "ok",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}
