package httpapi

import (
	"errors"
	"net/http"

	"maktab.org/internal/audit"
	"maktab.org/internal/auth"
	"maktab.org/internal/obs"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken  string           `json:"access_token"`
	RefreshToken string           `json:"refresh_token"`
	User         auth.UserProfile `json:"user"`
}

type mfaRequiredResponse struct {
	MfaRequired bool   `json:"mfa_required"`
	TempToken   string `json:"temp_token"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type mfaVerifyRequest struct {
	TempToken string `json:"temp_token"`
	Code      string `json:"code"`
}

type mfaRecoveryRequest struct {
	TempToken    string `json:"temp_token"`
	RecoveryCode string `json:"recovery_code"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	res, err := a.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			obs.CountLogin("rejected")
		}
		handleAuthError(w, r, err)
		return
	}

	if res.MfaRequired {
		obs.CountLogin("mfa_required")
		obs.CountTokenIssued("temp")
		writeJSON(w, http.StatusOK, mfaRequiredResponse{MfaRequired: true, TempToken: res.TempToken})
		return
	}

	obs.CountLogin("ok")
	obs.CountTokenIssued("access")
	obs.CountTokenIssued("refresh")
	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"user_id": res.User.ID,
	})
	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken:  res.Pair.AccessToken,
		RefreshToken: res.Pair.RefreshToken,
		User:         res.User,
	})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.RefreshToken == "" {
		writeError(w, r, http.StatusBadRequest, "refresh_token is required")
		return
	}

	pair, claims, err := a.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrTokenRevoked):
			obs.CountRotation("replayed")
		case errors.Is(err, auth.ErrTokenExpired):
			obs.CountRotation("expired")
		case errors.Is(err, auth.ErrTokenInvalid):
			obs.CountRotation("invalid")
		}
		handleAuthError(w, r, err)
		return
	}

	obs.CountRotation("ok")
	obs.CountTokenIssued("access")
	obs.CountTokenIssued("refresh")
	_ = audit.LogEvent(r.Context(), "auth.refresh", map[string]any{
		"user_id": claims.Subject,
	})
	writeJSON(w, http.StatusOK, refreshResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := a.auth.RevokeAll(r.Context(), claims.Subject); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.logout", nil)
	writeJSON(w, http.StatusOK, messageResponse{Message: "logged out"})
}

func (a *API) handleMfaVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req mfaVerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.TempToken == "" || req.Code == "" {
		writeError(w, r, http.StatusBadRequest, "temp_token and code are required")
		return
	}

	res, err := a.auth.CompleteMfaLogin(r.Context(), req.TempToken, req.Code)
	if err != nil {
		if errors.Is(err, auth.ErrMfaCodeInvalid) {
			obs.CountMfaCheck("totp", "rejected")
		}
		handleAuthError(w, r, err)
		return
	}

	obs.CountMfaCheck("totp", "ok")
	obs.CountLogin("ok")
	obs.CountTokenIssued("access")
	obs.CountTokenIssued("refresh")
	_ = audit.LogEvent(r.Context(), "auth.mfa.verified", map[string]any{
		"user_id": res.User.ID,
	})
	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken:  res.Pair.AccessToken,
		RefreshToken: res.Pair.RefreshToken,
		User:         res.User,
	})
}

func (a *API) handleMfaRecovery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req mfaRecoveryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.TempToken == "" || req.RecoveryCode == "" {
		writeError(w, r, http.StatusBadRequest, "temp_token and recovery_code are required")
		return
	}

	res, err := a.auth.CompleteRecoveryLogin(r.Context(), req.TempToken, req.RecoveryCode)
	if err != nil {
		if errors.Is(err, auth.ErrRecoveryCodeInvalid) {
			obs.CountMfaCheck("recovery", "rejected")
		}
		handleAuthError(w, r, err)
		return
	}

	obs.CountMfaCheck("recovery", "ok")
	obs.CountLogin("ok")
	obs.CountTokenIssued("access")
	obs.CountTokenIssued("refresh")
	_ = audit.LogEvent(r.Context(), "auth.mfa.recovery_used", map[string]any{
		"user_id": res.User.ID,
	})
	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken:  res.Pair.AccessToken,
		RefreshToken: res.Pair.RefreshToken,
		User:         res.User,
	})
}
