package httpapi

import (
	"net/http"

	"maktab.org/internal/audit"
	"maktab.org/internal/auth"
)

type mfaStatusResponse struct {
	MfaEnabled bool `json:"mfa_enabled"`
}

type mfaEnableResponse struct {
	Secret            string `json:"secret"`
	EnrollmentURI     string `json:"enrollment_uri"`
	EnrollmentQRImage string `json:"enrollment_qr_image"`
}

type mfaConfirmRequest struct {
	Code string `json:"code"`
}

type recoveryCodesResponse struct {
	RecoveryCodes []string `json:"recovery_codes"`
}

type mfaDisableRequest struct {
	Password string `json:"password"`
}

func (a *API) handleMfaStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	status, err := a.mfa.Status(r.Context(), claims.Subject)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mfaStatusResponse{MfaEnabled: status.Enabled})
}

func (a *API) handleMfaEnable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	enrollment, err := a.mfa.Enroll(r.Context(), claims.Subject)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "mfa.enroll.started", nil)
	writeJSON(w, http.StatusOK, mfaEnableResponse{
		Secret:            enrollment.Secret,
		EnrollmentURI:     enrollment.EnrollmentURI,
		EnrollmentQRImage: enrollment.QRImage,
	})
}

func (a *API) handleMfaConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req mfaConfirmRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Code == "" {
		writeError(w, r, http.StatusBadRequest, "code is required")
		return
	}
	codes, err := a.mfa.Activate(r.Context(), claims.Subject, req.Code)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "mfa.enabled", nil)
	writeJSON(w, http.StatusOK, recoveryCodesResponse{RecoveryCodes: codes})
}

func (a *API) handleMfaRecoveryCodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	codes, err := a.mfa.RegenerateRecoveryCodes(r.Context(), claims.Subject)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "mfa.recovery_codes.regenerated", nil)
	writeJSON(w, http.StatusOK, recoveryCodesResponse{RecoveryCodes: codes})
}

func (a *API) handleMfaDisable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req mfaDisableRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "password is required")
		return
	}
	if err := a.mfa.Disable(r.Context(), claims.Subject, req.Password); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "mfa.disabled", nil)
	writeJSON(w, http.StatusOK, messageResponse{Message: "mfa disabled"})
}
