package handler

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"

	"github.com/hitoshi/shopadmin/internal/activity"
	"github.com/hitoshi/shopadmin/internal/auth"
	"github.com/hitoshi/shopadmin/internal/middleware"
	"github.com/hitoshi/shopadmin/internal/model"
)

// domainActionPattern は画面から記録できる業務操作タグの形式（ORDER_FULFILL 等）。
var domainActionPattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]{1,63}$`)

// reservedActions は認証フローだけが記録できるタグ。画面からの記録は拒否する。
var reservedActions = map[string]bool{
	model.ActionLogin:             true,
	model.ActionLoginFailed:       true,
	model.ActionLogout:            true,
	model.ActionPageAccess:        true,
	model.ActionAdminAccess:       true,
	model.ActionAdminAccessDenied: true,
}

const maxTargetLength = 200

// DashboardHandler はダッシュボードと現在のユーザー情報のハンドラー。
type DashboardHandler struct {
	recorder middleware.ActivityRecorder
}

// NewDashboardHandler はDashboardHandlerを生成する。
func NewDashboardHandler(recorder middleware.ActivityRecorder) *DashboardHandler {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &DashboardHandler{recorder: recorder}
}

type dashboardPageData struct {
	pageData
	IsAdmin bool
	Notice  string
}

// Dashboard はダッシュボードを表示する。
// GET /dashboard
func (h *DashboardHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.IdentityFromContext(r.Context())

	data := dashboardPageData{
		pageData: pageData{Identity: identity, CSRFToken: middleware.CSRFToken(r.Context())},
		IsAdmin:  middleware.TierFromContext(r.Context()) == auth.TierAdministrator,
	}
	switch r.URL.Query().Get("notice") {
	case "recorded":
		data.Notice = "操作を記録しました。"
	case "invalid_action":
		data.Notice = "操作名が不正です。英大文字・数字・アンダースコアで指定してください。"
	}

	renderPage(w, http.StatusOK, pageDashboard, data)
}

// RecordAction はダッシュボードのフォームから業務操作を監査ログに記録する。
// POST /dashboard
// 記録は非同期で、結果にかかわらずPost/Redirect/Getでダッシュボードへ戻す。
func (h *DashboardHandler) RecordAction(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.IdentityFromContext(r.Context())

	action := strings.TrimSpace(r.PostFormValue("action"))
	if !domainActionPattern.MatchString(action) || reservedActions[action] {
		http.Redirect(w, r, dashboardPath+"?notice=invalid_action", http.StatusSeeOther)
		return
	}

	details := map[string]any{}
	if target := strings.TrimSpace(r.PostFormValue("target")); target != "" {
		if len(target) > maxTargetLength {
			target = target[:maxTargetLength]
		}
		details["target"] = target
	}

	h.recorder.Record(r.Context(), activity.Entry{
		UserID:    identity.ID,
		UserEmail: identity.Email,
		Action:    action,
		Details:   details,
		IPAddress: activity.ClientIP(r),
	})

	http.Redirect(w, r, dashboardPath+"?notice=recorded", http.StatusSeeOther)
}

// Me は現在のログインユーザー情報を返す。
// GET /api/me
func (h *DashboardHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"id":    identity.ID,
		"name":  identity.Name,
		"email": identity.Email,
		"tier":  string(middleware.TierFromContext(r.Context())),
	})
}
