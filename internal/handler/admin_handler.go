package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/shopadmin/internal/middleware"
	"github.com/hitoshi/shopadmin/internal/model"
)

// 操作履歴の取得件数。
const (
	DefaultActivityLimit = 50
	MaxActivityLimit     = 500
)

// ActivityLister は監査ログの参照インターフェース。
type ActivityLister interface {
	ListRecent(ctx context.Context, limit int) ([]*model.ActivityRecord, error)
}

// AdminHandler は管理者向けの操作履歴ハンドラー。
type AdminHandler struct {
	activities ActivityLister
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(activities ActivityLister) *AdminHandler {
	return &AdminHandler{activities: activities}
}

type adminActivityPageData struct {
	pageData
	Records []*model.ActivityRecord
	Limit   int
}

// ActivityPage は最近の操作履歴をHTMLで表示する。
// GET /admin/activity?limit=50
func (h *AdminHandler) ActivityPage(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	records, err := h.activities.ListRecent(r.Context(), limit)
	if err != nil {
		slog.Error("failed to list activity records", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	identity, _ := middleware.IdentityFromContext(r.Context())
	renderPage(w, http.StatusOK, pageAdminActivity, adminActivityPageData{
		pageData: pageData{Identity: identity},
		Records:  records,
		Limit:    limit,
	})
}

// activityResponse は操作履歴APIのレスポンス要素。
type activityResponse struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	UserEmail string          `json:"user_email"`
	Action    string          `json:"action"`
	Details   json.RawMessage `json:"details"`
	IPAddress string          `json:"ip_address"`
	Timestamp time.Time       `json:"timestamp"`
}

// ListActivity は最近の操作履歴をJSONで返す。
// GET /api/admin/activity?limit=50
func (h *AdminHandler) ListActivity(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	records, err := h.activities.ListRecent(r.Context(), limit)
	if err != nil {
		slog.Error("failed to list activity records", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	resp := make([]activityResponse, 0, len(records))
	for _, rec := range records {
		details := json.RawMessage(rec.Details)
		if !json.Valid(details) {
			details, _ = json.Marshal(rec.Details)
		}
		resp = append(resp, activityResponse{
			ID:        rec.ID,
			UserID:    rec.UserID,
			UserEmail: rec.UserEmail,
			Action:    rec.Action,
			Details:   details,
			IPAddress: rec.IPAddress,
			Timestamp: rec.Timestamp,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"records": resp,
		"limit":   limit,
	})
}

// parseLimit はlimitクエリパラメータを解釈する。不正な場合は400を書き込んでfalseを返す。
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return DefaultActivityLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > MaxActivityLimit {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidLimitError(raw, MaxActivityLimit))
		return 0, false
	}
	return limit, true
}
