package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"assistant/internal/bots"
	"assistant/internal/orchestrator"
	"assistant/internal/scheduler"
	"assistant/internal/storage"
	logx "assistant/pkg/logx"
)

type jobDTO struct {
	ID      string     `json:"id"`
	Trigger string     `json:"trigger"`
	Paused  bool       `json:"paused"`
	NextRun *time.Time `json:"next_run,omitempty"`
}

func toJobDTO(info scheduler.JobInfo) jobDTO {
	return jobDTO{ID: info.ID, Trigger: info.Trigger, Paused: info.Paused, NextRun: info.NextRun}
}

// dailyJobs maps the category route keys to their fixed job id and payload.
var dailyJobs = map[string]struct {
	jobID   string
	payload scheduler.Payload
}{
	"weather":    {orchestrator.JobWeatherDaily, scheduler.Payload{Kind: bots.KindWeather}},
	"finance_us": {orchestrator.JobFinanceUSDaily, scheduler.Payload{Kind: bots.KindFinance, Market: bots.MarketUS}},
	"finance_kr": {orchestrator.JobFinanceKRDaily, scheduler.Payload{Kind: bots.KindFinance, Market: bots.MarketKR}},
	"calendar":   {orchestrator.JobCalendarDaily, scheduler.Payload{Kind: bots.KindCalendar}},
}

// testJobs maps the manual-run categories to their fixed job ids.
var testJobs = map[string]string{
	"weather":      orchestrator.JobWeatherDaily,
	"finance_us":   orchestrator.JobFinanceUSDaily,
	"finance_kr":   orchestrator.JobFinanceKRDaily,
	"calendar":     orchestrator.JobCalendarDaily,
	"price_alerts": orchestrator.JobPriceAlertCheck,
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(c echo.Context) error {
	jobs := s.sched.Jobs()
	paused := 0
	for _, j := range jobs {
		if j.Paused {
			paused++
		}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"running": s.sched.IsRunning(),
		"jobs":    len(jobs),
		"paused":  paused,
	})
}

func (s *Server) handleListJobs(c echo.Context) error {
	jobs := s.sched.Jobs()
	res := make([]jobDTO, 0, len(jobs))
	for _, j := range jobs {
		res = append(res, toJobDTO(j))
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleGetJob(c echo.Context) error {
	info, ok := s.sched.GetJob(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown job id")
	}
	return c.JSON(http.StatusOK, toJobDTO(info))
}

func (s *Server) handleRemoveJob(c echo.Context) error {
	id := c.Param("id")
	if !s.sched.RemoveJob(c.Request().Context(), id) {
		return echo.NewHTTPError(http.StatusNotFound, "unknown job id")
	}
	return c.JSON(http.StatusOK, map[string]string{"removed": id})
}

func (s *Server) handlePauseJob(c echo.Context) error {
	id := c.Param("id")
	if !s.sched.PauseJob(c.Request().Context(), id) {
		return echo.NewHTTPError(http.StatusNotFound, "unknown job id")
	}
	return c.JSON(http.StatusOK, map[string]string{"paused": id})
}

func (s *Server) handleResumeJob(c echo.Context) error {
	id := c.Param("id")
	if !s.sched.ResumeJob(c.Request().Context(), id) {
		return echo.NewHTTPError(http.StatusNotFound, "unknown job id")
	}
	return c.JSON(http.StatusOK, map[string]string{"resumed": id})
}

// handleAddDaily registers (or re-times) one of the fixed daily jobs at
// hour/minute from the query string.
func (s *Server) handleAddDaily(key string) echo.HandlerFunc {
	def := dailyJobs[key]
	return func(c echo.Context) error {
		hour, err := strconv.Atoi(c.QueryParam("hour"))
		if err != nil || hour < 0 || hour > 23 {
			return echo.NewHTTPError(http.StatusBadRequest, "hour must be an integer in [0,23]")
		}
		minute, err := strconv.Atoi(c.QueryParam("minute"))
		if err != nil || minute < 0 || minute > 59 {
			return echo.NewHTTPError(http.StatusBadRequest, "minute must be an integer in [0,59]")
		}
		if err := s.sched.AddCronJob(c.Request().Context(), def.jobID, hour, minute, def.payload, true); err != nil {
			s.log.Error("daily job registration failed", logx.String("job", def.jobID), logx.Err(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "job registration failed")
		}
		info, _ := s.sched.GetJob(def.jobID)
		return c.JSON(http.StatusOK, toJobDTO(info))
	}
}

// handleTestRun fires a registered category job immediately, outside its
// trigger.
func (s *Server) handleTestRun(c echo.Context) error {
	jobID, ok := testJobs[c.Param("category")]
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown category")
	}
	if !s.sched.RunNow(jobID) {
		return echo.NewHTTPError(http.StatusNotFound, "job not registered")
	}
	return c.JSON(http.StatusAccepted, map[string]string{"triggered": jobID})
}

func (s *Server) handleListLogs(c echo.Context) error {
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be an integer in [1,500]")
		}
		limit = n
	}
	entries, err := s.store.ListLogs(c.Request().Context(), limit)
	if err != nil {
		s.log.Error("activity log read failed", logx.Err(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "log read failed")
	}
	type logDTO struct {
		ID       int64     `json:"id"`
		At       time.Time `json:"at"`
		Category string    `json:"category"`
		Status   string    `json:"status"`
		Message  string    `json:"message"`
	}
	res := make([]logDTO, 0, len(entries))
	for _, e := range entries {
		res = append(res, logDTO{ID: e.ID, At: e.At, Category: e.Category, Status: e.Status, Message: e.Message})
	}
	return c.JSON(http.StatusOK, res)
}

// ---- Reminders ----

type reminderDTO struct {
	ID        int64     `json:"id"`
	Message   string    `json:"message"`
	TargetAt  time.Time `json:"target_at"`
	CreatedAt time.Time `json:"created_at"`
}

func toReminderDTO(r storage.Reminder) reminderDTO {
	return reminderDTO{ID: r.ID, Message: r.Message, TargetAt: r.TargetAt, CreatedAt: r.CreatedAt}
}

func (s *Server) handleListReminders(c echo.Context) error {
	pending, err := s.store.ListPendingReminders(c.Request().Context())
	if err != nil {
		s.log.Error("reminder list failed", logx.Err(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "reminder list failed")
	}
	res := make([]reminderDTO, 0, len(pending))
	for _, r := range pending {
		res = append(res, toReminderDTO(r))
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleCreateReminder(c echo.Context) error {
	var req struct {
		Message  string    `json:"message"`
		TargetAt time.Time `json:"target_at"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed body")
	}
	if strings.TrimSpace(req.Message) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}
	if req.TargetAt.IsZero() {
		return echo.NewHTTPError(http.StatusBadRequest, "target_at is required (RFC3339)")
	}
	if !req.TargetAt.After(time.Now()) {
		return echo.NewHTTPError(http.StatusBadRequest, "target time must be in the future")
	}

	rem, err := s.memo.Schedule(c.Request().Context(), req.Message, req.TargetAt)
	if err != nil {
		s.log.Error("reminder creation failed", logx.Err(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "reminder creation failed")
	}
	return c.JSON(http.StatusCreated, toReminderDTO(rem))
}

func (s *Server) handleDeleteReminder(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "reminder id must be an integer")
	}
	ctx := c.Request().Context()
	if _, err := s.store.GetReminder(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "unknown reminder id")
		}
		s.log.Error("reminder lookup failed", logx.Err(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "reminder lookup failed")
	}
	if err := s.memo.Cancel(ctx, id); err != nil {
		s.log.Error("reminder cancel failed", logx.Int64("reminder", id), logx.Err(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "reminder cancel failed")
	}
	return c.JSON(http.StatusOK, map[string]int64{"cancelled": id})
}

// ---- Price alerts ----

type alertDTO struct {
	ID        int64   `json:"id"`
	Symbol    string  `json:"symbol"`
	Threshold float64 `json:"threshold"`
	Above     bool    `json:"above"`
}

func (s *Server) handleListAlerts(c echo.Context) error {
	alerts, err := s.store.ListActiveAlerts(c.Request().Context())
	if err != nil {
		s.log.Error("alert list failed", logx.Err(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "alert list failed")
	}
	res := make([]alertDTO, 0, len(alerts))
	for _, a := range alerts {
		res = append(res, alertDTO{ID: a.ID, Symbol: a.Symbol, Threshold: a.Threshold, Above: a.Above})
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleCreateAlert(c echo.Context) error {
	var req struct {
		Symbol    string  `json:"symbol"`
		Threshold float64 `json:"threshold"`
		Above     bool    `json:"above"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed body")
	}
	req.Symbol = strings.TrimSpace(req.Symbol)
	if req.Symbol == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "symbol is required")
	}
	if req.Threshold <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "threshold must be positive")
	}

	id, err := s.store.CreateAlert(c.Request().Context(), storage.PriceAlert{
		Symbol:    req.Symbol,
		Threshold: req.Threshold,
		Above:     req.Above,
	})
	if err != nil {
		s.log.Error("alert creation failed", logx.Err(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "alert creation failed")
	}
	return c.JSON(http.StatusCreated, alertDTO{ID: id, Symbol: req.Symbol, Threshold: req.Threshold, Above: req.Above})
}

func (s *Server) handleDeleteAlert(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "alert id must be an integer")
	}
	ctx := c.Request().Context()
	alerts, err := s.store.ListActiveAlerts(ctx)
	if err != nil {
		s.log.Error("alert lookup failed", logx.Err(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "alert lookup failed")
	}
	known := false
	for _, a := range alerts {
		if a.ID == id {
			known = true
			break
		}
	}
	if !known {
		return echo.NewHTTPError(http.StatusNotFound, "unknown alert id")
	}
	if err := s.store.DeactivateAlert(ctx, id); err != nil {
		s.log.Error("alert deactivation failed", logx.Int64("alert", id), logx.Err(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "alert deactivation failed")
	}
	return c.JSON(http.StatusOK, map[string]int64{"deactivated": id})
}

// ---- User ----

type userDTO struct {
	ID                 int64     `json:"id"`
	TelegramChatID     string    `json:"telegram_chat_id"`
	KakaoAccessToken   string    `json:"kakao_access_token"`
	KakaoRefreshToken  string    `json:"kakao_refresh_token"`
	GoogleAccessToken  string    `json:"google_access_token"`
	GoogleRefreshToken string    `json:"google_refresh_token"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func toUserDTO(u storage.User) userDTO {
	return userDTO{
		ID:                 u.ID,
		TelegramChatID:     u.TelegramChatID,
		KakaoAccessToken:   u.KakaoAccessToken,
		KakaoRefreshToken:  u.KakaoRefreshToken,
		GoogleAccessToken:  u.GoogleAccessToken,
		GoogleRefreshToken: u.GoogleRefreshToken,
		UpdatedAt:          u.UpdatedAt,
	}
}

func (s *Server) handleGetUser(c echo.Context) error {
	user, err := s.store.GetUser(c.Request().Context())
	if err != nil {
		s.log.Error("user read failed", logx.Err(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "user read failed")
	}
	return c.JSON(http.StatusOK, toUserDTO(user))
}

// handleUpdateUser links or unlinks notification channels. Only fields
// present in the body are touched; an explicit empty string unlinks.
func (s *Server) handleUpdateUser(c echo.Context) error {
	var req struct {
		TelegramChatID     *string `json:"telegram_chat_id"`
		KakaoAccessToken   *string `json:"kakao_access_token"`
		KakaoRefreshToken  *string `json:"kakao_refresh_token"`
		GoogleAccessToken  *string `json:"google_access_token"`
		GoogleRefreshToken *string `json:"google_refresh_token"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed body")
	}

	ctx := c.Request().Context()
	user, err := s.store.GetUser(ctx)
	if err != nil {
		s.log.Error("user read failed", logx.Err(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "user read failed")
	}
	if req.TelegramChatID != nil {
		user.TelegramChatID = *req.TelegramChatID
	}
	if req.KakaoAccessToken != nil {
		user.KakaoAccessToken = *req.KakaoAccessToken
	}
	if req.KakaoRefreshToken != nil {
		user.KakaoRefreshToken = *req.KakaoRefreshToken
	}
	if req.GoogleAccessToken != nil {
		user.GoogleAccessToken = *req.GoogleAccessToken
	}
	if req.GoogleRefreshToken != nil {
		user.GoogleRefreshToken = *req.GoogleRefreshToken
	}
	if err := s.store.SaveUser(ctx, user); err != nil {
		s.log.Error("user save failed", logx.Err(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "user save failed")
	}
	return c.JSON(http.StatusOK, toUserDTO(user))
}

// ---- Settings ----

type settingDTO struct {
	Category         string `json:"category"`
	NotificationTime string `json:"notification_time"`
	ConfigJSON       string `json:"config_json,omitempty"`
	IsActive         bool   `json:"is_active"`
}

func toSettingDTO(st storage.Setting) settingDTO {
	return settingDTO{
		Category:         st.Category,
		NotificationTime: st.NotificationTime,
		ConfigJSON:       st.ConfigJSON,
		IsActive:         st.IsActive,
	}
}

func (s *Server) settingConverge(category string) func(context.Context) error {
	switch category {
	case "weather":
		return s.orch.UpdateWeather
	case "finance":
		return s.orch.UpdateFinance
	case "calendar":
		return s.orch.UpdateCalendar
	default:
		return nil
	}
}

func (s *Server) handleGetSetting(c echo.Context) error {
	category := c.Param("category")
	if s.settingConverge(category) == nil {
		return echo.NewHTTPError(http.StatusNotFound, "unknown category")
	}
	st, err := s.store.GetSetting(c.Request().Context(), category)
	if errors.Is(err, storage.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "category not configured")
	}
	if err != nil {
		s.log.Error("setting read failed", logx.Err(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "setting read failed")
	}
	return c.JSON(http.StatusOK, toSettingDTO(st))
}

// handleUpdateSetting stores the category setting and reconverges its
// recurring job, so the change takes effect without a restart.
func (s *Server) handleUpdateSetting(c echo.Context) error {
	category := c.Param("category")
	converge := s.settingConverge(category)
	if converge == nil {
		return echo.NewHTTPError(http.StatusNotFound, "unknown category")
	}

	var req struct {
		NotificationTime string `json:"notification_time"`
		ConfigJSON       string `json:"config_json"`
		IsActive         bool   `json:"is_active"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed body")
	}
	if _, _, err := orchestrator.ParseHHMM(req.NotificationTime); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "notification_time must be HH:MM")
	}
	if strings.TrimSpace(req.ConfigJSON) != "" && !json.Valid([]byte(req.ConfigJSON)) {
		return echo.NewHTTPError(http.StatusBadRequest, "config_json must be valid JSON")
	}

	ctx := c.Request().Context()
	st := storage.Setting{
		Category:         category,
		NotificationTime: req.NotificationTime,
		ConfigJSON:       req.ConfigJSON,
		IsActive:         req.IsActive,
	}
	if err := s.store.UpsertSetting(ctx, st); err != nil {
		s.log.Error("setting save failed", logx.String("category", category), logx.Err(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "setting save failed")
	}
	if err := converge(ctx); err != nil {
		s.log.Warn("job reconverge failed after setting update",
			logx.String("category", category), logx.Err(err))
	}
	return c.JSON(http.StatusOK, toSettingDTO(st))
}
