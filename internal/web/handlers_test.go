package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"assistant/internal/orchestrator"
	"assistant/internal/scheduler"
	"assistant/internal/storage"
	logx "assistant/pkg/logx"
)

type fakeScheduler struct {
	running bool
	jobs    map[string]scheduler.JobInfo
	ran     []string
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{running: true, jobs: map[string]scheduler.JobInfo{}}
}

func (f *fakeScheduler) IsRunning() bool { return f.running }

func (f *fakeScheduler) Jobs() []scheduler.JobInfo {
	res := make([]scheduler.JobInfo, 0, len(f.jobs))
	for _, j := range f.jobs {
		res = append(res, j)
	}
	return res
}

func (f *fakeScheduler) GetJob(id string) (scheduler.JobInfo, bool) {
	j, ok := f.jobs[id]
	return j, ok
}

func (f *fakeScheduler) RemoveJob(_ context.Context, id string) bool {
	_, ok := f.jobs[id]
	delete(f.jobs, id)
	return ok
}

func (f *fakeScheduler) PauseJob(_ context.Context, id string) bool {
	j, ok := f.jobs[id]
	if !ok {
		return false
	}
	j.Paused = true
	j.NextRun = nil
	f.jobs[id] = j
	return true
}

func (f *fakeScheduler) ResumeJob(_ context.Context, id string) bool {
	j, ok := f.jobs[id]
	if !ok {
		return false
	}
	j.Paused = false
	f.jobs[id] = j
	return true
}

func (f *fakeScheduler) RunNow(id string) bool {
	if _, ok := f.jobs[id]; !ok {
		return false
	}
	f.ran = append(f.ran, id)
	return true
}

func (f *fakeScheduler) AddCronJob(_ context.Context, id string, hour, minute int, p scheduler.Payload, replace bool) error {
	if _, ok := f.jobs[id]; ok && !replace {
		return scheduler.ErrJobExists
	}
	f.jobs[id] = scheduler.JobInfo{ID: id, Trigger: scheduler.Cron(hour, minute).Describe()}
	return nil
}

type fakeStore struct {
	entries   []storage.LogEntry
	reminders map[int64]storage.Reminder
	alerts    []storage.PriceAlert
	nextAlert int64
	user      storage.User
	settings  map[string]storage.Setting
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		reminders: map[int64]storage.Reminder{},
		settings:  map[string]storage.Setting{},
		user:      storage.User{ID: 1},
	}
}

func (f *fakeStore) ListLogs(_ context.Context, limit int) ([]storage.LogEntry, error) {
	if limit > len(f.entries) {
		limit = len(f.entries)
	}
	return f.entries[:limit], nil
}

func (f *fakeStore) ListPendingReminders(context.Context) ([]storage.Reminder, error) {
	var res []storage.Reminder
	for _, r := range f.reminders {
		if !r.Sent {
			res = append(res, r)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (f *fakeStore) GetReminder(_ context.Context, id int64) (storage.Reminder, error) {
	r, ok := f.reminders[id]
	if !ok {
		return storage.Reminder{}, storage.ErrNotFound
	}
	return r, nil
}

func (f *fakeStore) ListActiveAlerts(context.Context) ([]storage.PriceAlert, error) {
	var res []storage.PriceAlert
	for _, a := range f.alerts {
		if a.Active {
			res = append(res, a)
		}
	}
	return res, nil
}

func (f *fakeStore) CreateAlert(_ context.Context, a storage.PriceAlert) (int64, error) {
	f.nextAlert++
	a.ID = f.nextAlert
	a.Active = true
	f.alerts = append(f.alerts, a)
	return a.ID, nil
}

func (f *fakeStore) DeactivateAlert(_ context.Context, id int64) error {
	for i, a := range f.alerts {
		if a.ID == id {
			f.alerts[i].Active = false
			return nil
		}
	}
	return storage.ErrNotFound
}

func (f *fakeStore) GetUser(context.Context) (storage.User, error) { return f.user, nil }

func (f *fakeStore) SaveUser(_ context.Context, u storage.User) error {
	f.user = u
	return nil
}

func (f *fakeStore) GetSetting(_ context.Context, category string) (storage.Setting, error) {
	st, ok := f.settings[category]
	if !ok {
		return storage.Setting{}, storage.ErrNotFound
	}
	return st, nil
}

func (f *fakeStore) UpsertSetting(_ context.Context, st storage.Setting) error {
	f.settings[st.Category] = st
	return nil
}

type fakeReminders struct {
	store  *fakeStore
	nextID int64
}

func (f *fakeReminders) Schedule(_ context.Context, message string, targetAt time.Time) (storage.Reminder, error) {
	f.nextID++
	r := storage.Reminder{ID: f.nextID, Message: message, TargetAt: targetAt, CreatedAt: time.Now()}
	f.store.reminders[r.ID] = r
	return r, nil
}

func (f *fakeReminders) Cancel(_ context.Context, id int64) error {
	delete(f.store.reminders, id)
	return nil
}

type fakeConverger struct {
	converged []string
}

func (f *fakeConverger) UpdateWeather(context.Context) error {
	f.converged = append(f.converged, "weather")
	return nil
}

func (f *fakeConverger) UpdateFinance(context.Context) error {
	f.converged = append(f.converged, "finance")
	return nil
}

func (f *fakeConverger) UpdateCalendar(context.Context) error {
	f.converged = append(f.converged, "calendar")
	return nil
}

func newTestServer(sched Scheduler, store *fakeStore) (*Server, *fakeConverger) {
	orch := &fakeConverger{}
	s := NewServer(Config{Addr: "127.0.0.1:0"}, sched, store, &fakeReminders{store: store}, orch, logx.Nop())
	return s, orch
}

func doRequest(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func doJSON(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndStatus(t *testing.T) {
	t.Parallel()
	sched := newFakeScheduler()
	sched.jobs["weather_daily"] = scheduler.JobInfo{ID: "weather_daily", Trigger: "cron[06:30]"}
	sched.jobs["calendar_daily"] = scheduler.JobInfo{ID: "calendar_daily", Trigger: "cron[08:00]", Paused: true}
	s, _ := newTestServer(sched, newFakeStore())

	rec := doRequest(t, s, http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("health = %d", rec.Code)
	}

	rec = doRequest(t, s, http.MethodGet, "/api/scheduler/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var status struct {
		Running bool `json:"running"`
		Jobs    int  `json:"jobs"`
		Paused  int  `json:"paused"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !status.Running || status.Jobs != 2 || status.Paused != 1 {
		t.Fatalf("status = %+v", status)
	}
}

func TestJobLifecycleEndpoints(t *testing.T) {
	t.Parallel()
	next := time.Now().Add(time.Hour)
	sched := newFakeScheduler()
	sched.jobs["weather_daily"] = scheduler.JobInfo{ID: "weather_daily", Trigger: "cron[06:30]", NextRun: &next}
	s, _ := newTestServer(sched, newFakeStore())

	rec := doRequest(t, s, http.MethodGet, "/api/scheduler/jobs/weather_daily")
	if rec.Code != http.StatusOK {
		t.Fatalf("get = %d", rec.Code)
	}
	var dto jobDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &dto); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dto.ID != "weather_daily" || dto.NextRun == nil {
		t.Fatalf("dto = %+v", dto)
	}

	if rec := doRequest(t, s, http.MethodPost, "/api/scheduler/jobs/weather_daily/pause"); rec.Code != http.StatusOK {
		t.Fatalf("pause = %d", rec.Code)
	}
	if !sched.jobs["weather_daily"].Paused {
		t.Fatal("job not paused")
	}
	if rec := doRequest(t, s, http.MethodPost, "/api/scheduler/jobs/weather_daily/resume"); rec.Code != http.StatusOK {
		t.Fatalf("resume = %d", rec.Code)
	}
	if rec := doRequest(t, s, http.MethodDelete, "/api/scheduler/jobs/weather_daily"); rec.Code != http.StatusOK {
		t.Fatalf("delete = %d", rec.Code)
	}

	for _, target := range []string{
		"/api/scheduler/jobs/ghost",
	} {
		if rec := doRequest(t, s, http.MethodGet, target); rec.Code != http.StatusNotFound {
			t.Fatalf("GET %s = %d, want 404", target, rec.Code)
		}
		if rec := doRequest(t, s, http.MethodDelete, target); rec.Code != http.StatusNotFound {
			t.Fatalf("DELETE %s = %d, want 404", target, rec.Code)
		}
		if rec := doRequest(t, s, http.MethodPost, target+"/pause"); rec.Code != http.StatusNotFound {
			t.Fatalf("pause %s = %d, want 404", target, rec.Code)
		}
	}
}

func TestAddDailyJobValidation(t *testing.T) {
	t.Parallel()
	sched := newFakeScheduler()
	s, _ := newTestServer(sched, newFakeStore())

	cases := []struct {
		target string
		code   int
	}{
		{"/api/scheduler/jobs/weather?hour=6&minute=30", http.StatusOK},
		{"/api/scheduler/jobs/finance/us?hour=22&minute=0", http.StatusOK},
		{"/api/scheduler/jobs/finance/kr?hour=9&minute=0", http.StatusOK},
		{"/api/scheduler/jobs/calendar?hour=8&minute=0", http.StatusOK},
		{"/api/scheduler/jobs/weather?hour=24&minute=0", http.StatusBadRequest},
		{"/api/scheduler/jobs/weather?hour=6&minute=60", http.StatusBadRequest},
		{"/api/scheduler/jobs/weather?hour=-1&minute=0", http.StatusBadRequest},
		{"/api/scheduler/jobs/weather?minute=30", http.StatusBadRequest},
		{"/api/scheduler/jobs/weather?hour=six&minute=30", http.StatusBadRequest},
	}
	for _, tc := range cases {
		if rec := doRequest(t, s, http.MethodPost, tc.target); rec.Code != tc.code {
			t.Errorf("POST %s = %d, want %d", tc.target, rec.Code, tc.code)
		}
	}

	if _, ok := sched.jobs[orchestrator.JobWeatherDaily]; !ok {
		t.Fatal("weather_daily not registered")
	}
	if _, ok := sched.jobs[orchestrator.JobFinanceKRDaily]; !ok {
		t.Fatal("finance_kr_daily not registered")
	}
}

func TestTestRunEndpoint(t *testing.T) {
	t.Parallel()
	sched := newFakeScheduler()
	sched.jobs[orchestrator.JobWeatherDaily] = scheduler.JobInfo{ID: orchestrator.JobWeatherDaily}
	s, _ := newTestServer(sched, newFakeStore())

	if rec := doRequest(t, s, http.MethodPost, "/api/scheduler/test/weather"); rec.Code != http.StatusAccepted {
		t.Fatalf("test weather = %d", rec.Code)
	}
	if len(sched.ran) != 1 || sched.ran[0] != orchestrator.JobWeatherDaily {
		t.Fatalf("ran = %v", sched.ran)
	}

	// Known category, job not registered.
	if rec := doRequest(t, s, http.MethodPost, "/api/scheduler/test/calendar"); rec.Code != http.StatusNotFound {
		t.Fatalf("unregistered job = %d, want 404", rec.Code)
	}
	// Unknown category.
	if rec := doRequest(t, s, http.MethodPost, "/api/scheduler/test/horoscope"); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown category = %d, want 404", rec.Code)
	}
}

func TestListLogs(t *testing.T) {
	t.Parallel()
	logs := newFakeStore()
	for i := 0; i < 80; i++ {
		logs.entries = append(logs.entries, storage.LogEntry{
			ID: int64(i + 1), At: time.Now(), Category: "weather", Status: storage.StatusSuccess,
		})
	}
	s, _ := newTestServer(newFakeScheduler(), logs)

	rec := doRequest(t, s, http.MethodGet, "/api/logs")
	if rec.Code != http.StatusOK {
		t.Fatalf("logs = %d", rec.Code)
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 50 {
		t.Fatalf("default limit returned %d entries", len(entries))
	}

	rec = doRequest(t, s, http.MethodGet, "/api/logs?limit=10")
	entries = nil
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 10 {
		t.Fatalf("limit=10 returned %d entries", len(entries))
	}

	if rec := doRequest(t, s, http.MethodGet, "/api/logs?limit=0"); rec.Code != http.StatusBadRequest {
		t.Fatalf("limit=0 = %d, want 400", rec.Code)
	}
	if rec := doRequest(t, s, http.MethodGet, "/api/logs?limit=headache"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit = %d, want 400", rec.Code)
	}
}

func TestCreateReminderRejectsPastTarget(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	s, _ := newTestServer(newFakeScheduler(), store)

	past := time.Now().Add(-time.Minute).Format(time.RFC3339)
	cases := []struct {
		name string
		body string
	}{
		{"past target", `{"message":"too late","target_at":"` + past + `"}`},
		{"target equal to now", `{"message":"right now","target_at":"` + time.Now().Format(time.RFC3339) + `"}`},
		{"empty message", `{"message":"  ","target_at":"2099-01-01T00:00:00Z"}`},
		{"missing target", `{"message":"no time"}`},
		{"unparseable target", `{"message":"bad time","target_at":"tomorrow"}`},
	}
	for _, tc := range cases {
		if rec := doJSON(t, s, http.MethodPost, "/api/reminders", tc.body); rec.Code != http.StatusBadRequest {
			t.Errorf("%s = %d, want 400", tc.name, rec.Code)
		}
	}
	if len(store.reminders) != 0 {
		t.Fatalf("rejected requests created %d reminders", len(store.reminders))
	}
}

func TestReminderEndpoints(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	s, _ := newTestServer(newFakeScheduler(), store)

	target := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Second)
	body := `{"message":"stretch","target_at":"` + target.Format(time.RFC3339) + `"}`
	rec := doJSON(t, s, http.MethodPost, "/api/reminders", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d: %s", rec.Code, rec.Body.String())
	}
	var created reminderDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == 0 || created.Message != "stretch" || !created.TargetAt.Equal(target) {
		t.Fatalf("created = %+v", created)
	}

	rec = doRequest(t, s, http.MethodGet, "/api/reminders")
	if rec.Code != http.StatusOK {
		t.Fatalf("list = %d", rec.Code)
	}
	var listed []reminderDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != created.ID {
		t.Fatalf("listed = %+v", listed)
	}

	if rec := doRequest(t, s, http.MethodDelete, "/api/reminders/1"); rec.Code != http.StatusOK {
		t.Fatalf("delete = %d", rec.Code)
	}
	if len(store.reminders) != 0 {
		t.Fatal("reminder survived delete")
	}
	if rec := doRequest(t, s, http.MethodDelete, "/api/reminders/1"); rec.Code != http.StatusNotFound {
		t.Fatalf("second delete = %d, want 404", rec.Code)
	}
	if rec := doRequest(t, s, http.MethodDelete, "/api/reminders/soon"); rec.Code != http.StatusBadRequest {
		t.Fatalf("non-numeric id = %d, want 400", rec.Code)
	}
}

func TestPriceAlertEndpoints(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	s, _ := newTestServer(newFakeScheduler(), store)

	rec := doJSON(t, s, http.MethodPost, "/api/alerts", `{"symbol":"NVDA","threshold":1200.5,"above":true}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d: %s", rec.Code, rec.Body.String())
	}
	var created alertDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID != 1 || created.Symbol != "NVDA" || !created.Above {
		t.Fatalf("created = %+v", created)
	}

	for _, body := range []string{
		`{"symbol":"","threshold":100}`,
		`{"symbol":"NVDA","threshold":0}`,
		`{"symbol":"NVDA","threshold":-5}`,
	} {
		if rec := doJSON(t, s, http.MethodPost, "/api/alerts", body); rec.Code != http.StatusBadRequest {
			t.Errorf("POST %s = %d, want 400", body, rec.Code)
		}
	}

	rec = doRequest(t, s, http.MethodGet, "/api/alerts")
	var listed []alertDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("listed = %+v", listed)
	}

	if rec := doRequest(t, s, http.MethodDelete, "/api/alerts/1"); rec.Code != http.StatusOK {
		t.Fatalf("delete = %d", rec.Code)
	}
	if store.alerts[0].Active {
		t.Fatal("alert still active after delete")
	}
	if rec := doRequest(t, s, http.MethodDelete, "/api/alerts/1"); rec.Code != http.StatusNotFound {
		t.Fatalf("delete inactive = %d, want 404", rec.Code)
	}
}

func TestUserEndpoints(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.user.KakaoAccessToken = "kakao-token"
	s, _ := newTestServer(newFakeScheduler(), store)

	rec := doRequest(t, s, http.MethodGet, "/api/user")
	if rec.Code != http.StatusOK {
		t.Fatalf("get user = %d", rec.Code)
	}
	var u userDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &u); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if u.ID != 1 || u.KakaoAccessToken != "kakao-token" {
		t.Fatalf("user = %+v", u)
	}

	// Absent fields stay untouched; present fields are applied verbatim.
	rec = doJSON(t, s, http.MethodPut, "/api/user", `{"telegram_chat_id":"123456"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("put user = %d: %s", rec.Code, rec.Body.String())
	}
	if store.user.TelegramChatID != "123456" || store.user.KakaoAccessToken != "kakao-token" {
		t.Fatalf("user after partial update = %+v", store.user)
	}

	// Explicit empty string unlinks the channel.
	rec = doJSON(t, s, http.MethodPut, "/api/user", `{"kakao_access_token":""}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unlink = %d", rec.Code)
	}
	if store.user.KakaoAccessToken != "" || store.user.TelegramChatID != "123456" {
		t.Fatalf("user after unlink = %+v", store.user)
	}
}

func TestSettingEndpoints(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	s, orch := newTestServer(newFakeScheduler(), store)

	if rec := doRequest(t, s, http.MethodGet, "/api/settings/weather"); rec.Code != http.StatusNotFound {
		t.Fatalf("unconfigured = %d, want 404", rec.Code)
	}
	if rec := doRequest(t, s, http.MethodGet, "/api/settings/horoscope"); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown category = %d, want 404", rec.Code)
	}

	rec := doJSON(t, s, http.MethodPut, "/api/settings/weather",
		`{"notification_time":"06:30","is_active":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("put = %d: %s", rec.Code, rec.Body.String())
	}
	st, ok := store.settings["weather"]
	if !ok || st.NotificationTime != "06:30" || !st.IsActive {
		t.Fatalf("stored = %+v", st)
	}
	if len(orch.converged) != 1 || orch.converged[0] != "weather" {
		t.Fatalf("converged = %v", orch.converged)
	}

	rec = doRequest(t, s, http.MethodGet, "/api/settings/weather")
	if rec.Code != http.StatusOK {
		t.Fatalf("get = %d", rec.Code)
	}
	var dto settingDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &dto); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dto.NotificationTime != "06:30" {
		t.Fatalf("dto = %+v", dto)
	}

	cases := []struct {
		target string
		body   string
	}{
		{"/api/settings/weather", `{"notification_time":"25:00","is_active":true}`},
		{"/api/settings/weather", `{"is_active":true}`},
		{"/api/settings/finance", `{"notification_time":"22:00","config_json":"{broken","is_active":true}`},
	}
	for _, tc := range cases {
		if rec := doJSON(t, s, http.MethodPut, tc.target, tc.body); rec.Code != http.StatusBadRequest {
			t.Errorf("PUT %s %s = %d, want 400", tc.target, tc.body, rec.Code)
		}
	}
	if rec := doJSON(t, s, http.MethodPut, "/api/settings/horoscope",
		`{"notification_time":"06:30","is_active":true}`); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown category put = %d, want 404", rec.Code)
	}
}
