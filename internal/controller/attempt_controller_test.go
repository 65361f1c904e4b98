package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"exam_platform_backend/internal/config"
	"exam_platform_backend/internal/middleware"
	"exam_platform_backend/internal/model"
	"exam_platform_backend/internal/repository"
	"exam_platform_backend/internal/service"
	"exam_platform_backend/internal/testutil"
	"exam_platform_backend/internal/util"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

var testCfg = &config.Config{
	JWT: config.JWTConfig{Secret: "controller-test-secret", ExpireTime: time.Hour, Issuer: "exam-platform", Audience: "exam-platform-api"},
	OTP: config.OTPConfig{Secret: "controller-otp-secret", TTL: time.Minute, Cooldown: time.Minute, MaxAttempts: 3},
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type attemptEnv struct {
	router *gin.Engine
	clock  *testutil.Clock
}

func newAttemptEnv(t *testing.T) *attemptEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	paper := &model.Paper{Title: "p", DurationSec: 1800}
	paper.ID = 1
	q := model.PaperQuestion{PaperID: 1, Position: 1, CorrectAnswer: "a", Points: 1}
	q.ID = 1
	paper.Questions = []model.PaperQuestion{q}

	clock := testutil.NewClock(t0)
	svc := service.NewAttemptService(repository.NewMemoryAttemptStore(), repository.NewMemoryPaperCatalog(paper))
	svc.Now = clock.Now

	ctrl := NewAttemptController(svc)
	router := gin.New()
	api := router.Group("/api", middleware.AuthMiddleware(testCfg))
	api.POST("/papers/:id/attempts", ctrl.Start)
	api.GET("/attempts/:id", ctrl.Get)
	api.PUT("/attempts/:id/answers", ctrl.SaveAnswers)
	api.POST("/attempts/:id/submit", ctrl.Submit)
	admin := router.Group("/api/admin", middleware.AuthMiddleware(testCfg), middleware.RoleMiddleware(model.Admin))
	admin.POST("/attempts/:id/autosubmit", ctrl.AutoSubmit)

	return &attemptEnv{router: router, clock: clock}
}

func tokenFor(t *testing.T, userID uint, role model.UserRole) string {
	t.Helper()
	u := &model.User{Email: fmt.Sprintf("u%d@example.com", userID), Role: role}
	u.ID = userID
	tok, err := util.GenerateJWT(u, testCfg.JWT)
	require.NoError(t, err)
	return tok
}

func (e *attemptEnv) do(t *testing.T, method, path, token string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func decodeAttempt(t *testing.T, env envelope) model.Attempt {
	t.Helper()
	var a model.Attempt
	require.NoError(t, json.Unmarshal(env.Data, &a))
	return a
}

func TestAttemptLifecycleOverHTTP(t *testing.T) {
	e := newAttemptEnv(t)
	alice := tokenFor(t, 7, model.Student)

	w, env := e.do(t, http.MethodPost, "/api/papers/1/attempts", alice, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	started := decodeAttempt(t, env)
	assert.Equal(t, model.AttemptInProgress, started.Status)
	assert.Equal(t, 1800, started.DurationSec)

	w, env = e.do(t, http.MethodPost, "/api/papers/1/attempts", alice, nil)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, started.ID, decodeAttempt(t, env).ID)

	path := fmt.Sprintf("/api/attempts/%d", started.ID)
	w, _ = e.do(t, http.MethodPut, path+"/answers", alice, AnswersRequest{Answers: model.Answers{1: "A"}})
	require.Equal(t, http.StatusOK, w.Code)

	e.clock.Set(t0.Add(1000 * time.Second))
	w, env = e.do(t, http.MethodPost, path+"/submit", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	submitted := decodeAttempt(t, env)
	assert.Equal(t, model.AttemptSubmitted, submitted.Status)
	require.NotNil(t, submitted.Score)
	assert.Equal(t, 1, *submitted.Score)

	// 重复交卷返回已有结果
	w, env = e.do(t, http.MethodPost, path+"/submit", alice, AnswersRequest{Answers: model.Answers{1: "b"}})
	require.Equal(t, http.StatusOK, w.Code)
	again := decodeAttempt(t, env)
	assert.Equal(t, 1, *again.Score)

	w, env = e.do(t, http.MethodGet, path, alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.AttemptSubmitted, decodeAttempt(t, env).Status)
}

func TestSubmitAfterDeadlineReturns422(t *testing.T) {
	e := newAttemptEnv(t)
	alice := tokenFor(t, 7, model.Student)

	_, env := e.do(t, http.MethodPost, "/api/papers/1/attempts", alice, nil)
	started := decodeAttempt(t, env)

	e.clock.Set(t0.Add(1801 * time.Second))
	w, env := e.do(t, http.MethodPost, fmt.Sprintf("/api/attempts/%d/submit", started.ID), alice, AnswersRequest{Answers: model.Answers{1: "a"}})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "deadline exceeded", env.Message)
}

func TestAttemptOwnership(t *testing.T) {
	e := newAttemptEnv(t)
	alice := tokenFor(t, 7, model.Student)
	mallory := tokenFor(t, 8, model.Student)
	admin := tokenFor(t, 1, model.Admin)

	_, env := e.do(t, http.MethodPost, "/api/papers/1/attempts", alice, nil)
	path := fmt.Sprintf("/api/attempts/%d", decodeAttempt(t, env).ID)

	w, _ := e.do(t, http.MethodGet, path, mallory, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, _ = e.do(t, http.MethodPost, path+"/submit", mallory, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = e.do(t, http.MethodGet, path, admin, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAttemptErrors(t *testing.T) {
	e := newAttemptEnv(t)
	alice := tokenFor(t, 7, model.Student)

	cases := []struct {
		method, path, token string
		want                int
	}{
		{http.MethodPost, "/api/papers/1/attempts", "", http.StatusUnauthorized},
		{http.MethodPost, "/api/papers/1/attempts", "garbage", http.StatusUnauthorized},
		{http.MethodPost, "/api/papers/99/attempts", alice, http.StatusNotFound},
		{http.MethodPost, "/api/papers/abc/attempts", alice, http.StatusBadRequest},
		{http.MethodGet, "/api/attempts/404", alice, http.StatusNotFound},
		{http.MethodGet, "/api/attempts/0", alice, http.StatusBadRequest},
	}
	for _, tc := range cases {
		w, _ := e.do(t, tc.method, tc.path, tc.token, nil)
		assert.Equal(t, tc.want, w.Code, "%s %s", tc.method, tc.path)
	}
}

func TestAdminAutoSubmit(t *testing.T) {
	e := newAttemptEnv(t)
	alice := tokenFor(t, 7, model.Student)
	admin := tokenFor(t, 1, model.Admin)

	_, env := e.do(t, http.MethodPost, "/api/papers/1/attempts", alice, nil)
	path := fmt.Sprintf("/api/admin/attempts/%d/autosubmit", decodeAttempt(t, env).ID)

	w, _ := e.do(t, http.MethodPost, path, alice, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	var res struct {
		Attempt model.Attempt `json:"attempt"`
		Closed  bool          `json:"closed"`
	}
	w, env = e.do(t, http.MethodPost, path, admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.False(t, res.Closed)

	e.clock.Set(t0.Add(1800 * time.Second))
	w, env = e.do(t, http.MethodPost, path, admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.True(t, res.Closed)
	assert.Equal(t, model.AttemptAutoSubmitted, res.Attempt.Status)
}

type captureMailer struct {
	mu   sync.Mutex
	last string
}

func (m *captureMailer) SendOTP(_ context.Context, _, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = code
	return nil
}

func TestOTPLoginOverHTTP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := testutil.NewTestDB(t)
	mailer := &captureMailer{}
	otp := service.NewOTPService(service.NewMemoryOTPStore(), mailer, testCfg.OTP)
	auth := service.NewAuthService(repository.NewUserRepository(db), otp, testCfg)
	ctrl := NewAuthController(auth)

	router := gin.New()
	router.POST("/api/auth/otp/request", ctrl.RequestOTP)
	router.POST("/api/auth/otp/verify", ctrl.VerifyOTP)
	e := &attemptEnv{router: router}

	w, env := e.do(t, http.MethodPost, "/api/auth/otp/request", "", OTPRequest{Email: "new@example.com"})
	require.Equal(t, http.StatusOK, w.Code)
	var issued struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &issued))

	w, _ = e.do(t, http.MethodPost, "/api/auth/otp/request", "", OTPRequest{Email: "new@example.com"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	w, _ = e.do(t, http.MethodPost, "/api/auth/otp/verify", "", OTPVerifyRequest{Token: issued.Token, Code: wrong(mailer.last)})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, env = e.do(t, http.MethodPost, "/api/auth/otp/verify", "", OTPVerifyRequest{Token: issued.Token, Code: mailer.last})
	require.Equal(t, http.StatusOK, w.Code)
	var login struct {
		Token string     `json:"token"`
		User  model.User `json:"user"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &login))
	assert.Equal(t, "new@example.com", login.User.Email)

	claims, err := util.ParseJWT(login.Token, testCfg.JWT)
	require.NoError(t, err)
	assert.Equal(t, login.User.ID, claims.UserID)

	// 同一令牌不能再次登录
	w, _ = e.do(t, http.MethodPost, "/api/auth/otp/verify", "", OTPVerifyRequest{Token: issued.Token, Code: mailer.last})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = e.do(t, http.MethodPost, "/api/auth/otp/request", "", OTPRequest{Email: "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func wrong(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}
