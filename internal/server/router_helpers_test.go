package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chousei-app/chousei/backend/internal/auth"
	"github.com/chousei-app/chousei/backend/internal/database"
	"github.com/chousei-app/chousei/backend/internal/schedule"
	"github.com/chousei-app/chousei/backend/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type testEnv struct {
	handler http.Handler
}

// newTestEnv assembles the full HTTP stack against an in-memory database with
// two static local logins: alice (subject 1001) and bob (subject 2002).
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := database.OpenSQLite(dsn, zap.NewNop())
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap database: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "chousei-auth",
		Audience:      "chousei-api",
		TokenTTL:      30 * time.Minute,
	})
	if err != nil {
		t.Fatalf("construct token issuer: %v", err)
	}

	localProvider, err := auth.NewLocalProvider([]string{
		"1001:alice:alice-password",
		"2002:bob:bob-password",
	})
	if err != nil {
		t.Fatalf("construct local provider: %v", err)
	}

	userService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("construct user service: %v", err)
	}
	scheduleService, err := schedule.NewService(schedule.ServiceConfig{
		Database:   db,
		IDProvider: schedule.NewUUIDProvider(),
		Directory:  userService,
	})
	if err != nil {
		t.Fatalf("construct schedule service: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Providers:       []auth.Provider{localProvider},
		TokenManager:    tokenManager,
		ScheduleService: scheduleService,
		UserService:     userService,
	})
	if err != nil {
		t.Fatalf("construct handler: %v", err)
	}
	return &testEnv{handler: handler}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	request := httptest.NewRequest(method, path, reader)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	e.handler.ServeHTTP(recorder, request)
	return recorder
}

// login authenticates against the local provider and returns a backend token.
func (e *testEnv) login(t *testing.T, username, password string) string {
	t.Helper()
	recorder := e.do(t, http.MethodPost, "/auth/local", "", map[string]string{
		"credential": username + ":" + password,
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("login failed with status %d: %s", recorder.Code, recorder.Body.String())
	}
	var response struct {
		AccessToken string `json:"access_token"`
	}
	decodeJSON(t, recorder, &response)
	if response.AccessToken == "" {
		t.Fatalf("expected access token in login response")
	}
	return response.AccessToken
}

// createSchedule posts a schedule and returns its id.
func (e *testEnv) createSchedule(t *testing.T, token, name, memo, candidates string) string {
	t.Helper()
	recorder := e.do(t, http.MethodPost, "/schedules", token, map[string]string{
		"scheduleName": name,
		"memo":         memo,
		"candidates":   candidates,
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("create schedule failed with status %d: %s", recorder.Code, recorder.Body.String())
	}
	var response struct {
		ScheduleID string `json:"scheduleId"`
	}
	decodeJSON(t, recorder, &response)
	if response.ScheduleID == "" {
		t.Fatalf("expected schedule id in response")
	}
	return response.ScheduleID
}

func decodeJSON(t *testing.T, recorder *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
}
