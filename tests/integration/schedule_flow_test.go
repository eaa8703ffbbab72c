package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chousei-app/chousei/backend/internal/auth"
	"github.com/chousei-app/chousei/backend/internal/database"
	"github.com/chousei-app/chousei/backend/internal/schedule"
	"github.com/chousei-app/chousei/backend/internal/server"
	"github.com/chousei-app/chousei/backend/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func startServer(t *testing.T) *httptest.Server {
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
		SigningSecret: []byte("integration-secret"),
		Issuer:        "chousei-auth",
		Audience:      "chousei-api",
		TokenTTL:      15 * time.Minute,
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
	handler, err := server.NewHTTPHandler(server.Dependencies{
		Providers:       []auth.Provider{localProvider},
		TokenManager:    tokenManager,
		ScheduleService: scheduleService,
		UserService:     userService,
	})
	if err != nil {
		t.Fatalf("construct handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	t.Cleanup(testServer.Close)
	return testServer
}

func request(t *testing.T, method, url, token string, body interface{}, target interface{}) int {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	httpRequest, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != nil {
		httpRequest.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		httpRequest.Header.Set("Authorization", "Bearer "+token)
	}

	response, err := http.DefaultClient.Do(httpRequest)
	if err != nil {
		t.Fatalf("perform request: %v", err)
	}
	defer response.Body.Close()

	payload, err := io.ReadAll(response.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if target != nil {
		if err := json.Unmarshal(payload, target); err != nil {
			t.Fatalf("decode response %q: %v", string(payload), err)
		}
	}
	return response.StatusCode
}

func login(t *testing.T, baseURL, username, password string) string {
	t.Helper()
	var response struct {
		AccessToken string `json:"access_token"`
	}
	status := request(t, http.MethodPost, baseURL+"/auth/local", "",
		map[string]string{"credential": username + ":" + password}, &response)
	if status != http.StatusOK {
		t.Fatalf("login failed with status %d", status)
	}
	return response.AccessToken
}

type viewPayload struct {
	Schedule struct {
		ScheduleName string `json:"scheduleName"`
	} `json:"schedule"`
	Candidates []struct {
		CandidateID   int64  `json:"candidateId"`
		CandidateName string `json:"candidateName"`
	} `json:"candidates"`
	Users []struct {
		IsSelf   bool   `json:"isSelf"`
		UserID   string `json:"userId"`
		Username string `json:"username"`
	} `json:"users"`
	Availabilities map[string]map[string]int `json:"availabilities"`
	Comments       map[string]string         `json:"comments"`
}

// The full arrangement flow: alice creates a poll, bob responds and comments,
// alice reads the assembled matrix and finally tears the poll down.
func TestScheduleArrangementFlow(t *testing.T) {
	testServer := startServer(t)
	baseURL := testServer.URL

	aliceToken := login(t, baseURL, "alice", "alice-password")
	bobToken := login(t, baseURL, "bob", "bob-password")

	var created struct {
		ScheduleID string `json:"scheduleId"`
	}
	status := request(t, http.MethodPost, baseURL+"/schedules", aliceToken, map[string]string{
		"scheduleName": "Team dinner",
		"memo":         "somewhere near the office",
		"candidates":   "Monday 19:00\nTuesday 19:00",
	}, &created)
	if status != http.StatusCreated {
		t.Fatalf("create failed with status %d", status)
	}

	var view viewPayload
	status = request(t, http.MethodGet, baseURL+"/schedules/"+created.ScheduleID, bobToken, nil, &view)
	if status != http.StatusOK {
		t.Fatalf("view failed with status %d", status)
	}
	if len(view.Candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(view.Candidates))
	}
	firstCandidate := view.Candidates[0].CandidateID

	availabilityURL := fmt.Sprintf("%s/schedules/%s/users/2002/candidates/%d", baseURL, created.ScheduleID, firstCandidate)
	status = request(t, http.MethodPost, availabilityURL, bobToken, map[string]int{"availability": 2}, nil)
	if status != http.StatusOK {
		t.Fatalf("set availability failed with status %d", status)
	}

	commentURL := baseURL + "/schedules/" + created.ScheduleID + "/users/2002/comments"
	status = request(t, http.MethodPost, commentURL, bobToken, map[string]string{"comment": "monday works"}, nil)
	if status != http.StatusOK {
		t.Fatalf("set comment failed with status %d", status)
	}

	status = request(t, http.MethodGet, baseURL+"/schedules/"+created.ScheduleID, aliceToken, nil, &view)
	if status != http.StatusOK {
		t.Fatalf("owner view failed with status %d", status)
	}
	if view.Schedule.ScheduleName != "Team dinner" {
		t.Fatalf("unexpected schedule name %q", view.Schedule.ScheduleName)
	}
	if len(view.Users) != 2 {
		t.Fatalf("expected alice and bob in the grid, got %#v", view.Users)
	}
	if view.Users[0].UserID != "1001" || !view.Users[0].IsSelf {
		t.Fatalf("expected the viewer first and marked self, got %#v", view.Users[0])
	}
	if view.Users[1].Username != "bob" {
		t.Fatalf("expected bob's display name, got %#v", view.Users[1])
	}
	for _, user := range view.Users {
		if len(view.Availabilities[user.UserID]) != 2 {
			t.Fatalf("expected dense row for %s, got %#v", user.UserID, view.Availabilities)
		}
	}
	if view.Availabilities["2002"][fmt.Sprint(firstCandidate)] != 2 {
		t.Fatalf("expected bob's response in the grid")
	}
	if view.Availabilities["1001"][fmt.Sprint(firstCandidate)] != 0 {
		t.Fatalf("expected alice to default to absent")
	}
	if view.Comments["2002"] != "monday works" {
		t.Fatalf("expected bob's comment in the view, got %#v", view.Comments)
	}

	status = request(t, http.MethodPost, baseURL+"/schedules/"+created.ScheduleID+"/delete", aliceToken, nil, nil)
	if status != http.StatusOK {
		t.Fatalf("delete failed with status %d", status)
	}
	status = request(t, http.MethodGet, baseURL+"/schedules/"+created.ScheduleID, "", nil, nil)
	if status != http.StatusNotFound {
		t.Fatalf("expected deleted schedule to vanish, got status %d", status)
	}
}
