package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/chousei-app/chousei/backend/internal/auth"
	"github.com/chousei-app/chousei/backend/internal/schedule"
	"github.com/chousei-app/chousei/backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const userIDContextKey = "chousei_user_id"

var (
	errMissingProviders       = errors.New("at least one login provider required")
	errMissingTokenManager    = errors.New("token manager dependency required")
	errMissingScheduleService = errors.New("schedule service dependency required")
	errMissingUserService     = errors.New("user service dependency required")
	errInvalidAuthorization   = errors.New("authorization header missing or invalid")
)

// TokenManager mints and validates the backend bearer tokens.
type TokenManager interface {
	IssueToken(ctx context.Context, subject string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies wires the HTTP layer to the services behind it.
type Dependencies struct {
	Providers       []auth.Provider
	TokenManager    TokenManager
	ScheduleService *schedule.Service
	UserService     *users.Service
	Logger          *zap.Logger
}

// NewHTTPHandler builds the gin router for the schedule arranger API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if len(deps.Providers) == 0 {
		return nil, errMissingProviders
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.ScheduleService == nil {
		return nil, errMissingScheduleService
	}
	if deps.UserService == nil {
		return nil, errMissingUserService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	providers := make(map[string]auth.Provider, len(deps.Providers))
	for _, provider := range deps.Providers {
		providers[provider.Name()] = provider
	}

	handler := &httpHandler{
		providers: providers,
		tokens:    deps.TokenManager,
		schedules: deps.ScheduleService,
		users:     deps.UserService,
		logger:    logger,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	router.POST("/auth/:provider", handler.handleLogin)

	// Viewing a schedule and reading comments are open: the matrix builder
	// handles anonymous viewers.
	router.GET("/schedules/:scheduleId", handler.resolveOptionalUser, handler.handleShowSchedule)
	router.GET("/schedules/:scheduleId/comments", handler.handleListComments)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/schedules", handler.handleListOwned)
	protected.POST("/schedules", handler.handleCreateSchedule)
	protected.GET("/schedules/:scheduleId/edit", handler.handleEditSchedule)
	protected.POST("/schedules/:scheduleId/update", handler.handleUpdateSchedule)
	protected.POST("/schedules/:scheduleId/delete", handler.handleDeleteSchedule)
	protected.POST("/schedules/:scheduleId/users/:userId/candidates/:candidateId", handler.handleSetAvailability)
	protected.GET("/schedules/:scheduleId/users/:userId/candidates/:candidateId", handler.handleGetAvailability)
	protected.POST("/schedules/:scheduleId/users/:userId/comments", handler.handleSetComment)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	})
}

type httpHandler struct {
	providers map[string]auth.Provider
	tokens    TokenManager
	schedules *schedule.Service
	users     *users.Service
	logger    *zap.Logger
}

// fieldError carries one field-level validation message. Requests failing
// shape validation are rejected with the collected messages before any
// storage access.
type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func respondValidationErrors(c *gin.Context, fieldErrors []fieldError) {
	c.JSON(http.StatusBadRequest, gin.H{"status": "NG", "errors": fieldErrors})
}

func (h *httpHandler) respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, schedule.ErrScheduleNotFound), errors.Is(err, schedule.ErrCandidateNotFound):
		c.JSON(http.StatusNotFound, gin.H{"status": "NG", "error": "not_found"})
	case errors.Is(err, schedule.ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"status": "NG", "error": "no_permission"})
	default:
		h.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "NG", "error": "internal_error"})
	}
}

type loginRequestPayload struct {
	Credential string `json:"credential"`
}

type loginResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	provider, ok := h.providers[c.Param("provider")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_provider"})
		return
	}

	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Credential) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	verified, err := provider.VerifyCredentials(c.Request.Context(), request.Credential)
	if err != nil {
		h.logger.Warn("credential verification failed",
			zap.String("provider", provider.Name()),
			zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if _, err := h.users.Upsert(c.Request.Context(), verified.Subject, verified.Username, provider.Name()); err != nil {
		h.logger.Error("failed to upsert account", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "account_upsert_failed"})
		return
	}

	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), verified.Subject)
	if err != nil {
		h.logger.Error("failed to issue backend token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, loginResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

func (h *httpHandler) handleListOwned(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	schedules, err := h.schedules.ListOwned(c.Request.Context(), userID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"schedules": schedules})
}

type schedulePayload struct {
	ScheduleName *string `json:"scheduleName"`
	Memo         *string `json:"memo"`
	Candidates   *string `json:"candidates"`
}

func (p schedulePayload) validate() []fieldError {
	var fieldErrors []fieldError
	if p.ScheduleName == nil {
		fieldErrors = append(fieldErrors, fieldError{Field: "scheduleName", Message: "must be a string"})
	}
	if p.Memo == nil {
		fieldErrors = append(fieldErrors, fieldError{Field: "memo", Message: "must be a string"})
	}
	if p.Candidates == nil {
		fieldErrors = append(fieldErrors, fieldError{Field: "candidates", Message: "must be a string"})
	}
	return fieldErrors
}

func (h *httpHandler) handleCreateSchedule(c *gin.Context) {
	var request schedulePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondValidationErrors(c, []fieldError{{Field: "body", Message: "malformed request body"}})
		return
	}
	if fieldErrors := request.validate(); len(fieldErrors) > 0 {
		respondValidationErrors(c, fieldErrors)
		return
	}

	userID := c.GetString(userIDContextKey)
	scheduleID, err := h.schedules.Create(c.Request.Context(), userID, *request.ScheduleName, *request.Memo, *request.Candidates)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"scheduleId": scheduleID.String()})
}

func (h *httpHandler) handleShowSchedule(c *gin.Context) {
	scheduleID, fieldErrors := scheduleIDParam(c)
	if len(fieldErrors) > 0 {
		respondValidationErrors(c, fieldErrors)
		return
	}

	view, err := h.schedules.BuildScheduleView(c.Request.Context(), scheduleID, h.viewer(c))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *httpHandler) handleEditSchedule(c *gin.Context) {
	scheduleID, fieldErrors := scheduleIDParam(c)
	if len(fieldErrors) > 0 {
		respondValidationErrors(c, fieldErrors)
		return
	}

	userID := c.GetString(userIDContextKey)
	record, candidates, err := h.schedules.EditView(c.Request.Context(), userID, scheduleID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"schedule": record, "candidates": candidates})
}

func (h *httpHandler) handleUpdateSchedule(c *gin.Context) {
	scheduleID, fieldErrors := scheduleIDParam(c)
	var request schedulePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		fieldErrors = append(fieldErrors, fieldError{Field: "body", Message: "malformed request body"})
	} else {
		fieldErrors = append(fieldErrors, request.validate()...)
	}
	if len(fieldErrors) > 0 {
		respondValidationErrors(c, fieldErrors)
		return
	}

	userID := c.GetString(userIDContextKey)
	if err := h.schedules.Update(c.Request.Context(), userID, scheduleID, *request.ScheduleName, *request.Memo, *request.Candidates); err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "OK", "scheduleId": scheduleID.String()})
}

func (h *httpHandler) handleDeleteSchedule(c *gin.Context) {
	scheduleID, fieldErrors := scheduleIDParam(c)
	if len(fieldErrors) > 0 {
		respondValidationErrors(c, fieldErrors)
		return
	}

	userID := c.GetString(userIDContextKey)
	record, err := h.schedules.Get(c.Request.Context(), scheduleID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	if !schedule.IsOwner(userID, &record) {
		c.JSON(http.StatusForbidden, gin.H{"status": "NG", "error": "no_permission"})
		return
	}

	if err := h.schedules.DeleteAggregate(c.Request.Context(), scheduleID); err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "OK"})
}

type availabilityPayload struct {
	Availability *int `json:"availability"`
}

func (h *httpHandler) handleSetAvailability(c *gin.Context) {
	scheduleID, candidateID, userID, fieldErrors := availabilityParams(c)

	var request availabilityPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Availability == nil {
		fieldErrors = append(fieldErrors, fieldError{Field: "availability", Message: "must be an integer"})
	} else if _, err := schedule.ParseAvailabilityValue(*request.Availability); err != nil {
		fieldErrors = append(fieldErrors, fieldError{Field: "availability", Message: "must be 0, 1 or 2"})
	}
	if len(fieldErrors) > 0 {
		respondValidationErrors(c, fieldErrors)
		return
	}

	if !schedule.SameIdentity(userID, c.GetString(userIDContextKey)) {
		c.JSON(http.StatusForbidden, gin.H{"status": "NG", "error": "user_mismatch"})
		return
	}

	stored, err := h.schedules.SetAvailability(c.Request.Context(), userID, scheduleID, candidateID, *request.Availability)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "OK", "availability": stored})
}

func (h *httpHandler) handleGetAvailability(c *gin.Context) {
	scheduleID, candidateID, userID, fieldErrors := availabilityParams(c)
	if len(fieldErrors) > 0 {
		respondValidationErrors(c, fieldErrors)
		return
	}

	if !schedule.SameIdentity(userID, c.GetString(userIDContextKey)) {
		c.JSON(http.StatusForbidden, gin.H{"status": "NG", "error": "user_mismatch"})
		return
	}

	rows, err := h.schedules.GetAvailability(c.Request.Context(), userID, scheduleID, candidateID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "OK", "availabilities": rows})
}

type commentPayload struct {
	Comment *string `json:"comment"`
}

func (h *httpHandler) handleSetComment(c *gin.Context) {
	scheduleID, fieldErrors := scheduleIDParam(c)
	userID, err := schedule.ParseUserID(c.Param("userId"))
	if err != nil {
		fieldErrors = append(fieldErrors, fieldError{Field: "userId", Message: "must be an integer"})
	}

	var request commentPayload
	if bindErr := c.ShouldBindJSON(&request); bindErr != nil || request.Comment == nil {
		fieldErrors = append(fieldErrors, fieldError{Field: "comment", Message: "must be a string"})
	}
	if len(fieldErrors) > 0 {
		respondValidationErrors(c, fieldErrors)
		return
	}

	if !schedule.SameIdentity(userID, c.GetString(userIDContextKey)) {
		c.JSON(http.StatusForbidden, gin.H{"status": "NG", "error": "user_mismatch"})
		return
	}

	stored, err := h.schedules.SetComment(c.Request.Context(), userID, scheduleID, *request.Comment)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "OK", "comment": stored})
}

func (h *httpHandler) handleListComments(c *gin.Context) {
	scheduleID, fieldErrors := scheduleIDParam(c)
	if len(fieldErrors) > 0 {
		respondValidationErrors(c, fieldErrors)
		return
	}

	rows, err := h.schedules.ListComments(c.Request.Context(), scheduleID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "OK", "comments": rows})
}

// authorizeRequest requires a valid bearer token and stores its subject in
// the request context.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	subject, err := h.bearerSubject(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

// resolveOptionalUser accepts anonymous requests but still rejects bearer
// tokens that are present and invalid.
func (h *httpHandler) resolveOptionalUser(c *gin.Context) {
	if c.GetHeader("Authorization") == "" {
		c.Next()
		return
	}
	subject, err := h.bearerSubject(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

func (h *httpHandler) bearerSubject(c *gin.Context) (string, error) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", errInvalidAuthorization
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", errInvalidAuthorization
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		return "", err
	}
	return subject, nil
}

func (h *httpHandler) viewer(c *gin.Context) schedule.Viewer {
	subject := c.GetString(userIDContextKey)
	if subject == "" {
		return schedule.Viewer{}
	}
	username := subject
	if account, err := h.users.Get(c.Request.Context(), subject); err == nil {
		username = account.Username
	}
	return schedule.Viewer{UserID: subject, Username: username}
}

func scheduleIDParam(c *gin.Context) (schedule.ScheduleID, []fieldError) {
	scheduleID, err := schedule.NewScheduleID(c.Param("scheduleId"))
	if err != nil {
		return "", []fieldError{{Field: "scheduleId", Message: "must be a version-4 UUID"}}
	}
	return scheduleID, nil
}

func availabilityParams(c *gin.Context) (schedule.ScheduleID, int64, string, []fieldError) {
	scheduleID, fieldErrors := scheduleIDParam(c)
	candidateID, err := schedule.ParseCandidateID(c.Param("candidateId"))
	if err != nil {
		fieldErrors = append(fieldErrors, fieldError{Field: "candidateId", Message: "must be an integer"})
	}
	userID, err := schedule.ParseUserID(c.Param("userId"))
	if err != nil {
		fieldErrors = append(fieldErrors, fieldError{Field: "userId", Message: "must be an integer"})
	}
	return scheduleID, candidateID, userID, fieldErrors
}
