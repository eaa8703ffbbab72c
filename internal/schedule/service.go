package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingDirectory  = errors.New("user directory is required")
	noOpLogger           = zap.NewNop()
)

var (
	// ErrScheduleNotFound indicates the referenced schedule does not exist.
	// Deleted and never-created schedules are indistinguishable.
	ErrScheduleNotFound = errors.New("schedule: not found")
	// ErrCandidateNotFound indicates the candidate does not exist or does not
	// belong to the referenced schedule.
	ErrCandidateNotFound = errors.New("schedule: candidate not found")
	// ErrNotOwner indicates the acting user did not create the schedule.
	ErrNotOwner = errors.New("schedule: viewer is not the owner")
)

// ServiceError wraps failures with a stable operation.reason code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the stable operation.reason identifier.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew      = "schedule.service.new"
	opCreate          = "schedule.create"
	opUpdate          = "schedule.update"
	opDeleteAggregate = "schedule.delete_aggregate"
	opBuildView       = "schedule.build_view"
	opEditView        = "schedule.edit_view"
	opGet             = "schedule.get"
	opListOwned       = "schedule.list_owned"
	opSetAvailability = "schedule.set_availability"
	opGetAvailability = "schedule.get_availability"
	opSetComment      = "schedule.set_comment"
	opListComments    = "schedule.list_comments"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider issues fresh schedule identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// UserDirectory resolves display names for the user ids referenced by
// availability and comment rows.
type UserDirectory interface {
	Usernames(ctx context.Context, userIDs []string) (map[string]string, error)
}

// ServiceConfig bundles the dependencies of the schedule service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Directory  UserDirectory
	Logger     *zap.Logger
}

// Service orchestrates the schedule aggregate: the schedule row plus its
// candidate, availability and comment dependents.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	directory  UserDirectory
	logger     *zap.Logger
}

// NewService validates configuration and constructs the service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	if cfg.Directory == nil {
		return nil, newServiceError(opServiceNew, "missing_directory", errMissingDirectory)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		directory:  cfg.Directory,
		logger:     logger,
	}, nil
}

// Create persists a new schedule and its candidate slots as one transaction.
// candidateText is the raw newline-delimited textarea input.
func (s *Service) Create(ctx context.Context, creatorID, name, memo, candidateText string) (ScheduleID, error) {
	rawID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return "", newServiceError(opCreate, "id_generation_failed", err)
	}
	scheduleID, err := NewScheduleID(rawID)
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return "", newServiceError(opCreate, "id_generation_failed", err)
	}

	record := Schedule{
		ScheduleID:       scheduleID.String(),
		ScheduleName:     normalizeScheduleName(name),
		Memo:             memo,
		CreatedBy:        creatorID,
		UpdatedAtSeconds: s.clock().UTC().Unix(),
	}
	candidates := candidateRows(scheduleID, ParseCandidateNames(candidateText))

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&record).Error; err != nil {
			return newServiceError(opCreate, "schedule_insert_failed", err)
		}
		if len(candidates) == 0 {
			return nil
		}
		if err := tx.Create(&candidates).Error; err != nil {
			return newServiceError(opCreate, "candidate_insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opCreate, "transaction_failed", txErr, zap.String("schedule_id", scheduleID.String()))
		return "", txErr
	}

	s.logger.Info("schedule created",
		zap.String("schedule_id", scheduleID.String()),
		zap.String("created_by", creatorID),
		zap.Int("candidates", len(candidates)))
	return scheduleID, nil
}

// Update rewrites schedule metadata and appends any newly submitted candidate
// slots. Existing candidates are never edited or removed by this path. Only
// the creator may update.
func (s *Service) Update(ctx context.Context, viewerID string, scheduleID ScheduleID, name, memo, candidateText string) error {
	record, err := s.fetchSchedule(ctx, scheduleID)
	if err != nil {
		return newServiceError(opUpdate, "schedule_lookup_failed", err)
	}
	if !IsOwner(viewerID, record) {
		return newServiceError(opUpdate, "not_owner", ErrNotOwner)
	}

	updates := map[string]interface{}{
		"schedule_name": normalizeScheduleName(name),
		"memo":          memo,
		"updated_at_s":  s.clock().UTC().Unix(),
	}
	candidates := candidateRows(scheduleID, ParseCandidateNames(candidateText))

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Schedule{}).
			Where("schedule_id = ?", scheduleID.String()).
			Updates(updates).Error; err != nil {
			return newServiceError(opUpdate, "schedule_update_failed", err)
		}
		if len(candidates) == 0 {
			return nil
		}
		if err := tx.Create(&candidates).Error; err != nil {
			return newServiceError(opUpdate, "candidate_insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opUpdate, "transaction_failed", txErr, zap.String("schedule_id", scheduleID.String()))
		return txErr
	}
	return nil
}

// DeleteAggregate removes the schedule and all dependent rows in one
// transaction, children before parent. Deleting an unknown schedule is a
// no-op, which makes the operation idempotent.
func (s *Service) DeleteAggregate(ctx context.Context, scheduleID ScheduleID) error {
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("schedule_id = ?", scheduleID.String()).Delete(&Availability{}).Error; err != nil {
			return newServiceError(opDeleteAggregate, "availability_delete_failed", err)
		}
		if err := tx.Where("schedule_id = ?", scheduleID.String()).Delete(&Candidate{}).Error; err != nil {
			return newServiceError(opDeleteAggregate, "candidate_delete_failed", err)
		}
		if err := tx.Where("schedule_id = ?", scheduleID.String()).Delete(&Comment{}).Error; err != nil {
			return newServiceError(opDeleteAggregate, "comment_delete_failed", err)
		}
		if err := tx.Where("schedule_id = ?", scheduleID.String()).Delete(&Schedule{}).Error; err != nil {
			return newServiceError(opDeleteAggregate, "schedule_delete_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opDeleteAggregate, "transaction_failed", txErr, zap.String("schedule_id", scheduleID.String()))
		return txErr
	}
	s.logger.Info("schedule aggregate deleted", zap.String("schedule_id", scheduleID.String()))
	return nil
}

// BuildScheduleView loads the schedule aggregate and assembles the dense
// attendance matrix for the given viewer.
func (s *Service) BuildScheduleView(ctx context.Context, scheduleID ScheduleID, viewer Viewer) (View, error) {
	record, err := s.fetchSchedule(ctx, scheduleID)
	if err != nil {
		return View{}, newServiceError(opBuildView, "schedule_lookup_failed", err)
	}

	var candidates []Candidate
	if err := s.db.WithContext(ctx).
		Where("schedule_id = ?", scheduleID.String()).
		Order("candidate_id ASC").
		Find(&candidates).Error; err != nil {
		s.logError(opBuildView, "candidate_query_failed", err, zap.String("schedule_id", scheduleID.String()))
		return View{}, newServiceError(opBuildView, "candidate_query_failed", err)
	}

	var availabilities []Availability
	if err := s.db.WithContext(ctx).
		Where("schedule_id = ?", scheduleID.String()).
		Order("candidate_id ASC").
		Find(&availabilities).Error; err != nil {
		s.logError(opBuildView, "availability_query_failed", err, zap.String("schedule_id", scheduleID.String()))
		return View{}, newServiceError(opBuildView, "availability_query_failed", err)
	}

	var comments []Comment
	if err := s.db.WithContext(ctx).
		Where("schedule_id = ?", scheduleID.String()).
		Find(&comments).Error; err != nil {
		s.logError(opBuildView, "comment_query_failed", err, zap.String("schedule_id", scheduleID.String()))
		return View{}, newServiceError(opBuildView, "comment_query_failed", err)
	}

	usernames, err := s.directory.Usernames(ctx, participantIDs(availabilities, comments))
	if err != nil {
		s.logError(opBuildView, "username_lookup_failed", err, zap.String("schedule_id", scheduleID.String()))
		return View{}, newServiceError(opBuildView, "username_lookup_failed", err)
	}

	return buildView(*record, candidates, availabilities, comments, usernames, viewer), nil
}

// EditView returns the schedule and its ordered candidates for the edit form.
// Only the creator may open it.
func (s *Service) EditView(ctx context.Context, viewerID string, scheduleID ScheduleID) (Schedule, []Candidate, error) {
	record, err := s.fetchSchedule(ctx, scheduleID)
	if err != nil {
		return Schedule{}, nil, newServiceError(opEditView, "schedule_lookup_failed", err)
	}
	if !IsOwner(viewerID, record) {
		return Schedule{}, nil, newServiceError(opEditView, "not_owner", ErrNotOwner)
	}

	var candidates []Candidate
	if err := s.db.WithContext(ctx).
		Where("schedule_id = ?", scheduleID.String()).
		Order("candidate_id ASC").
		Find(&candidates).Error; err != nil {
		s.logError(opEditView, "candidate_query_failed", err, zap.String("schedule_id", scheduleID.String()))
		return Schedule{}, nil, newServiceError(opEditView, "candidate_query_failed", err)
	}
	return *record, candidates, nil
}

// Get returns the schedule row by id.
func (s *Service) Get(ctx context.Context, scheduleID ScheduleID) (Schedule, error) {
	record, err := s.fetchSchedule(ctx, scheduleID)
	if err != nil {
		return Schedule{}, newServiceError(opGet, "schedule_lookup_failed", err)
	}
	return *record, nil
}

// ListOwned returns the schedules created by the given user, most recently
// updated first.
func (s *Service) ListOwned(ctx context.Context, creatorID string) ([]Schedule, error) {
	var schedules []Schedule
	if err := s.db.WithContext(ctx).
		Where("created_by = ?", creatorID).
		Order("updated_at_s DESC").
		Find(&schedules).Error; err != nil {
		s.logError(opListOwned, "query_failed", err, zap.String("created_by", creatorID))
		return nil, newServiceError(opListOwned, "query_failed", err)
	}
	return schedules, nil
}

// SetAvailability upserts the acting user's tri-state response for one
// candidate. The storage engine's ON CONFLICT makes last-write-wins a single
// indivisible operation.
func (s *Service) SetAvailability(ctx context.Context, userID string, scheduleID ScheduleID, candidateID int64, value int) (int, error) {
	validated, err := ParseAvailabilityValue(value)
	if err != nil {
		return 0, newServiceError(opSetAvailability, "invalid_value", err)
	}

	var candidate Candidate
	err = s.db.WithContext(ctx).
		Where("candidate_id = ? AND schedule_id = ?", candidateID, scheduleID.String()).
		Take(&candidate).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, newServiceError(opSetAvailability, "candidate_not_found", ErrCandidateNotFound)
	}
	if err != nil {
		s.logError(opSetAvailability, "candidate_lookup_failed", err, zap.Int64("candidate_id", candidateID))
		return 0, newServiceError(opSetAvailability, "candidate_lookup_failed", err)
	}

	row := Availability{
		CandidateID:  candidateID,
		UserID:       userID,
		Availability: validated,
		ScheduleID:   scheduleID.String(),
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "candidate_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"availability", "schedule_id"}),
	}).Create(&row).Error; err != nil {
		s.logError(opSetAvailability, "upsert_failed", err,
			zap.Int64("candidate_id", candidateID),
			zap.String("user_id", userID))
		return 0, newServiceError(opSetAvailability, "upsert_failed", err)
	}
	return validated, nil
}

// GetAvailability returns the acting user's stored rows for one candidate.
// At most one row exists per (candidate, user) pair.
func (s *Service) GetAvailability(ctx context.Context, userID string, scheduleID ScheduleID, candidateID int64) ([]Availability, error) {
	var rows []Availability
	if err := s.db.WithContext(ctx).
		Where("candidate_id = ? AND user_id = ? AND schedule_id = ?", candidateID, userID, scheduleID.String()).
		Find(&rows).Error; err != nil {
		s.logError(opGetAvailability, "query_failed", err, zap.Int64("candidate_id", candidateID))
		return nil, newServiceError(opGetAvailability, "query_failed", err)
	}
	return rows, nil
}

// SetComment upserts the acting user's single comment on a schedule,
// silently truncating overlong input to 255 characters.
func (s *Service) SetComment(ctx context.Context, userID string, scheduleID ScheduleID, comment string) (string, error) {
	if _, err := s.fetchSchedule(ctx, scheduleID); err != nil {
		return "", newServiceError(opSetComment, "schedule_lookup_failed", err)
	}

	truncated := truncateRunes(comment, maxCommentRunes)
	row := Comment{
		ScheduleID: scheduleID.String(),
		UserID:     userID,
		Comment:    truncated,
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "schedule_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"comment"}),
	}).Create(&row).Error; err != nil {
		s.logError(opSetComment, "upsert_failed", err,
			zap.String("schedule_id", scheduleID.String()),
			zap.String("user_id", userID))
		return "", newServiceError(opSetComment, "upsert_failed", err)
	}
	return truncated, nil
}

// ListComments returns all comment rows of a schedule.
func (s *Service) ListComments(ctx context.Context, scheduleID ScheduleID) ([]Comment, error) {
	var rows []Comment
	if err := s.db.WithContext(ctx).
		Where("schedule_id = ?", scheduleID.String()).
		Find(&rows).Error; err != nil {
		s.logError(opListComments, "query_failed", err, zap.String("schedule_id", scheduleID.String()))
		return nil, newServiceError(opListComments, "query_failed", err)
	}
	return rows, nil
}

func (s *Service) fetchSchedule(ctx context.Context, scheduleID ScheduleID) (*Schedule, error) {
	var record Schedule
	err := s.db.WithContext(ctx).
		Where("schedule_id = ?", scheduleID.String()).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrScheduleNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func normalizeScheduleName(name string) string {
	truncated := truncateRunes(name, maxScheduleNameRunes)
	if truncated == "" {
		return DefaultScheduleName
	}
	return truncated
}

func candidateRows(scheduleID ScheduleID, names []string) []Candidate {
	rows := make([]Candidate, 0, len(names))
	for _, name := range names {
		rows = append(rows, Candidate{
			CandidateName: name,
			ScheduleID:    scheduleID.String(),
		})
	}
	return rows
}

func participantIDs(availabilities []Availability, comments []Comment) []string {
	seen := make(map[string]struct{})
	ids := make([]string, 0, len(availabilities)+len(comments))
	for _, row := range availabilities {
		if _, ok := seen[row.UserID]; ok {
			continue
		}
		seen[row.UserID] = struct{}{}
		ids = append(ids, row.UserID)
	}
	for _, row := range comments {
		if _, ok := seen[row.UserID]; ok {
			continue
		}
		seen[row.UserID] = struct{}{}
		ids = append(ids, row.UserID)
	}
	return ids
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("schedule service error", attrs...)
}
