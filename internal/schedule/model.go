package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// DefaultScheduleName is stored when the submitted name is empty after truncation.
const DefaultScheduleName = "(untitled schedule)"

const (
	maxScheduleNameRunes = 255
	maxCommentRunes      = 255
)

// Tri-state availability values.
const (
	AvailabilityAbsent    = 0
	AvailabilityUndecided = 1
	AvailabilityPresent   = 2
)

var (
	// ErrInvalidScheduleID indicates the identifier is not a version-4 UUID.
	ErrInvalidScheduleID = errors.New("schedule: invalid schedule id")
	// ErrInvalidCandidateID indicates the identifier is not an integer.
	ErrInvalidCandidateID = errors.New("schedule: invalid candidate id")
	// ErrInvalidUserID indicates the identifier is not integer-shaped.
	ErrInvalidUserID = errors.New("schedule: invalid user id")
	// ErrInvalidAvailability indicates a tri-state value outside {0,1,2}.
	ErrInvalidAvailability = errors.New("schedule: invalid availability value")
)

// ScheduleID is a validated version-4 UUID schedule identifier.
type ScheduleID string

// NewScheduleID validates raw input and returns a ScheduleID.
func NewScheduleID(rawInput string) (ScheduleID, error) {
	trimmed := strings.TrimSpace(rawInput)
	parsed, err := uuid.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidScheduleID, rawInput)
	}
	if parsed.Version() != 4 {
		return "", fmt.Errorf("%w: version %d", ErrInvalidScheduleID, parsed.Version())
	}
	return ScheduleID(parsed.String()), nil
}

// String returns the underlying string identifier.
func (id ScheduleID) String() string {
	return string(id)
}

// ParseCandidateID validates that raw input is an integer candidate identifier.
func ParseCandidateID(rawInput string) (int64, error) {
	value, err := strconv.ParseInt(strings.TrimSpace(rawInput), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCandidateID, rawInput)
	}
	return value, nil
}

// ParseUserID validates that raw input is an integer-shaped user identifier.
// Provider subjects can exceed int64 range, so the digits are kept as a string.
func ParseUserID(rawInput string) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	for _, r := range trimmed {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("%w: %q", ErrInvalidUserID, rawInput)
		}
	}
	return trimmed, nil
}

// ParseAvailabilityValue validates a tri-state attendance value.
func ParseAvailabilityValue(value int) (int, error) {
	if value < AvailabilityAbsent || value > AvailabilityPresent {
		return 0, fmt.Errorf("%w: %d", ErrInvalidAvailability, value)
	}
	return value, nil
}

// ParseCandidateNames splits newline-delimited textarea input into candidate
// names, trimming surrounding whitespace and discarding empty records while
// preserving order.
func ParseCandidateNames(text string) []string {
	lines := strings.Split(text, "\n")
	names := make([]string, 0, len(lines))
	for _, line := range lines {
		name := strings.TrimSpace(line)
		if name == "" {
			continue
		}
		names = append(names, name)
	}
	return names
}

// truncateRunes bounds free-text input to limit runes without erroring.
func truncateRunes(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}

// Schedule is an event poll owned by its creator.
type Schedule struct {
	ScheduleID       string `gorm:"column:schedule_id;primaryKey;size:36;not null" json:"scheduleId"`
	ScheduleName     string `gorm:"column:schedule_name;size:255;not null" json:"scheduleName"`
	Memo             string `gorm:"column:memo;type:text;not null" json:"memo"`
	CreatedBy        string `gorm:"column:created_by;size:190;not null;index" json:"createdBy"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null" json:"updatedAtS"`
}

// TableName provides the explicit table binding for GORM.
func (Schedule) TableName() string {
	return "schedules"
}

// Candidate is one selectable time slot. Identifiers come from a single
// autoincrementing sequence, so ascending id order equals creation order.
type Candidate struct {
	CandidateID   int64  `gorm:"column:candidate_id;primaryKey;autoIncrement" json:"candidateId"`
	CandidateName string `gorm:"column:candidate_name;size:255;not null" json:"candidateName"`
	ScheduleID    string `gorm:"column:schedule_id;size:36;not null;index" json:"scheduleId"`
}

// TableName provides the explicit table binding for GORM.
func (Candidate) TableName() string {
	return "candidates"
}

// Availability is a user's tri-state response for one candidate. The schedule
// id is denormalized onto the row for range queries and always matches the
// candidate's owning schedule.
type Availability struct {
	CandidateID  int64  `gorm:"column:candidate_id;primaryKey;autoIncrement:false;not null" json:"candidateId"`
	UserID       string `gorm:"column:user_id;primaryKey;size:190;not null" json:"userId"`
	Availability int    `gorm:"column:availability;not null;default:0" json:"availability"`
	ScheduleID   string `gorm:"column:schedule_id;size:36;not null;index" json:"scheduleId"`
}

// TableName provides the explicit table binding for GORM.
func (Availability) TableName() string {
	return "availabilities"
}

// Comment is the single free-text note a user leaves on a schedule.
type Comment struct {
	ScheduleID string `gorm:"column:schedule_id;primaryKey;size:36;not null" json:"scheduleId"`
	UserID     string `gorm:"column:user_id;primaryKey;size:190;not null" json:"userId"`
	Comment    string `gorm:"column:comment;size:255;not null" json:"comment"`
}

// TableName provides the explicit table binding for GORM.
func (Comment) TableName() string {
	return "comments"
}
