package schedule

// Viewer identifies the requesting user. The zero value is an anonymous
// viewer.
type Viewer struct {
	UserID   string
	Username string
}

// Authenticated reports whether the viewer carries a login identity.
func (v Viewer) Authenticated() bool {
	return v.UserID != ""
}

// UserDescriptor is one row heading of the attendance grid.
type UserDescriptor struct {
	IsSelf      bool   `json:"isSelf"`
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	Placeholder bool   `json:"placeholder,omitempty"`
}

// placeholderUsername labels the sentinel row shown when nobody has responded
// and the viewer is anonymous. The sentinel never joins against comments and
// never counts as a participant.
const placeholderUsername = "No responses yet"

// View is the fully assembled data needed to render a schedule: the ordered
// candidate columns, the ordered user rows, a dense availability grid with
// every (user, candidate) pair present, and one comment per user. The
// presentation layer can render it without further nil checks.
type View struct {
	Schedule       Schedule                 `json:"schedule"`
	Candidates     []Candidate              `json:"candidates"`
	Users          []UserDescriptor         `json:"users"`
	Availabilities map[string]map[int64]int `json:"availabilities"`
	Comments       map[string]string        `json:"comments"`
}

// buildView reconstructs the dense attendance matrix from the sparse stored
// rows. Stored availabilities are intentionally sparse (no row until the
// first toggle); every missing (user, candidate) pair defaults to absent
// here, at read time.
//
// usernames maps user ids appearing in availability or comment rows to
// display names; unknown ids fall back to the raw id.
func buildView(sched Schedule, candidates []Candidate, availabilities []Availability, comments []Comment, usernames map[string]string, viewer Viewer) View {
	// Seed the sparse grid from recorded rows.
	grid := make(map[string]map[int64]int)
	for _, row := range availabilities {
		userGrid := grid[row.UserID]
		if userGrid == nil {
			userGrid = make(map[int64]int)
			grid[row.UserID] = userGrid
		}
		userGrid[row.CandidateID] = row.Availability
	}

	// Collect user descriptors in insertion order: viewer first, then first
	// appearance in availability rows, then comment-only participants.
	descriptorIndex := make(map[string]int)
	users := make([]UserDescriptor, 0, len(grid)+1)
	addUser := func(userID, username string) {
		if _, seen := descriptorIndex[userID]; seen {
			return
		}
		descriptorIndex[userID] = len(users)
		users = append(users, UserDescriptor{
			IsSelf:   viewer.Authenticated() && SameIdentity(viewer.UserID, userID),
			UserID:   userID,
			Username: username,
		})
	}

	if viewer.Authenticated() {
		addUser(viewer.UserID, viewer.Username)
	}
	for _, row := range availabilities {
		addUser(row.UserID, displayName(usernames, row.UserID))
	}
	for _, row := range comments {
		addUser(row.UserID, displayName(usernames, row.UserID))
	}

	if len(users) == 0 {
		users = append(users, UserDescriptor{
			Username:    placeholderUsername,
			Placeholder: true,
		})
	}

	// Densify strictly after user discovery so newly discovered users get
	// fully populated rows too.
	for _, user := range users {
		userGrid := grid[user.UserID]
		if userGrid == nil {
			userGrid = make(map[int64]int, len(candidates))
			grid[user.UserID] = userGrid
		}
		for _, candidate := range candidates {
			if _, ok := userGrid[candidate.CandidateID]; !ok {
				userGrid[candidate.CandidateID] = AvailabilityAbsent
			}
		}
	}

	commentMap := make(map[string]string, len(comments))
	for _, row := range comments {
		commentMap[row.UserID] = row.Comment
	}

	return View{
		Schedule:       sched,
		Candidates:     candidates,
		Users:          users,
		Availabilities: grid,
		Comments:       commentMap,
	}
}

func displayName(usernames map[string]string, userID string) string {
	if name, ok := usernames[userID]; ok && name != "" {
		return name
	}
	return userID
}
