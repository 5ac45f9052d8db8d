package query

import (
	"context"
	"time"

	"github.com/beltline/progression-engine/internal/domain/belt"
	"github.com/beltline/progression-engine/internal/domain/checkin"
	"github.com/beltline/progression-engine/internal/domain/shared"
	"github.com/beltline/progression-engine/internal/domain/user"
	"github.com/beltline/progression-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET USER QUERY
// ══════════════════════════════════════════════════════════════════════════════

// GetUserQuery asks for a user's current state.
type GetUserQuery struct {
	UserID user.ID
}

// PromotionDTO is one audit entry.
type PromotionDTO struct {
	SessionID string    `json:"session_id"`
	From      belt.Rank `json:"from"`
	To        belt.Rank `json:"to"`
	At        time.Time `json:"at"`
}

// UserDTO shows the cached statistics next to the authoritative rank.
type UserDTO struct {
	UserID           user.ID        `json:"user_id"`
	Belt             belt.Belt      `json:"belt"`
	Degree           belt.Degree    `json:"degree"`
	CurrentStreak    int            `json:"current_streak"`
	TotalPoints      int            `json:"total_points"`
	StatsRefreshedAt *time.Time     `json:"stats_refreshed_at,omitempty"`
	Promotions       []PromotionDTO `json:"promotions"`
}

// GetUserHandler reads the user row and the promotion trail.
type GetUserHandler struct {
	users user.Repository
}

// NewGetUserHandler creates a GetUserHandler.
func NewGetUserHandler(users user.Repository) *GetUserHandler {
	return &GetUserHandler{users: users}
}

// Handle executes the query. Unknown users are reported as not found; only
// write paths provision users.
func (h *GetUserHandler) Handle(ctx context.Context, q GetUserQuery) (*UserDTO, error) {
	if !q.UserID.IsValid() {
		return nil, shared.ErrInvalidUserID
	}
	u, err := h.users.Get(ctx, q.UserID)
	if err != nil {
		return nil, err
	}
	promos, err := h.users.ListPromotions(ctx, q.UserID)
	if err != nil {
		return nil, err
	}

	dto := &UserDTO{
		UserID:        u.ID,
		Belt:          u.Belt,
		Degree:        u.Degree,
		CurrentStreak: u.CurrentStreak,
		TotalPoints:   u.TotalPoints,
		Promotions:    make([]PromotionDTO, 0, len(promos)),
	}
	if !u.StatsRefreshedAt.IsZero() {
		t := u.StatsRefreshedAt
		dto.StatsRefreshedAt = &t
	}
	for _, p := range promos {
		dto.Promotions = append(dto.Promotions, PromotionDTO{SessionID: p.SessionID, From: p.From, To: p.To, At: p.At})
	}
	return dto, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LIST CHECK-INS QUERY
// ══════════════════════════════════════════════════════════════════════════════

// MaxCheckinRangeDays bounds a single listing.
const MaxCheckinRangeDays = 366

// ListCheckinsQuery lists a user's ledger between two days, inclusive.
// Zero bounds default to the last 30 days.
type ListCheckinsQuery struct {
	UserID user.ID
	From   time.Time
	To     time.Time
}

// CheckinDTO is one ledger entry.
type CheckinDTO struct {
	ID          string           `json:"id"`
	Date        string           `json:"date"`
	Category    checkin.Category `json:"category"`
	Note        string           `json:"note,omitempty"`
	EvidenceRef string           `json:"evidence_ref,omitempty"`
	Points      int              `json:"points"`
	Validated   bool             `json:"validated"`
}

// ListCheckinsHandler reads the ledger.
type ListCheckinsHandler struct {
	ledger checkin.Ledger
	clock  timeutil.Clock
	loc    *time.Location
}

// NewListCheckinsHandler creates a ListCheckinsHandler.
func NewListCheckinsHandler(ledger checkin.Ledger, clock timeutil.Clock, loc *time.Location) *ListCheckinsHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &ListCheckinsHandler{ledger: ledger, clock: clock, loc: loc}
}

// Handle executes the query.
func (h *ListCheckinsHandler) Handle(ctx context.Context, q ListCheckinsQuery) ([]CheckinDTO, error) {
	if !q.UserID.IsValid() {
		return nil, shared.ErrInvalidUserID
	}
	to := q.To
	if to.IsZero() {
		to = timeutil.Today(h.clock, h.loc)
	}
	from := q.From
	if from.IsZero() {
		from = timeutil.AddDays(to, -29)
	}
	from, to = timeutil.Normalize(from), timeutil.Normalize(to)
	if from.After(to) {
		return nil, shared.ValidationError("checkin", "List", "from", "must not be after to")
	}
	if timeutil.DaysBetween(from, to) >= MaxCheckinRangeDays {
		return nil, shared.ValidationError("checkin", "List", "range", "too long")
	}

	recs, err := h.ledger.List(ctx, q.UserID, from, to)
	if err != nil {
		return nil, err
	}
	out := make([]CheckinDTO, 0, len(recs))
	for _, r := range recs {
		out = append(out, CheckinDTO{
			ID:          string(r.ID),
			Date:        timeutil.FormatDay(r.Day),
			Category:    r.Category,
			Note:        r.Note,
			EvidenceRef: r.EvidenceRef,
			Points:      r.Points,
			Validated:   r.Validated,
		})
	}
	return out, nil
}
