package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/beltline/progression-engine/internal/application/query"
	"github.com/beltline/progression-engine/internal/domain/checkin"
	"github.com/beltline/progression-engine/internal/domain/shared"
	"github.com/beltline/progression-engine/internal/domain/user"
	"github.com/beltline/progression-engine/pkg/logger"
	"github.com/beltline/progression-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD CHECK-IN COMMAND
// Appends one entry to the daily ledger. Every accepted check-in credits its
// points immediately and refreshes the cached streak.
// ══════════════════════════════════════════════════════════════════════════════

// RecordCheckinCommand contains the data of one check-in.
type RecordCheckinCommand struct {
	UserID   user.ID
	Category checkin.Category

	// Date defaults to today in the configured zone.
	Date time.Time

	Note        string
	EvidenceRef string

	CorrelationID string
}

// Validate validates the command.
func (c RecordCheckinCommand) Validate() error {
	if !c.UserID.IsValid() {
		return shared.ErrInvalidUserID
	}
	if !c.Category.IsValid() {
		return shared.ErrInvalidCategory
	}
	return nil
}

// RecordCheckinResult is the stored entry plus the refreshed totals.
type RecordCheckinResult struct {
	CheckinID     string           `json:"id"`
	UserID        user.ID          `json:"user_id"`
	Date          string           `json:"date"`
	Category      checkin.Category `json:"category"`
	Points        int              `json:"points"`
	Validated     bool             `json:"validated"`
	CurrentStreak int              `json:"current_streak"`
	TotalPoints   int              `json:"total_points"`
}

// RecordCheckinConfig holds the ledger rules.
type RecordCheckinConfig struct {
	// Points credited per check-in.
	Points int
	// BackfillDays is how many days into the past a check-in may be dated.
	BackfillDays int
}

// DefaultRecordCheckinConfig returns 10 points and a one day backfill.
func DefaultRecordCheckinConfig() RecordCheckinConfig {
	return RecordCheckinConfig{Points: 10, BackfillDays: 1}
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// RecordCheckinHandler handles RecordCheckinCommand.
type RecordCheckinHandler struct {
	users          user.Repository
	ledger         checkin.Ledger
	guard          CheckinGuard
	score          *query.ScoreCalculator
	eventPublisher shared.EventPublisher
	clock          timeutil.Clock
	loc            *time.Location
	newID          IDFunc
	config         RecordCheckinConfig
	log            *logger.Logger
}

// NewRecordCheckinHandler creates a new RecordCheckinHandler.
func NewRecordCheckinHandler(
	users user.Repository,
	ledger checkin.Ledger,
	guard CheckinGuard,
	score *query.ScoreCalculator,
	eventPublisher shared.EventPublisher,
	clock timeutil.Clock,
	loc *time.Location,
	config RecordCheckinConfig,
	log *logger.Logger,
) *RecordCheckinHandler {
	if config.Points <= 0 {
		config.Points = DefaultRecordCheckinConfig().Points
	}
	if config.BackfillDays < 0 {
		config.BackfillDays = 0
	}
	if guard == nil {
		guard = NopGuard{}
	}
	if eventPublisher == nil {
		eventPublisher = shared.NopPublisher{}
	}
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RecordCheckinHandler{
		users:          users,
		ledger:         ledger,
		guard:          guard,
		score:          score,
		eventPublisher: eventPublisher,
		clock:          clock,
		loc:            loc,
		newID:          NewID,
		config:         config,
		log:            log.With(logger.Component("checkin")),
	}
}

// Handle executes the command.
func (h *RecordCheckinHandler) Handle(ctx context.Context, cmd RecordCheckinCommand) (*RecordCheckinResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	now := h.clock.Now()
	today := timeutil.DayOf(now, h.loc)
	day := today
	if !cmd.Date.IsZero() {
		day = timeutil.Normalize(cmd.Date)
	}
	if err := checkin.AcceptDay(day, today, h.config.BackfillDays); err != nil {
		return nil, err
	}

	rec, err := checkin.NewRecord(checkin.NewRecordParams{
		ID:          checkin.RecordID(h.newID()),
		UserID:      cmd.UserID,
		Day:         day,
		Category:    cmd.Category,
		Note:        cmd.Note,
		EvidenceRef: cmd.EvidenceRef,
		Points:      h.config.Points,
		CreatedAt:   now,
	})
	if err != nil {
		return nil, err
	}

	u, err := h.users.GetOrCreate(ctx, cmd.UserID, now)
	if err != nil {
		return nil, fmt.Errorf("record_checkin: load user: %w", err)
	}

	key := rec.Key()
	claimed, err := h.guard.Claim(ctx, key)
	if err != nil {
		h.log.Warn("checkin guard unavailable", logger.UserID(string(cmd.UserID)), logger.Err(err))
		claimed = true
	}
	if !claimed {
		// A claim alone proves nothing: it outlives writes that never
		// committed. Only the ledger can reject the entry.
		exists, err := h.recorded(ctx, rec)
		if err != nil {
			return nil, fmt.Errorf("record_checkin: lookup: %w", err)
		}
		if exists {
			return nil, shared.ErrDuplicateCategoryToday
		}
		h.log.Warn("stale checkin claim",
			logger.UserID(string(cmd.UserID)),
			logger.Category(string(rec.Category)),
			logger.String("day", key.Day),
		)
	}

	if err := h.ledger.Append(ctx, rec); err != nil {
		if errors.Is(err, shared.ErrDuplicateCategoryToday) {
			return nil, err
		}
		if rerr := h.guard.Release(context.WithoutCancel(ctx), key); rerr != nil {
			h.log.Warn("checkin guard release failed", logger.UserID(string(cmd.UserID)), logger.Err(rerr))
		}
		return nil, fmt.Errorf("record_checkin: append: %w", err)
	}

	h.log.Info("checkin recorded",
		logger.UserID(string(u.ID)),
		logger.Category(string(rec.Category)),
		logger.String("day", timeutil.FormatDay(rec.Day)),
		logger.Points(rec.Points),
	)
	publish(h.eventPublisher, shared.NewCheckinRecordedEvent(
		string(rec.ID), string(u.ID), rec.Day, string(rec.Category), rec.Points, now,
	))

	result := &RecordCheckinResult{
		CheckinID: string(rec.ID),
		UserID:    u.ID,
		Date:      timeutil.FormatDay(rec.Day),
		Category:  rec.Category,
		Points:    rec.Points,
		Validated: rec.Validated,
	}

	// The entry is committed; a failed cache refresh is repaired by the
	// reconciliation job.
	score, err := h.score.Refresh(ctx, u)
	if err != nil {
		h.log.Error("score refresh after checkin failed", logger.UserID(string(u.ID)), logger.Err(err))
		result.CurrentStreak = u.CurrentStreak
		result.TotalPoints = u.TotalPoints
		return result, nil
	}
	result.CurrentStreak = score.Breakdown.Streak
	result.TotalPoints = score.Breakdown.Total
	return result, nil
}

// recorded reports whether the ledger already holds an entry with rec's key.
func (h *RecordCheckinHandler) recorded(ctx context.Context, rec *checkin.Record) (bool, error) {
	existing, err := h.ledger.List(ctx, rec.UserID, rec.Day, rec.Day)
	if err != nil {
		return false, err
	}
	for _, e := range existing {
		if e.Category == rec.Category {
			return true, nil
		}
	}
	return false, nil
}
