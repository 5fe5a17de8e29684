package ledger

import (
	"context"

	"go.uber.org/zap"

	"github.com/roach88/etude/internal/model"
)

// Award thresholds.
const (
	sessionsPerAward = 10
	playsPerAward    = 100
	daysPerStreak    = 7
)

// EvaluateAwards grants the awards a student has earned and returns the
// ones granted or raised by this call.
//
// Each award kind is held at most once. Its count is how many times the
// threshold has been met (ten sessions twice over is a count of 2) and only
// ever grows; the date is when the award was first won.
func (l *Ledger) EvaluateAwards(ctx context.Context, studentID string) ([]model.EarnedAward, error) {
	sum, err := l.PracticeSummary(ctx, studentID)
	if err != nil {
		return nil, err
	}

	earned := map[model.AwardKind]int64{
		model.AwardFirstSession: int64(min(sum.Sessions, 1)),
		model.AwardTenSessions:  int64(sum.Sessions / sessionsPerAward),
		model.AwardHundredPlays: sum.TotalPlays / playsPerAward,
		model.AwardGoalReached:  int64(sum.GoalsReached),
		model.AwardStreak7:      int64(sum.LongestStreak / daysPerStreak),
	}

	today := model.DateOf(l.now())
	var changed []model.EarnedAward
	for _, kind := range awardKinds {
		count := earned[kind]
		if count == 0 {
			continue
		}
		award, granted, err := l.store.GrantAward(ctx, studentID, kind, today, count)
		if err != nil {
			return nil, err
		}
		if !granted {
			continue
		}
		l.logger.Info("award granted",
			zap.String("student_id", studentID),
			zap.String("award", string(kind)),
			zap.Int64("count", award.Count))
		changed = append(changed, award)
	}
	return changed, nil
}

var awardKinds = []model.AwardKind{
	model.AwardFirstSession,
	model.AwardTenSessions,
	model.AwardHundredPlays,
	model.AwardGoalReached,
	model.AwardStreak7,
}
