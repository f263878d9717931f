package streamclient

import (
	"context"
	"fmt"

	"github.com/okian/scorews/pkg/logger"
)

// Verify checks that the run saw a contiguous id sequence and that the
// resume id the server returned follows the last score.
func Verify(stats *Stats) error {
	if stats.Gaps > 0 {
		return fmt.Errorf("%w: %d breaks between %d and %d", ErrSequenceGap, stats.Gaps, stats.FirstID, stats.LastID)
	}
	if stats.ResumeID != nil && stats.ScoresReceived > 0 && *stats.ResumeID != stats.LastID+1 {
		return fmt.Errorf("%w: resume id %d after last score %d", ErrSequenceGap, *stats.ResumeID, stats.LastID)
	}
	return nil
}

// DisplayStats logs a summary of the run.
func DisplayStats(ctx context.Context, stats *Stats) {
	fields := []logger.Field{
		logger.Int("scores", stats.ScoresReceived),
		logger.Uint64("firstID", stats.FirstID),
		logger.Uint64("lastID", stats.LastID),
		logger.Int("gaps", stats.Gaps),
		logger.Bool("truncated", stats.Truncated),
		logger.Any("byRuleset", stats.ByRuleset),
		logger.String("duration", stats.Duration.String()),
	}
	if next, ok := stats.NextResume(); ok {
		fields = append(fields, logger.Uint64("resumeFrom", next))
	}
	logger.Get().Info(ctx, "stream summary", fields...)
}
