package cache

import (
	"context"
	"fmt"
	"log/slog"
)

// SafeInvalidatePattern invalidates a cache pattern, logging instead of
// propagating failures so cache trouble never fails a write path.
func SafeInvalidatePattern(ctx context.Context, helper *CacheHelper, pattern string) {
	if err := helper.InvalidatePattern(ctx, pattern); err != nil {
		slog.ErrorContext(ctx, "Failed to invalidate cache pattern",
			"error", err,
			"pattern", pattern)
	}
}

// SafeDelete deletes cache keys, logging failures.
func SafeDelete(ctx context.Context, helper *CacheHelper, keys ...string) {
	if err := helper.Delete(ctx, keys...); err != nil {
		slog.ErrorContext(ctx, "Failed to delete cache keys",
			"error", err,
			"keys", keys)
	}
}

// InvalidateExamCache drops every cached view of one exam instance.
func InvalidateExamCache(ctx context.Context, cm *CacheManager, examID uint) {
	SafeDelete(ctx, cm.Exam,
		fmt.Sprintf("id:%d", examID),
		fmt.Sprintf("answers:%d", examID))
	SafeInvalidatePattern(ctx, cm.Fast, fmt.Sprintf("exam:%d:*", examID))
}

// InvalidateTaskCache drops cached views of one task and, when the task has
// a grader, that grader's queue view.
func InvalidateTaskCache(ctx context.Context, cm *CacheManager, taskID uint, graderID *string) {
	SafeDelete(ctx, cm.Task, fmt.Sprintf("id:%d", taskID))
	if graderID != nil {
		SafeDelete(ctx, cm.Queue, fmt.Sprintf("grader:%s", *graderID))
	}
}

// InvalidateQueueCache drops a grader's cached queue view.
func InvalidateQueueCache(ctx context.Context, cm *CacheManager, graderID string) {
	SafeDelete(ctx, cm.Queue, fmt.Sprintf("grader:%s", graderID))
}
