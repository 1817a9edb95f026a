package scheduler

import (
	"context"
	"fmt"
)

// CleanupTaskName names the expiry sweep
const CleanupTaskName = "clean_old_keys"

// Cleaner deletes keys older than days
type Cleaner interface {
	Cleanup(ctx context.Context, days int) (int, error)
}

// CleanupTask sweeps keys older than days on schedule
func CleanupTask(cleaner Cleaner, schedule string, days int) Task {
	return Task{
		Name:        CleanupTaskName,
		Description: fmt.Sprintf("delete keys created more than %d day(s) ago", days),
		Schedule:    schedule,
		Handler: func(ctx context.Context) error {
			_, err := cleaner.Cleanup(ctx, days)
			return err
		},
	}
}
