package application

import "github.com/davarch/rollout/internal/domain"

// Exclusive runs fn while holding the run lock for job, so manual deploys and
// rollbacks never interleave with a pipeline run of the same job.
func Exclusive(lock domain.RunLock, job string, fn func() error) error {
	release, err := lock.TryLock(job)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}
