package storage

import (
	"errors"

	"github.com/cuongbtq/pyrx-compute/internal/compute/domain"
)

// ErrDuplicateJob is returned when a job id is inserted twice.
var ErrDuplicateJob = errors.New("job already exists")

// StatusIn reports whether s is one of set.
func StatusIn(s domain.JobStatus, set []domain.JobStatus) bool {
	for _, x := range set {
		if s == x {
			return true
		}
	}
	return false
}
