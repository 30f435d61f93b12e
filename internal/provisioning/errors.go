package provisioning

import (
	"errors"
	"fmt"

	orgdomain "github.com/smallbiznis/fieldops/internal/organization/domain"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrPersistence     = errors.New("persistence_failure")
	ErrNotAMember      = orgdomain.ErrNotAMember
)

func persistence(err error) error {
	return fmt.Errorf("%w: %v", ErrPersistence, err)
}
