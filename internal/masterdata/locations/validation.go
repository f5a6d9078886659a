package locations

import (
	"errors"
	"strings"
)

func (s *Service) validate(l Location) error {
	if l.BranchID <= 0 {
		return errors.New("location branch is required")
	}
	if strings.TrimSpace(l.Code) == "" {
		return errors.New("location code is required")
	}
	if strings.TrimSpace(l.Name) == "" {
		return errors.New("location name is required")
	}
	return nil
}
