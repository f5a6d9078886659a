package companies

import (
	"errors"
	"strings"
)

func (s *Service) validate(c Company) error {
	if strings.TrimSpace(c.Code) == "" {
		return errors.New("company code is required")
	}
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("company name is required")
	}
	switch c.CostingPolicy {
	case "", "fifo", "moving_avg":
	default:
		return errors.New("costing policy must be fifo or moving_avg")
	}
	return nil
}
