package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the cross-section rules that struct
// tags cannot express. It does not modify cfg.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q (%s)", fe.Namespace(), fe.Tag(), fe.Param()))
			}
			return fmt.Errorf("invalid configuration:\n  %s", strings.Join(msgs, "\n  "))
		}
		return err
	}

	if err := cfg.Queue.ToQueueConfig().Validate(); err != nil {
		return fmt.Errorf("queue: %w", err)
	}

	if cfg.Workload.Region > cfg.Device.Size {
		return fmt.Errorf("workload.region %s exceeds device.size %s", cfg.Workload.Region, cfg.Device.Size)
	}
	if err := cfg.Workload.ToSpec().Validate(); err != nil {
		return fmt.Errorf("workload: %w", err)
	}
	return nil
}
