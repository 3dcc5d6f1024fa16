package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate runs struct-tag validation over the whole configuration tree and
// the cross-field checks the tags cannot express.
func Validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok {
			return fmt.Errorf("invalid configuration: %s", describeFirst(errs))
		}
		return err
	}

	if cfg.Buffer.LowWaterMark > cfg.Buffer.HighWaterMark {
		return fmt.Errorf("invalid configuration: low_water_mark (%v) exceeds high_water_mark (%v)",
			cfg.Buffer.LowWaterMark, cfg.Buffer.HighWaterMark)
	}
	ab := cfg.Buffer.AdaptiveBatch
	if ab.MinBatchSize > 0 && ab.MaxBatchSize > 0 && ab.MinBatchSize > ab.MaxBatchSize {
		return fmt.Errorf("invalid configuration: min_batch_size (%d) exceeds max_batch_size (%d)",
			ab.MinBatchSize, ab.MaxBatchSize)
	}
	return nil
}

func describeFirst(errs validator.ValidationErrors) string {
	if len(errs) == 0 {
		return "unknown validation error"
	}
	e := errs[0]
	return fmt.Sprintf("field %s failed %q validation (value %v)", e.Namespace(), e.Tag(), e.Value())
}
