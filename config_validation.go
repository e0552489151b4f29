package rs232

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateConfig validates session configuration parameters
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("config cannot be nil")
	}

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid session config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid session config: %w", err)
	}

	// Validate line options
	if cfg.LineOptions != "" {
		if _, err := ParseLineOptions(cfg.LineOptions); err != nil {
			return err
		}
	}

	// A start flag equal to the detect string would make every detection an
	// operator start request.
	if cfg.StartFlag != "" && cfg.StartFlag == cfg.DetectToken {
		return fmt.Errorf("start flag and detect string must differ, both are %q", cfg.StartFlag)
	}

	return nil
}
