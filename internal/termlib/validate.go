package termlib

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/raaihank/feedback-sentinel/internal/bias"
)

var validate = validator.New()

// ValidateTerm checks the required fields of a single term
func ValidateTerm(term bias.BiasTerm) error {
	if err := validate.Struct(term); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("term %q: field %s failed %s", term.ID, fe.Field(), fe.Tag())
		}
		return fmt.Errorf("term %q: %w", term.ID, err)
	}
	return nil
}

// Validate checks every term and rejects duplicate ids. Pattern compile
// errors are left to the compiler, which skips the term.
func Validate(terms []bias.BiasTerm) error {
	var errs []error
	seen := make(map[string]int, len(terms))

	for i, term := range terms {
		if err := ValidateTerm(term); err != nil {
			errs = append(errs, fmt.Errorf("entry %d: %w", i, err))
			continue
		}
		if prev, dup := seen[term.ID]; dup {
			errs = append(errs, fmt.Errorf("entry %d: duplicate term id %q (first at entry %d)", i, term.ID, prev))
			continue
		}
		seen[term.ID] = i
	}

	return errors.Join(errs...)
}

// PatternErrors compiles every pattern and reports the ones that fail
func PatternErrors(terms []bias.BiasTerm) map[string]error {
	failed := make(map[string]error)
	for _, term := range terms {
		if _, err := bias.NewRegexMatcher(term.Pattern); err != nil {
			failed[term.ID] = err
		}
	}
	return failed
}
