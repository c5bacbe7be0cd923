package validate

import (
	"errors"
	"fmt"
	"regexp"
	"unicode/utf8"
)

// Limits on tracked input.
const (
	MaxIdentifierLength = 128
	MaxDetailKeys       = 32
	MaxDetailKeyLength  = 64
	MaxDetailString     = 1024
	MaxDetailDepth      = 3
)

// Detail validation errors
var (
	ErrTooManyKeys   = errors.New("details has too many keys")
	ErrDetailTooDeep = errors.New("details is nested too deeply")
)

// identifierPattern admits UUIDs, slugs and namespaced ids such as "tip:42".
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_.:@/\-]+$`)

// Identifier validates an optional id-like field (user, entity, session,
// content type). Empty values pass; surrounding whitespace is trimmed.
func Identifier(field, s string) (string, error) {
	v, err := String(s, StringConstraints{
		MaxLength:      MaxIdentifierLength,
		AllowedPattern: identifierPattern,
		AllowEmpty:     true,
		TrimSpace:      true,
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", field, err)
	}
	return v, nil
}

// Details bounds the size and shape of an event's free-form detail map.
// Only JSON-decoded values (maps, slices, strings, numbers, bools, nil) are
// expected.
func Details(details map[string]any) error {
	return checkMap(details, 1)
}

func checkMap(m map[string]any, depth int) error {
	if depth > MaxDetailDepth {
		return ErrDetailTooDeep
	}
	if len(m) > MaxDetailKeys {
		return fmt.Errorf("%w: got %d, maximum is %d", ErrTooManyKeys, len(m), MaxDetailKeys)
	}
	for k, v := range m {
		if utf8.RuneCountInString(k) > MaxDetailKeyLength {
			return fmt.Errorf("details key %.16q...: %w", k, ErrStringTooLong)
		}
		if err := checkValue(k, v, depth); err != nil {
			return err
		}
	}
	return nil
}

func checkValue(key string, v any, depth int) error {
	switch val := v.(type) {
	case string:
		if utf8.RuneCountInString(val) > MaxDetailString {
			return fmt.Errorf("details.%s: %w", key, ErrStringTooLong)
		}
	case map[string]any:
		return checkMap(val, depth+1)
	case []any:
		if depth+1 > MaxDetailDepth {
			return ErrDetailTooDeep
		}
		if len(val) > MaxDetailKeys {
			return fmt.Errorf("details.%s: %w", key, ErrTooManyKeys)
		}
		for _, item := range val {
			if err := checkValue(key, item, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}
