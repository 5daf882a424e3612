package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var swargNumberRegex = regexp.MustCompile(`^[1-9][0-9]{9}$`)

var usernameRegex = regexp.MustCompile(`^[a-z0-9_]{3,30}$`)

var reservedGroupNames = map[string]struct{}{
	"admin":  {},
	"system": {},
	"swarg":  {},
}

// ValidateGroupName checks length and reserved names. Names are compared case-insensitively.
func ValidateGroupName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("group name is required")
	}
	if utf8.RuneCountInString(trimmed) > 100 {
		return fmt.Errorf("group name must be at most 100 characters")
	}
	if _, exists := reservedGroupNames[strings.ToLower(trimmed)]; exists {
		return fmt.Errorf("group name is reserved")
	}
	return nil
}

// ValidateSwargNumber checks the 10 digit public number format.
func ValidateSwargNumber(number string) error {
	if !swargNumberRegex.MatchString(number) {
		return fmt.Errorf("swarg number must be 10 digits and not start with 0")
	}
	return nil
}

// ValidateUsername validates lowercase usernames.
func ValidateUsername(username string) error {
	if !usernameRegex.MatchString(username) {
		return fmt.Errorf("username must be 3-30 characters of lowercase letters, numbers, and underscores")
	}
	return nil
}
