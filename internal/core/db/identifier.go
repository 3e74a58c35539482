package db

import (
	"regexp"

	"github.com/solatis/policykeeper/internal/types"
)

var (
	tableNamePattern   = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
	channelNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.:/-]+$`)
)

// ValidateTableName checks that a configured table name can be interpolated
// into SQL: letters, digits and underscore only.
func ValidateTableName(name string) error {
	if name == "" {
		return types.NewValidationError("table", "must not be empty")
	}
	if !tableNamePattern.MatchString(name) {
		return types.NewValidationError("table", "%q may only contain letters, digits and underscore", name)
	}
	return nil
}

// ValidateChannelName checks a notification key or channel name. Path-style
// separators (/ . : -) are allowed on top of the table name alphabet.
func ValidateChannelName(field, name string) error {
	if name == "" {
		return types.NewValidationError(field, "must not be empty")
	}
	if !channelNamePattern.MatchString(name) {
		return types.NewValidationError(field, "%q contains characters outside [A-Za-z0-9_.:/-]", name)
	}
	return nil
}
