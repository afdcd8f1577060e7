package domain

import (
	"fmt"
	"net/mail"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	TitleMinLength         = 5
	TitleMaxLength         = 80
	DescriptionMinLength   = 20
	RequesterNameMinLength = 2
	MaxTags                = 5
)

// FieldErrors maps a field name to the reason it was rejected.
type FieldErrors map[string]string

func (e FieldErrors) Error() string {
	keys := make([]string, 0, len(e))
	for key := range e {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", key, e[key]))
	}
	return strings.Join(parts, "; ")
}

// ValidateFields applies the ticket form rules. It returns nil when the
// fields are acceptable.
func ValidateFields(f TicketFields) FieldErrors {
	errs := FieldErrors{}

	title := strings.TrimSpace(f.Title)
	switch n := utf8.RuneCountInString(title); {
	case n < TitleMinLength:
		errs["title"] = fmt.Sprintf("must be at least %d characters", TitleMinLength)
	case n > TitleMaxLength:
		errs["title"] = fmt.Sprintf("must be at most %d characters", TitleMaxLength)
	case onlyDigits(title):
		errs["title"] = "cannot contain only numbers"
	}

	if utf8.RuneCountInString(strings.TrimSpace(f.Description)) < DescriptionMinLength {
		errs["description"] = fmt.Sprintf("must be at least %d characters", DescriptionMinLength)
	}
	if utf8.RuneCountInString(strings.TrimSpace(f.Requester.Name)) < RequesterNameMinLength {
		errs["requester.name"] = "is required"
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(f.Requester.Email)); err != nil || !strings.Contains(f.Requester.Email, "@") {
		errs["requester.email"] = "must be a valid email"
	}

	for key, msg := range ValidateEnums(f.Status, f.Priority) {
		errs[key] = msg
	}
	if msg := ValidateTags(f.Tags); msg != "" {
		errs["tags"] = msg
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// ValidateEnums checks status and priority; empty values are rejected too.
func ValidateEnums(status TicketStatus, priority TicketPriority) FieldErrors {
	errs := FieldErrors{}
	if !status.Valid() {
		errs["status"] = fmt.Sprintf("invalid status %q", status)
	}
	if !priority.Valid() {
		errs["priority"] = fmt.Sprintf("invalid priority %q", priority)
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// ValidateTags enforces the tag set rules and returns an empty string when they hold.
func ValidateTags(tags []string) string {
	if len(tags) > MaxTags {
		return fmt.Sprintf("at most %d tags allowed", MaxTags)
	}
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		trimmed := strings.TrimSpace(tag)
		if trimmed == "" {
			return "tags cannot be empty"
		}
		key := strings.ToLower(trimmed)
		if _, dup := seen[key]; dup {
			return "duplicate tags are not allowed"
		}
		seen[key] = struct{}{}
	}
	return ""
}

func onlyDigits(s string) bool {
	compact := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	if compact == "" {
		return false
	}
	for _, r := range compact {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
