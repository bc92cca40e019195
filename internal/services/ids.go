package services

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"capsule-go/internal/apperr"
)

const (
	maxNameLength    = 100
	maxMessageLength = 500
	maxReasonLength  = 255
)

var slugPattern = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]{1,62}[a-z0-9])$`)

// normalizeID trims and case-folds a UUID. ok is false for anything that is not a UUID.
func normalizeID(raw string) (string, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return "", false
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return "", false
	}
	return id.String(), true
}

// actorID validates the calling user. A missing actor is unauthenticated, hence forbidden.
func actorID(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", apperr.Forbiddenf("an authenticated user is required")
	}
	id, ok := normalizeID(raw)
	if !ok {
		return "", apperr.Invalidf("user id is malformed")
	}
	return id, nil
}

// optionalActor is actorID for reads: an empty id is the anonymous viewer.
func optionalActor(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	return actorID(raw)
}

// targetID validates an id supplied as an operation argument.
func targetID(raw, what string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", apperr.Invalidf("%s is required", what)
	}
	id, ok := normalizeID(raw)
	if !ok {
		return "", apperr.Invalidf("%s is malformed", what)
	}
	return id, nil
}

// normalizeSlug lowercases s and turns runs of non-alphanumerics into single dashes.
func normalizeSlug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

func validateSlug(slug string) error {
	if !slugPattern.MatchString(slug) {
		return apperr.Invalidf("slug must be 3-64 lowercase letters, digits or dashes")
	}
	return nil
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperr.Invalidf("name is required")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", apperr.Invalidf("name is longer than %d characters", maxNameLength)
	}
	return name, nil
}

func validateText(text, what string, limit int) (string, error) {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) > limit {
		return "", apperr.Invalidf("%s is longer than %d characters", what, limit)
	}
	return text, nil
}
