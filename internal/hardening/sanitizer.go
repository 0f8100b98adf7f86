package hardening

import (
	"errors"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

// Sanitizer validation errors.
var (
	ErrEmptyInput       = errors.New("input is empty")
	ErrNullByte         = errors.New("input contains a null byte")
	ErrControlChar      = errors.New("input contains control characters")
	ErrShellMetachar    = errors.New("input contains shell metacharacters")
	ErrDisallowedScheme = errors.New("url scheme is not allowed")
)

// shellMetachars matches the characters and sequences that would let an
// argument escape a single-token shell invocation: the classic
// metacharacter set, command chaining (&&, ||), and piping into a shell.
var shellMetachars = regexp.MustCompile("[;|`$<>]|&&|\\|\\|")

var pipeToShell = regexp.MustCompile(`\|\s*(bash|sh|zsh)\b`)

// controlChars matches ASCII control characters and DEL; tab, newline and
// carriage return are not matched and pass through unchanged.
var controlChars = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)

// allowedURLSchemes is the scheme allow-list for any URL accepted by a
// tool input.
var allowedURLSchemes = map[string]bool{"http": true, "https": true}

// SanitizeShellArgument rejects any string containing shell
// metacharacters, command-chaining operators, or a pipe into a shell
// interpreter, after stripping control characters. An input that contains
// a null byte is rejected with ErrNullByte. It returns the trimmed,
// validated string.
func SanitizeShellArgument(input string) (string, error) {
	if input == "" {
		return "", ErrEmptyInput
	}
	trimmed := strings.TrimSpace(StripControlChars(input))
	if trimmed == "" {
		return "", ErrEmptyInput
	}
	if strings.Contains(input, "\x00") {
		return "", ErrNullByte
	}
	if shellMetachars.MatchString(trimmed) || pipeToShell.MatchString(trimmed) {
		return "", ErrShellMetachar
	}
	return trimmed, nil
}

// StripControlChars removes null bytes and non-printable control
// characters from input, leaving ordinary text untouched.
func StripControlChars(input string) string {
	without := strings.ReplaceAll(input, "\x00", "")
	return controlChars.ReplaceAllString(without, "")
}

// CanonicalizePath cleans a file path and resolves it against root,
// returning an error if the result would escape root (a ".." traversal
// attempt). root must itself already be absolute.
func CanonicalizePath(root, input string) (string, error) {
	if input == "" {
		return "", ErrEmptyInput
	}
	cleanRoot := filepath.Clean(root)
	joined := filepath.Join(cleanRoot, input)
	resolved := filepath.Clean(joined)

	rel, err := filepath.Rel(cleanRoot, resolved)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.New("path escapes workspace root")
	}
	return resolved, nil
}

// SanitizeURL validates that a URL uses an allowed scheme (http/https
// only) and returns its normalized form.
func SanitizeURL(input string) (string, error) {
	if input == "" {
		return "", ErrEmptyInput
	}
	parsed, err := url.Parse(strings.TrimSpace(input))
	if err != nil {
		return "", err
	}
	if !allowedURLSchemes[strings.ToLower(parsed.Scheme)] {
		return "", ErrDisallowedScheme
	}
	return parsed.String(), nil
}
