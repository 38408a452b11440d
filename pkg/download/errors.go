package download

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a download failure. Terminal kinds are recorded as
// cache sentinels so repeat requests fail fast; retryable kinds feed the
// backoff tracker and requeue.
type ErrorKind string

const (
	ErrKindAgeRestricted ErrorKind = "age_restricted"
	ErrKindPrivate       ErrorKind = "private"
	ErrKindUnavailable   ErrorKind = "unavailable"
	ErrKindTooLong       ErrorKind = "too_long"
	ErrKindBanned        ErrorKind = "banned"

	ErrKindBotFlagged ErrorKind = "bot_flagged"
	ErrKindTimeout    ErrorKind = "timeout"
	ErrKindNetwork    ErrorKind = "network"
	ErrKindUnknown    ErrorKind = "unknown"
)

// Terminal reports whether the kind is a content-class failure that no
// retry can fix
func (k ErrorKind) Terminal() bool {
	switch k {
	case ErrKindAgeRestricted, ErrKindPrivate, ErrKindUnavailable, ErrKindTooLong, ErrKindBanned:
		return true
	}
	return false
}

// Error is a classified download failure
type Error struct {
	Kind        ErrorKind
	Message     string
	UserMessage string
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTerminal reports whether err is a terminal download failure
func IsTerminal(err error) bool {
	var dlErr *Error
	if errors.As(err, &dlErr) {
		return dlErr.Kind.Terminal()
	}
	return false
}

// IsRetryable reports whether err is worth another attempt
func IsRetryable(err error) bool {
	var dlErr *Error
	if errors.As(err, &dlErr) {
		return !dlErr.Kind.Terminal()
	}
	return false
}

// KindOf returns the classified kind, or ErrKindUnknown for foreign errors
func KindOf(err error) ErrorKind {
	var dlErr *Error
	if errors.As(err, &dlErr) {
		return dlErr.Kind
	}
	return ErrKindUnknown
}

// classifyExtractorError maps extractor output onto the error taxonomy.
// Patterns follow the messages yt-dlp prints for each failure class.
func classifyExtractorError(search, output string, err error) *Error {
	if strings.Contains(output, "Private video") {
		return &Error{
			Kind:        ErrKindPrivate,
			Message:     "video is private",
			UserMessage: fmt.Sprintf("Video from search %q is unavailable, cannot download", search),
			Err:         err,
		}
	}
	if strings.Contains(output, "Video unavailable") {
		return &Error{
			Kind:        ErrKindUnavailable,
			Message:     "video is unavailable",
			UserMessage: fmt.Sprintf("Video from search %q is unavailable, cannot download", search),
			Err:         err,
		}
	}
	if strings.Contains(output, "Sign in to confirm your age") {
		return &Error{
			Kind:        ErrKindAgeRestricted,
			Message:     "video age restricted",
			UserMessage: fmt.Sprintf("Video from search %q is age restricted, cannot download", search),
			Err:         err,
		}
	}
	if strings.Contains(output, "Sign in to confirm you") && strings.Contains(output, "not a bot") {
		return &Error{
			Kind:        ErrKindBotFlagged,
			Message:     "download flagged as bot",
			UserMessage: fmt.Sprintf("Video from search %q flagged as bot download, skipping", search),
			Err:         err,
		}
	}
	if isRetryableExtractorOutput(strings.ToLower(output)) || isNetworkError(err) {
		return &Error{
			Kind:        ErrKindNetwork,
			Message:     "transient download failure",
			UserMessage: fmt.Sprintf("Download for search %q failed, will retry", search),
			Err:         err,
		}
	}
	return &Error{
		Kind:        ErrKindUnknown,
		Message:     "download failed",
		UserMessage: fmt.Sprintf("Download for search %q failed, will retry", search),
		Err:         err,
	}
}

// isRetryableExtractorOutput checks extractor output for throttling and
// transport failure patterns
func isRetryableExtractorOutput(output string) bool {
	retryablePatterns := []string{
		"http error 429",
		"http error 500",
		"http error 502",
		"http error 503",
		"http error 504",
		"connection timed out",
		"connection reset",
		"connection refused",
		"temporary failure",
		"unable to download webpage",
		"network error",
		"timed out",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(output, pattern) {
			return true
		}
	}
	return false
}

// isNetworkError checks for transport-level failure patterns
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	errorStr := strings.ToLower(err.Error())
	networkPatterns := []string{
		"connection refused",
		"connection reset",
		"network unreachable",
		"no route to host",
		"temporary failure",
		"timeout",
		"dial tcp",
		"i/o timeout",
		"broken pipe",
	}

	for _, pattern := range networkPatterns {
		if strings.Contains(errorStr, pattern) {
			return true
		}
	}
	return false
}
