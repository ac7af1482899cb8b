package errors

// Error codes used across Libris. Codes are grouped by subsystem:
// 1xx lock manager, 2xx extraction, 3xx embedding, 4xx store, 5xx jobs,
// 9xx config/internal.
const (
	// ErrCodeLockTimeout indicates the database lock was not acquired
	// within the caller's budget. Retryable.
	ErrCodeLockTimeout = "ERR_101_LOCK_TIMEOUT"

	// ErrCodeLockIO indicates a filesystem failure while manipulating
	// the lock record file.
	ErrCodeLockIO = "ERR_102_LOCK_IO"

	// ErrCodeLockLost indicates the lock record no longer carries our
	// session token (reclaimed by a contender after missed renewals).
	ErrCodeLockLost = "ERR_103_LOCK_LOST"

	// ErrCodeUnsupportedFormat indicates a source file extension with
	// no registered extractor.
	ErrCodeUnsupportedFormat = "ERR_201_UNSUPPORTED_FORMAT"

	// ErrCodeExtraction indicates text extraction from a source failed.
	ErrCodeExtraction = "ERR_202_EXTRACTION_FAILED"

	// ErrCodeEmbedding indicates embedding generation failed. Retryable.
	ErrCodeEmbedding = "ERR_301_EMBEDDING_FAILED"

	// ErrCodeStore indicates a store-level write or read failure.
	ErrCodeStore = "ERR_401_STORE_FAILED"

	// ErrCodeJobRunning indicates a background job start was rejected
	// because another job is already running.
	ErrCodeJobRunning = "ERR_501_JOB_ALREADY_RUNNING"

	// ErrCodeConfigInvalid indicates a configuration problem.
	ErrCodeConfigInvalid = "ERR_901_CONFIG_INVALID"

	// ErrCodeInternal indicates an unexpected internal failure.
	ErrCodeInternal = "ERR_999_INTERNAL"
)

// Category groups errors by subsystem for logging and presentation.
type Category string

const (
	CategoryLock     Category = "lock"
	CategoryExtract  Category = "extract"
	CategoryEmbed    Category = "embed"
	CategoryStore    Category = "store"
	CategoryJob      Category = "job"
	CategoryConfig   Category = "config"
	CategoryInternal Category = "internal"
)

// Severity indicates how an error should be handled.
type Severity string

const (
	// SeverityWarning errors are recorded and processing continues
	// (e.g. a single book failing inside a larger job).
	SeverityWarning Severity = "warning"

	// SeverityError errors abort the current operation.
	SeverityError Severity = "error"

	// SeverityFatal errors abort the whole process.
	SeverityFatal Severity = "fatal"
)

// categoryFromCode derives the category from an error code prefix.
func categoryFromCode(code string) Category {
	switch {
	case hasPrefix(code, "ERR_1"):
		return CategoryLock
	case hasPrefix(code, "ERR_2"):
		return CategoryExtract
	case hasPrefix(code, "ERR_3"):
		return CategoryEmbed
	case hasPrefix(code, "ERR_4"):
		return CategoryStore
	case hasPrefix(code, "ERR_5"):
		return CategoryJob
	case code == ErrCodeConfigInvalid:
		return CategoryConfig
	default:
		return CategoryInternal
	}
}

// severityFromCode derives the default severity from an error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeUnsupportedFormat, ErrCodeExtraction:
		return SeverityWarning
	case ErrCodeLockIO, ErrCodeInternal:
		return SeverityFatal
	default:
		return SeverityError
	}
}

// isRetryableCode reports whether operations failing with this code may
// be retried by the caller.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeLockTimeout, ErrCodeEmbedding:
		return true
	default:
		return false
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
