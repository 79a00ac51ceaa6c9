package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 13000-13099: Submission (run) errors
// 13100-13199: Submit queue errors
// 13200-13299: Judge proxy errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError       ErrorCode = 10100
	RecordNotFound      ErrorCode = 10101
	RecordAlreadyExists ErrorCode = 10102
	TransactionFailed   ErrorCode = 10103

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// Storage errors (10400-10499)
	StorageError ErrorCode = 10400

	// ========== Submission Errors (13000-13099) ==========

	RunNotFound           ErrorCode = 13000
	RunCreateFailed       ErrorCode = 13001
	SourceTooLarge        ErrorCode = 13002
	SourceTooSmall        ErrorCode = 13003
	SubmitTooFrequently   ErrorCode = 13004
	DuplicateSubmission   ErrorCode = 13005
	ProblemNotFound       ErrorCode = 13006
	InvalidUser           ErrorCode = 13007
	SourceNotFound        ErrorCode = 13008
	RunStatusUpdateFailed ErrorCode = 13009

	// ========== Submit Queue Errors (13100-13199) ==========

	QueueError       ErrorCode = 13100
	EnqueueFailed    ErrorCode = 13101
	DequeueFailed    ErrorCode = 13102
	CorruptQueueItem ErrorCode = 13103

	// ========== Judge Proxy Errors (13200-13299) ==========

	JudgeUnavailable    ErrorCode = 13200
	JudgeBadResponse    ErrorCode = 13201
	JudgeRequestFailed  ErrorCode = 13202
	StatusPublishFailed ErrorCode = 13203
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Database
	DatabaseError:       "Database operation failed",
	RecordNotFound:      "Record not found in database",
	RecordAlreadyExists: "Record already exists",
	TransactionFailed:   "Database transaction failed",

	// Cache
	CacheError: "Cache operation failed",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Storage
	StorageError: "Object storage operation failed",

	// Submission
	RunNotFound:           "Run not found",
	RunCreateFailed:       "Failed to create run",
	SourceTooLarge:        "Submission should be less than the size limit",
	SourceTooSmall:        "Submission shouldn't be empty",
	SubmitTooFrequently:   "Submitting too frequently, please wait",
	DuplicateSubmission:   "Source file is duplicate of your previous submission",
	ProblemNotFound:       "Problem with this id is not found",
	InvalidUser:           "Wrong user status",
	SourceNotFound:        "Run source not found",
	RunStatusUpdateFailed: "Failed to update run status",

	// Submit queue
	QueueError:       "Submit queue operation failed",
	EnqueueFailed:    "Failed to enqueue submission",
	DequeueFailed:    "Failed to dequeue submission",
	CorruptQueueItem: "Submit queue item is corrupt",

	// Judge proxy
	JudgeUnavailable:    "Judge is unavailable",
	JudgeBadResponse:    "Judge returned malformed response",
	JudgeRequestFailed:  "Judge request failed",
	StatusPublishFailed: "Failed to publish run status",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == Unauthorized:
		return 401
	case c == Forbidden:
		return 403
	case c == NotFound, c == RunNotFound, c == ProblemNotFound, c == SourceNotFound:
		return 404
	case c == TooManyRequests, c == SubmitTooFrequently:
		return 429
	case c == ServiceUnavailable, c == JudgeUnavailable:
		return 503
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams, c == SourceTooLarge, c == SourceTooSmall, c == DuplicateSubmission, c == InvalidUser:
		return 400
	default:
		return 500
	}
}
