package ejudge

import "fmt"

// Codes reported by the judge that have a fixed human-readable message.
const (
	CodeSubmitted          = 0
	CodeDuplicateSubmit    = 82
	CodeLanguageNotAllowed = 37
	CodeAlreadySolved      = 83
	CodeQuotaExceeded      = 78
	CodeBinaryFile         = 105
	CodeSubmitEmpty        = 113
	CodeEmptyFile          = 120
	CodeSizeLimit          = 1000
)

// GenericFailurePrefix starts the message of codes missing from the table.
const GenericFailurePrefix = "submission-failed"

var statusMessages = map[int]string{
	CodeSubmitted:          "submitted-for-review",
	CodeEmptyFile:          "empty-file-submitted",
	CodeBinaryFile:         "binary-file-submitted",
	CodeDuplicateSubmit:    "duplicate-of-previous-submission",
	CodeLanguageNotAllowed: "language-not-allowed-for-problem",
	CodeAlreadySolved:      "problem-already-solved",
	CodeQuotaExceeded:      "file-too-large-or-quota-exceeded",
	CodeSubmitEmpty:        "submitted-file-empty",
	CodeSizeLimit:          "submission-exceeds-size-limit",
}

// StatusMessage returns the fixed message for code.
func StatusMessage(code int) (string, bool) {
	msg, ok := statusMessages[code]
	return msg, ok
}

// resolveError maps a judge error number onto a result. The judge reports
// some codes negated, so the negated value is tried before falling back.
func resolveError(num int, message string) Result {
	if msg, ok := statusMessages[num]; ok {
		return Result{Code: num, Message: msg}
	}
	if msg, ok := statusMessages[-num]; ok {
		return Result{Code: -num, Message: msg}
	}
	return Result{Code: num, Message: fmt.Sprintf("%s (%d %s)", GenericFailurePrefix, num, message)}
}
