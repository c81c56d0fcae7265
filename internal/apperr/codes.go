package apperr

// Numeric error codes exposed through the unified {code,msg,data} wrapper.
// 0 means success. 2xxx are auth failures, 3xxx external-dependency
// failures, and 140xx are planner/assistant business codes carried over
// from the public API contract.
const (
	CodeOK = 0

	CodeNotAuthorized = 2001
	CodeAdminRequired = 2002

	CodeLLMProvider    = 3001
	CodeLLMTimeout     = 3002
	CodeLLMRateLimit   = 3003
	CodeLLMBadOutput   = 3004
	CodePoiProvider    = 3010
	CodeMemoryProvider = 3020

	CodeRangeExceeded       = 14070
	CodeInvalidParams       = 14071
	CodeUserMissing         = 14072
	CodePlanFailed          = 14079
	CodePersistenceFailed   = 14080
	CodeBadMode             = 14081
	CodeDBConflict          = 14082
	CodeCancelled           = 14083
	CodeTaskNotFound        = 14084
	CodeTaskNotAuthorized   = 14085
	CodeIdempotencyConflict = 14086
	CodeRateLimited         = 14087
	CodeDeepUnsupported     = 14088
	CodeDeepPlanFailed      = 14089

	CodeInternal = 15000
)

var kindCodes = map[Kind]int{
	KindInvalidParams:       CodeInvalidParams,
	KindBadMode:             CodeBadMode,
	KindRangeExceeded:       CodeRangeExceeded,
	KindNotAuthorized:       CodeNotAuthorized,
	KindAdminRequired:       CodeAdminRequired,
	KindTaskNotAuthorized:   CodeTaskNotAuthorized,
	KindIdempotencyConflict: CodeIdempotencyConflict,
	KindRateLimited:         CodeRateLimited,
	KindQueueFull:           CodeRateLimited,
	KindLLMTimeout:          CodeLLMTimeout,
	KindLLMRateLimit:        CodeLLMRateLimit,
	KindLLMInvalidOutput:    CodeLLMBadOutput,
	KindLLMProviderError:    CodeLLMProvider,
	KindPoiProviderError:    CodePoiProvider,
	KindMemoryProviderError: CodeMemoryProvider,
	KindPlanFailed:          CodePlanFailed,
	KindDeepUnsupported:     CodeDeepUnsupported,
	KindDeepPlanFailed:      CodeDeepPlanFailed,
	KindDBConflict:          CodeDBConflict,
	KindPersistenceFailed:   CodePersistenceFailed,
	KindNotFound:            CodeTaskNotFound,
	KindUserMissing:         CodeUserMissing,
	KindCancelled:           CodeCancelled,
	KindWorkerRestart:       CodeInternal,
	KindInternal:            CodeInternal,
}

// CodeFor maps an error kind to its stable numeric code.
func CodeFor(kind Kind) int {
	if code, ok := kindCodes[kind]; ok {
		return code
	}
	return CodeInternal
}
