package enums

type DeadLetterReason string

const (
	DeadLetterReasonMaxAttempts   DeadLetterReason = "max_attempts"
	DeadLetterReasonNonRetryable  DeadLetterReason = "non_retryable"
	DeadLetterReasonTenantUnknown DeadLetterReason = "tenant_unknown"
)

// IsValid reports whether r is one of the reasons dead_letters accepts.
func (r DeadLetterReason) IsValid() bool {
	switch r {
	case DeadLetterReasonMaxAttempts, DeadLetterReasonNonRetryable, DeadLetterReasonTenantUnknown:
		return true
	}
	return false
}
