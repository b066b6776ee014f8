package assistant

// Error definitions
var (
	ErrSessionAlreadyExists = NewAssistantError("an assistant session is already active")
	ErrSessionNotFound      = NewAssistantError("assistant session not found")
	ErrEmptyConsultationID  = NewAssistantError("consultation id is empty")
)

// AssistantError represents errors specific to assistant operations
type AssistantError struct {
	message string
}

func NewAssistantError(message string) *AssistantError {
	return &AssistantError{message: message}
}

func (e *AssistantError) Error() string {
	return e.message
}
