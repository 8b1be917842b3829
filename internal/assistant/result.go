package assistant

// ResultKind classifies the outcome of handling one message or command.
// Callers branch on the kind, never on message text.
type ResultKind int

const (
	// KindReply is a plain conversational or informational reply.
	KindReply ResultKind = iota
	// KindPending means a mutation was proposed and awaits confirmation.
	KindPending
	// KindNotFound means entity resolution matched nothing.
	KindNotFound
	// KindAmbiguous means resolution matched several records; Candidates is set.
	KindAmbiguous
	// KindToolNotSupported means the command's tool is not in any registry
	// reachable by the actor.
	KindToolNotSupported
	// KindUnauthorized means the actor lacks the staff or customer context
	// the tool requires.
	KindUnauthorized
	// KindBackendFailure means the CRM API returned an error or was unreachable.
	KindBackendFailure
	// KindModelTimeout means the language model call exceeded its deadline.
	KindModelTimeout
	// KindValidationFailure means the command or its input needs correction;
	// Text carries a specific corrective prompt.
	KindValidationFailure
)

func (k ResultKind) String() string {
	switch k {
	case KindReply:
		return "reply"
	case KindPending:
		return "pending"
	case KindNotFound:
		return "not_found"
	case KindAmbiguous:
		return "ambiguous"
	case KindToolNotSupported:
		return "tool_not_supported"
	case KindUnauthorized:
		return "unauthorized"
	case KindBackendFailure:
		return "backend_failure"
	case KindModelTimeout:
		return "model_timeout"
	case KindValidationFailure:
		return "validation_failure"
	default:
		return "unknown"
	}
}

// Candidate is one of several records matched during entity resolution,
// surfaced so the user can disambiguate in a follow-up turn.
type Candidate struct {
	ID    int64
	Name  string
	Phone string
	Code  string
}

// Result is the outcome of one handled message, command, or confirmation.
type Result struct {
	Kind       ResultKind
	Text       string         // user-facing message, already formatted
	Markdown   bool           // Text is raw model output (Markdown), not HTML
	Pending    *PendingAction // set when Kind == KindPending
	Candidates []Candidate    // set when Kind == KindAmbiguous
}

// Reply builds a plain reply result.
func Reply(text string) *Result {
	return &Result{Kind: KindReply, Text: text}
}

func notFound(text string) *Result {
	return &Result{Kind: KindNotFound, Text: text}
}

func backendFailure(text string) *Result {
	return &Result{Kind: KindBackendFailure, Text: text}
}

func validationFailure(text string) *Result {
	return &Result{Kind: KindValidationFailure, Text: text}
}
