package engine

// LoopState is owned by exactly one running loop.
type LoopState struct {
	InvocationID  string
	Messages      []Message // append-only for the whole invocation
	Step          int       // model calls made so far, never above MaxSteps
	MaxSteps      int
	LastSignature string
	RepeatCount   int
	ToolCalls     int
	Totals        Usage
}

// Append adds messages to the conversation; the sequence never shrinks.
func (s *LoopState) Append(msgs ...Message) { s.Messages = append(s.Messages, msgs...) }

// observeRepeat records sig and reports how many consecutive times it has
// been seen after the first.
func (s *LoopState) observeRepeat(sig string) int {
	if s.LastSignature != "" && sig == s.LastSignature {
		s.RepeatCount++
		return s.RepeatCount
	}
	s.LastSignature = sig
	s.RepeatCount = 0
	return 0
}
