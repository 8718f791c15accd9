// Package reply defines the Generator interface for the language-generation
// service that produces the interview coach's answers.
//
// The pipeline treats generation as an opaque text-in/text-out collaborator:
// it may fail or time out, and callers decide whether that is fatal (text
// endpoint) or whether to fall back to the user's own text (voice endpoint).
package reply

import (
	"context"
	"strings"
)

// CoachPrompt frames the model as an interview coach. Responses must be a
// single short paragraph so they chunk cleanly for synthesis.
const CoachPrompt = `You are an interviewer coaching a candidate. Respond to the candidate's last message.
Provide your response as a continuous paragraph without line breaks or bullet points.
Keep punctuation minimal, using mostly commas and periods. Your response must be concise and strictly limited to a maximum of 30 words.
Ask a single question each time. After hearing the candidate's answer, tell them what was good and bad about it, why, and what could be improved, then move on to the next question.`

// Generator produces a coach reply for the user's text.
type Generator interface {
	// Generate returns the generated reply, or an error if the service is
	// unreachable, times out, or rejects the request.
	Generate(ctx context.Context, userText string) (string, error)
}

// Normalize collapses all whitespace runs (including line breaks) in s to
// single spaces. Generated replies are normalized before chunking so that
// synthesis units and the transcript header stay single-line.
func Normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
