package session

import "github.com/MrWong99/lybot/pkg/provider/llm"

// Trim drops the oldest turns of history until its estimated token count is
// within budget. A turn starts at a user message, so an assistant tool call is
// never separated from its tool results. Leading system messages are kept and
// the last turn is never dropped. A budget of 0 or less disables trimming.
func Trim(history []llm.Message, budget int) []llm.Message {
	if budget <= 0 || llm.EstimateTokens(history) <= budget {
		return history
	}

	head := 0
	for head < len(history) && history[head].Role == llm.RoleSystem {
		head++
	}
	system, rest := history[:head], history[head:]

	for llm.EstimateTokens(system)+llm.EstimateTokens(rest) > budget {
		next := nextTurn(rest)
		if next < 0 {
			break
		}
		rest = rest[next:]
	}

	out := make([]llm.Message, 0, len(system)+len(rest))
	out = append(out, system...)
	return append(out, rest...)
}

// nextTurn returns the index of the first user message after index 0, or -1.
func nextTurn(msgs []llm.Message) int {
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Role == llm.RoleUser {
			return i
		}
	}
	return -1
}
