package hook

import (
	"context"
	"strings"
	"unicode/utf8"
)

// Censor returns a BeforeMessagePersist handler that masks every
// case-insensitive occurrence of words with '*'. When a draft consists only
// of masked text it is interrupted instead.
func Censor(words []string) HookFn {
	lowered := make([]string, 0, len(words))
	for _, w := range words {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			lowered = append(lowered, w)
		}
	}
	return func(_ context.Context, _ string, data interface{}) (interface{}, error) {
		draft, ok := data.(*MessageDraft)
		if !ok || len(lowered) == 0 {
			return data, nil
		}
		masked := mask(draft.Content, lowered)
		if masked == draft.Content {
			return draft, nil
		}
		draft.Content = masked
		if strings.Trim(masked, "* \t") == "" {
			return draft, Interrupt("filtered")
		}
		return draft, nil
	}
}

func mask(s string, words []string) string {
	lower := strings.ToLower(s)
	// Only byte offsets are shared between s and lower when lowering keeps
	// every rune's width; otherwise fall back to matching on lower itself.
	if len(lower) != len(s) {
		s = lower
	}
	out := []byte(s)
	for _, w := range words {
		for from := 0; ; {
			i := strings.Index(lower[from:], w)
			if i < 0 {
				break
			}
			start := from + i
			end := start + len(w)
			stars := strings.Repeat("*", utf8.RuneCountInString(w))
			out = append(out[:start], append([]byte(stars), out[end:]...)...)
			lower = lower[:start] + stars + lower[end:]
			from = start + len(stars)
		}
	}
	return string(out)
}
