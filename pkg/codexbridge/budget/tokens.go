// Package budget implements context-window accounting for the bridge: a
// crude byte-based token estimator, usage estimation against the model's
// window, and history compaction when the window fills up.
package budget

// Context window sizes selectable by settings.
const (
	ContextWindowStandard = 200_000
	ContextWindow1M       = 1_000_000
)

// EstimateTokens approximates the model tokens a string will consume:
// UTF-8 byte length divided by 3, rounded up. Deliberately crude; it is
// only used for relative budgeting, never for billing.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := (len(text) + 2) / 3
	if n < 1 {
		n = 1
	}
	return n
}

// TruncationMarker is appended to clipped text so the model can tell content
// was cut.
const TruncationMarker = "\n...(truncated)"

// Clamp truncates text to at most max bytes and appends TruncationMarker
// when it does. Text at or under the limit is returned unchanged.
func Clamp(text string, max int) string {
	if text == "" || len(text) <= max {
		return text
	}
	if max < 0 {
		max = 0
	}
	cut := text[:max]
	// Do not leave a split multi-byte rune at the cut point.
	if max < len(text) && text[max]&0xC0 == 0x80 {
		for len(cut) > 0 && cut[len(cut)-1]&0xC0 == 0x80 {
			cut = cut[:len(cut)-1]
		}
		if len(cut) > 0 {
			cut = cut[:len(cut)-1]
		}
	}
	return cut + TruncationMarker
}
