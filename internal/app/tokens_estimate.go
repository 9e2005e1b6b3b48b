package app

import "unicode/utf8"

// EstimateTokens returns a conservative estimate of token count for a piece
// of text, used for transcript size readouts when the backend reported no
// usage. This is not a tokenizer.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	// Most BPE tokenizers end up around ~3-4 chars/token for English-ish
	// text. Bytes/3 is a decent conservative bound; also bound by runes/2 to
	// avoid undercounting for mostly-ASCII short tokens.
	b := len(text)
	r := utf8.RuneCountInString(text)
	byBytes := b / 3
	byRunes := r / 2
	if byBytes < byRunes {
		return byRunes
	}
	return byBytes
}

// EstimateConversationTokens sums the text payloads of a conversation.
func EstimateConversationTokens(conv *Conversation) int {
	if conv == nil {
		return 0
	}
	total := 0
	for _, e := range conv.Entries {
		total += EstimateTokens(e.Text)
		total += EstimateTokens(e.Result)
	}
	return total
}
