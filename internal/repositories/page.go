package repositories

import "chat-core/internal/models"

// trimPage cuts a limit+1 fetch down to limit rows and reports whether more rows exist.
// Rows fetched newest-first are returned oldest-first.
func trimPage(msgs []models.Message, limit int, newestFirst bool) ([]models.Message, bool) {
	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}
	if newestFirst {
		for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
			msgs[i], msgs[j] = msgs[j], msgs[i]
		}
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	return msgs, hasMore
}

func sortPair(a, b int64) (int64, int64) {
	if a > b {
		return b, a
	}
	return a, b
}

func correlationKeys(in models.NewMessage) []string {
	keys := make([]string, 0, 2)
	if in.TempID != "" {
		keys = append(keys, in.TempID)
	}
	if in.RetryOf != "" && in.RetryOf != in.TempID {
		keys = append(keys, in.RetryOf)
	}
	return keys
}
