package notifier

import (
	"context"
	"fmt"

	sectionsense "github.com/jacobmichels/Section-Sense-Go"
)

// MaxMessageLength is the transport's payload limit, in characters
const MaxMessageLength = 4000

// Chunks splits text into consecutive pieces of at most limit runes, cutting after the last newline
// that fits so Markdown entities stay within one piece. Lines longer than limit are cut hard.
// Joining the pieces gives back text exactly.
func Chunks(text string, limit int) []string {
	if text == "" {
		return nil
	}

	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return []string{text}
	}

	chunks := make([]string, 0, (len(runes)+limit-1)/limit)
	for start := 0; start < len(runes); {
		end := start + limit
		if end >= len(runes) {
			end = len(runes)
		} else {
			for i := end - 1; i > start; i-- {
				if runes[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		chunks = append(chunks, string(runes[start:end]))
		start = end
	}
	return chunks
}

// SendChunked delivers text in order as MaxMessageLength sized messages.
// The first failing chunk stops the send, chunks already delivered stay delivered.
func SendChunked(ctx context.Context, m sectionsense.Messenger, id, text string) error {
	chunks := Chunks(text, MaxMessageLength)
	for i, chunk := range chunks {
		if err := m.Send(ctx, id, chunk); err != nil {
			return fmt.Errorf("failed to send chunk %d of %d to %s: %w", i+1, len(chunks), id, err)
		}
	}
	return nil
}
