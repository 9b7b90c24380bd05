package chat

import (
	"fmt"
	"unicode/utf8"

	"github.com/parley/chat-server/internal/errs"
)

const (
	MaxContentBytes = 4096 // max payload size per message
	MaxTextChars    = 2000 // max character count for text messages
)

// ValidateContent checks that a message payload meets content requirements.
// File payloads (references to uploaded attachments) skip the character
// limit but still honor the byte cap.
func ValidateContent(content string, isFile bool) error {
	if len(content) == 0 {
		return fmt.Errorf("chat: empty message content: %w", errs.ErrInvalidRequest)
	}
	if len(content) > MaxContentBytes {
		return fmt.Errorf("chat: content exceeds %d byte limit: %w", MaxContentBytes, errs.ErrInvalidRequest)
	}
	if !utf8.ValidString(content) {
		return fmt.Errorf("chat: content contains invalid UTF-8: %w", errs.ErrInvalidRequest)
	}
	if !isFile && utf8.RuneCountInString(content) > MaxTextChars {
		return fmt.Errorf("chat: content exceeds %d character limit: %w", MaxTextChars, errs.ErrInvalidRequest)
	}
	return nil
}
