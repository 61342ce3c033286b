package model

import (
	"fmt"
	"unicode/utf8"
)

const (
	MaxContentBytes = 4096 // max serialized payload size
	MaxContentChars = 2000 // max character count
)

// ValidateContent checks that message content meets the wire requirements.
func ValidateContent(content string) error {
	if len(content) == 0 {
		return fmt.Errorf("model: message content is empty")
	}
	if len(content) > MaxContentBytes {
		return fmt.Errorf("model: message content exceeds %d byte limit", MaxContentBytes)
	}
	if utf8.RuneCountInString(content) > MaxContentChars {
		return fmt.Errorf("model: message content exceeds %d character limit", MaxContentChars)
	}
	if !utf8.ValidString(content) {
		return fmt.Errorf("model: message content contains invalid UTF-8")
	}
	return nil
}
