package privacy

import (
	"strings"

	"chatqueue/internal/constants"
)

// MaskID masks an opaque identifier, keeping the last few characters for correlation
// Example: "6f1c2d7e-0b5a-4d8e-9a8f-3c2b1a0d9e8f" -> "********************************9e8f"
func MaskID(id string) string {
	return maskString(id, constants.DefaultIDVisibleChars)
}

// MaskConversationID masks a conversation identifier. Prefixed ids such as
// "ticket:12345" keep their prefix so the log line stays readable.
func MaskConversationID(conversationID string) string {
	if conversationID == "" {
		return ""
	}
	if idx := strings.Index(conversationID, ":"); idx > 0 && idx < len(conversationID)-1 {
		return conversationID[:idx+1] + maskString(conversationID[idx+1:], constants.DefaultIDVisibleChars)
	}
	return maskString(conversationID, constants.DefaultIDVisibleChars)
}

// HideContent never reveals message text
func HideContent(content string) string {
	if content == "" {
		return ""
	}
	return "[hidden]"
}

// MaskSensitiveFields applies appropriate masking to common logging fields
func MaskSensitiveFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}

	masked := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		s, isString := v.(string)
		if !isString {
			masked[k] = v
			continue
		}
		switch k {
		case "message_id", "messageId", "id":
			masked[k] = MaskID(s)
		case "conversation_id", "conversationId":
			masked[k] = MaskConversationID(s)
		case "content", "text", "file_name", "fileName":
			masked[k] = HideContent(s)
		default:
			masked[k] = v
		}
	}
	return masked
}

// maskString masks a string showing only the last n characters
func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}
	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}
