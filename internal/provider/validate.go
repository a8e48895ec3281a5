package provider

import "strings"

// validateChat checks the invariants every vendor relies on: there is at
// least one message, and tool_call_id appears only on tool messages and
// names a call the assistant made earlier in the conversation.
func validateChat(req *ChatRequest) error {
	if req == nil || len(req.Messages) == 0 {
		return invalidf("at least one message is required")
	}
	issued := make(map[string]bool)
	for i, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem, RoleUser, RoleAssistant, RoleFunction, RoleTool:
		default:
			return invalidf("message %d: unknown role %q", i, msg.Role)
		}
		for _, tc := range msg.ToolCalls {
			if msg.Role != RoleAssistant {
				return invalidf("message %d: only assistant messages may carry tool_calls", i)
			}
			issued[tc.ID] = true
		}
		if msg.Role == RoleTool {
			if msg.ToolCallID == "" {
				return invalidf("message %d: tool message requires tool_call_id", i)
			}
			if !issued[msg.ToolCallID] {
				return invalidf("message %d: tool_call_id %q does not match an earlier assistant tool call", i, msg.ToolCallID)
			}
			continue
		}
		if msg.ToolCallID != "" {
			return invalidf("message %d: tool_call_id is only allowed on tool messages", i)
		}
	}
	return nil
}

func validateImage(req *ImageRequest) error {
	if req == nil || strings.TrimSpace(req.Prompt) == "" {
		return invalidf("prompt is required")
	}
	if req.Size != "" && !req.Size.Valid() {
		return invalidf("unsupported image size %q", req.Size)
	}
	if req.N < 0 {
		return invalidf("n must not be negative")
	}
	switch req.ResponseFormat {
	case "", ImageFormatURL, ImageFormatBase64:
	default:
		return invalidf("unsupported response_format %q", req.ResponseFormat)
	}
	return nil
}

func validateEmbedding(req *EmbeddingRequest) error {
	if req == nil || len(req.Input) == 0 {
		return invalidf("input is required")
	}
	for i, in := range req.Input {
		if in == "" {
			return invalidf("input %d is empty", i)
		}
	}
	switch req.EncodingFormat {
	case "", "float", "base64":
	default:
		return invalidf("unsupported encoding_format %q", req.EncodingFormat)
	}
	return nil
}
