package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/web-shredder/chunk-daddy-sub002/internal/apperr"
)

var validate = validator.New()

// Decode parses raw into out. Output that is not valid JSON gets one repair pass;
// if it is still invalid the error is of kind response_truncated. Parsed values are
// checked against their `validate` tags and fail as response_malformed.
func Decode(raw []byte, out any) error {
	data := bytes.TrimSpace(raw)
	if !json.Valid(data) {
		repaired := RepairJSON(data)
		if !json.Valid(repaired) {
			return &apperr.Error{
				Kind:    apperr.KindTruncated,
				Op:      "llm.decode",
				Message: apperr.TruncatedMessage,
				Err:     fmt.Errorf("invalid JSON after repair (%d bytes)", len(data)),
			}
		}
		data = repaired
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperr.Wrap(apperr.KindMalformed, "llm.decode", err)
	}
	if err := validate.Struct(out); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			// not a struct; nothing to check
			return nil
		}
		return apperr.Wrap(apperr.KindMalformed, "llm.validate", err)
	}
	return nil
}

// RepairJSON closes what a cut-off JSON document left open: an unterminated string,
// a dangling comma or colon, then every unmatched '{' or '[' in nesting order.
func RepairJSON(raw []byte) []byte {
	var stack []byte
	inString, escaped := false, false
	for _, c := range raw {
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}

	out := append([]byte(nil), raw...)
	if inString {
		if escaped {
			out = out[:len(out)-1]
		}
		out = append(out, '"')
	}
	out = bytes.TrimRight(out, " \t\r\n")
	switch {
	case bytes.HasSuffix(out, []byte(",")):
		out = out[:len(out)-1]
	case bytes.HasSuffix(out, []byte(":")):
		out = append(out, "null"...)
	}
	for i := len(stack) - 1; i >= 0; i-- {
		out = append(out, stack[i])
	}
	return out
}
