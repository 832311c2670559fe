package translator

import (
	"fmt"
	"strings"

	"github.com/valpere/tabletran/internal/checkpoint"
	"github.com/valpere/tabletran/internal/postprocess"
	"github.com/valpere/tabletran/internal/unit"
)

// buildPrompt returns the system instruction and the user message for an
// LLM provider. The user message is the JSON payload of the stage input.
func buildPrompt(req Request) (string, string, error) {
	payload, err := req.Unit.Payload()
	if err != nil {
		return "", "", fmt.Errorf("failed to encode unit %s: %w", req.Unit.ID, err)
	}

	var sb strings.Builder
	switch req.Stage {
	case checkpoint.Refined:
		sb.WriteString(fmt.Sprintf("You are reviewing a %s translation of an English %s.\n", req.Target.Name, kindName(req.Unit)))
		sb.WriteString("Fix mistranslations and unnatural wording. Keep the meaning of the English original.\n")
	default:
		sb.WriteString(fmt.Sprintf("Translate every text cell of this %s from %s to %s.\n", kindName(req.Unit), req.Source.Name, req.Target.Name))
	}
	sb.WriteString("Return a JSON object with exactly the same keys, the same number of rows and the same number of cells per row.\n")
	sb.WriteString("Leave numbers, dates, codes and proper nouns unchanged. Respond with JSON only.")

	user := string(payload)
	if req.Stage == checkpoint.Refined && req.Original != nil {
		orig, err := req.Original.Payload()
		if err == nil {
			user = "English original:\n" + string(orig) + "\n\nTranslation to refine:\n" + user
		}
	}
	if req.Unit.Kind == unit.KindQA && req.Unit.Context != nil && req.Stage == checkpoint.Initial {
		if ctxPayload, err := req.Unit.Context.Payload(); err == nil {
			user = "Context table (do not translate):\n" + string(ctxPayload) + "\n\nTranslate:\n" + user
		}
	}
	return sb.String(), user, nil
}

func kindName(u *unit.Unit) string {
	if u.Kind == unit.KindQA {
		return "question and answer"
	}
	return "table"
}

// parseReply turns raw model output into a unit shaped like req.Unit.
func parseReply(req Request, content string) (*unit.Unit, error) {
	raw, err := postprocess.ExtractJSON(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	out, err := unit.Parse(req.Unit, []byte(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return out, nil
}
