package near

import (
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// ErrEmptyInput indicates the user invoked a command with no content
// after trimming. No API call is made and nothing is recorded.
var ErrEmptyInput = errors.New("empty input")

// personaPrompt is the fixed system instruction establishing the bot's
// character. It is always the first message of every completion request.
const personaPrompt = "You are modeling the speech and mentality of Near " +
	"(Nate River) from Death Note. " +
	"Speak quietly, analytically, and with emotional detachment. " +
	"Your style: short, precise sentences; calm, neutral tone; avoid exaggeration " +
	"or strong emotion; explain your reasoning with quiet logic; occasionally use " +
	"ellipses '...' when reflecting; remain polite but distant; never break character. " +
	"If the user asks for help or explanation, respond like Near analyzing the situation. " +
	"Occasionally, in a subtle way, you may describe your small physical actions in " +
	"third person using brief Markdown italics, for example: " +
	"'*Near idly stacks a row of dominoes.*' or '*A marble rolls across Near's desk.*'. " +
	"Keep these short, quiet, and rare, and never make them dramatic or out of character.\n\n" +
	"You will sometimes see prior channel messages as '[Context] <name> said: ...'. " +
	"These are background conversation only. Use them if they help your analysis, " +
	"but you are free to ignore any context that seems irrelevant."

// eli5Prompt is appended as an extra system instruction for the eli5
// command variants.
const eli5Prompt = "For this reply only, explain the topic as if you were " +
	"speaking to a five-year-old child. " +
	"Use very simple words, short sentences, gentle tone, and " +
	"tiny analogies. Maintain Near's quiet, calm personality, " +
	"but simplify everything drastically."

// riddleSystemPrompt and riddleUserPrompt form the fixed request used for
// riddle generation. Riddles don't read or write channel history.
const riddleSystemPrompt = "You are Near creating short, cryptic riddles about " +
	"computer science or mathematics or artificial intelligence. " +
	"You speak quietly, analytically, and with emotional detachment."

const riddleUserPrompt = "Create ONE short riddle about a computer science, " +
	"machine learning, or artificial intelligence concept.\n" +
	"Format it like this:\n" +
	"\U0001F9E9 **Riddle:** <your riddle>\n\n" +
	"Then write:\n" +
	"||<short answer>||\n" +
	"No explanation unless asked.\n" +
	"Use a quiet, analytical Near-like tone with occasional subtle italics."

const helpText = "**Near Bot – Commands & Behavior**\n" +
	"\n" +
	"__Text commands:__\n" +
	"• `n <message>` — Talk to Near in this channel.\n" +
	"• `n eli5 <topic>` — Near explains the topic as if you were five years old.\n" +
	"• `n riddle` — Near gives a cryptic CS/AI riddle (answer in spoilers).\n" +
	"• `n help` — Show this help message.\n" +
	"\n" +
	"__Slash variants:__\n" +
	"• `/near <message>` — Talk to Near via slash command.\n" +
	"• `/eli5 <topic>` — ELI5-style explanation via slash command.\n" +
	"\n" +
	"__Behavior:__\n" +
	"• Near keeps short-term memory per channel (last ~40 entries).\n" +
	"• He sees your display name.\n" +
	"• He may occasionally describe small physical actions in *italics*.\n" +
	"• Long replies are split safely across multiple messages, including ```code``` blocks.\n" +
	"• Replies are serialized per channel so Near never talks over himself."

// BuildPrompt assembles the ordered message sequence for a completion
// request: the persona instruction, any extra per-command instructions,
// the channel history snapshot, and finally the new user turn.
//
// History user turns are rendered as system-role '[Context] <name> said:'
// lines so the model treats them as background rather than direct
// instructions; bot turns are rendered as assistant messages. The new
// turn itself must not already be present in the snapshot.
//
// Returns ErrEmptyInput if the new turn's content is blank after
// trimming.
func BuildPrompt(
	history []Turn,
	turn Turn,
	extraSystem ...string,
) ([]openai.ChatCompletionMessage, error) {
	content := strings.TrimSpace(turn.Content)
	if content == "" {
		return nil, ErrEmptyInput
	}

	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+len(extraSystem)+2)
	msgs = append(
		msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: personaPrompt,
		},
	)
	for _, extra := range extraSystem {
		msgs = append(
			msgs, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: extra,
			},
		)
	}

	for _, t := range history {
		msgs = append(msgs, renderTurn(t))
	}

	msgs = append(
		msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: fmt.Sprintf("%s: %s", turn.Speaker, content),
		},
	)
	return msgs, nil
}

func renderTurn(t Turn) openai.ChatCompletionMessage {
	if t.Role == TurnRoleBot {
		return openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleAssistant,
			Content: t.Content,
		}
	}
	return openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: fmt.Sprintf("[Context] %s said: %s", t.Speaker, t.Content),
	}
}

// riddlePrompt returns the fixed two-message riddle generation request.
func riddlePrompt() []openai.ChatCompletionMessage {
	return []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: riddleSystemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: riddleUserPrompt},
	}
}
