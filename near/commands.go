package near

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
)

const (
	// textCommandPrefix invokes the bot from a plain channel message
	textCommandPrefix = "n "

	textCommandHelp   = "n help"
	textCommandRiddle = "n riddle"
	textCommandELI5   = "n eli5"

	commandNameChat   = "chat"
	commandNameELI5   = "eli5"
	commandNameRiddle = "riddle"

	emptyInputReply     = "What do you want to ask? \U0001F642"
	emptyInputELI5Reply = "What do you want me to explain simply? \U0001F642"
	rateLimitedReply    = "I'm being rate limited at the moment... ask me again shortly."
	upstreamErrorReply  = "Oops, something went wrong talking to OpenAI."
	riddleErrorReply    = "Oops… I could not create a riddle this time."
)

// replySender abstracts sending a multi-chunk reply, so text-command
// replies and slash-command followups share one pipeline.
type replySender interface {
	// SendFirst sends the first chunk of a reply
	SendFirst(content string) error

	// SendFollowup sends each subsequent chunk
	SendFollowup(content string) error
}

// messageReplySender replies to a channel message: the first chunk is a
// reply referencing the invoking message, the rest are plain sends.
type messageReplySender struct {
	session   DiscordSessionHandler
	channelID string
	reference *discordgo.MessageReference
}

func (m messageReplySender) SendFirst(content string) error {
	_, err := m.session.ChannelMessageSendReply(m.channelID, content, m.reference)
	return err
}

func (m messageReplySender) SendFollowup(content string) error {
	_, err := m.session.ChannelMessageSend(m.channelID, content)
	return err
}

// interactionReplySender replies to a deferred slash command: the first
// chunk edits the deferred response, the rest are followup messages.
type interactionReplySender struct {
	session     DiscordSessionHandler
	interaction *discordgo.Interaction
}

func (s interactionReplySender) SendFirst(content string) error {
	_, err := s.session.InteractionResponseEdit(
		s.interaction,
		&discordgo.WebhookEdit{Content: &content},
	)
	return err
}

func (s interactionReplySender) SendFollowup(content string) error {
	_, err := s.session.FollowupMessageCreate(
		s.interaction,
		true,
		&discordgo.WebhookParams{Content: content},
	)
	return err
}

// chatRequest carries one invocation of the chat pipeline.
type chatRequest struct {
	command   string
	channelID string
	userID    string
	username  string

	// speaker is the author's display name, used to tag turns
	speaker string

	// text is the user's message with the command prefix stripped
	text string

	// extraSystem holds per-command system instructions (e.g. ELI5)
	extraSystem []string

	sender replySender

	// typing, if set, is called once the channel lock is held
	typing func()
}

// handleMessageCreate routes incoming channel messages. Recognized `n`
// commands run the chat pipeline; anything else is recorded as channel
// context so later replies can reference the surrounding conversation.
func (b *Bot) handleMessageCreate(ctx context.Context, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	b.discord.metricMessagesHandled.Add(1)

	content := m.Content
	lower := strings.ToLower(content)
	channelID := m.ChannelID
	speaker := messageDisplayName(m)

	sender := messageReplySender{
		session:   b.discord.session,
		channelID: channelID,
		reference: m.Reference(),
	}

	switch {
	case strings.HasPrefix(lower, textCommandHelp):
		if err := sender.SendFirst(helpText); err != nil {
			b.logger.ErrorContext(ctx, "error sending help", tint.Err(err))
		}

	case strings.HasPrefix(lower, textCommandRiddle):
		b.runRiddle(ctx, channelID, sender)

	case strings.HasPrefix(lower, textCommandELI5):
		text := strings.TrimSpace(
			strings.Trim(content[len(textCommandELI5):], " ,:-"),
		)
		b.runChat(
			ctx, chatRequest{
				command:     commandNameELI5,
				channelID:   channelID,
				userID:      m.Author.ID,
				username:    m.Author.Username,
				speaker:     speaker,
				text:        text,
				extraSystem: []string{eli5Prompt},
				sender:      sender,
				typing:      func() { _ = b.discord.session.ChannelTyping(channelID) },
			},
		)

	case strings.HasPrefix(lower, textCommandPrefix):
		b.runChat(
			ctx, chatRequest{
				command:   commandNameChat,
				channelID: channelID,
				userID:    m.Author.ID,
				username:  m.Author.Username,
				speaker:   speaker,
				text:      strings.TrimSpace(content[len(textCommandPrefix):]),
				sender:    sender,
				typing:    func() { _ = b.discord.session.ChannelTyping(channelID) },
			},
		)

	default:
		// not addressed to the bot - keep it as background context
		b.channels.Append(channelID, NewUserTurn(speaker, content))
	}
}

// handleInteractionCreate routes slash commands. The interaction is
// acknowledged with a deferred response before the pipeline runs, since
// model calls routinely exceed discord's 3-second response window.
func (b *Bot) handleInteractionCreate(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	user := getDiscordUser(i)
	if user == nil {
		b.logger.WarnContext(ctx, "no user found in interaction")
		return
	}

	data := i.ApplicationCommandData()
	var extraSystem []string
	var command string
	switch data.Name {
	case DiscordSlashCommandNear:
		command = commandNameChat
	case DiscordSlashCommandELI5:
		command = commandNameELI5
		extraSystem = []string{eli5Prompt}
	default:
		b.logger.WarnContext(ctx, "unknown command", "command", data.Name)
		return
	}

	var text string
	if opt := discordInteractionOptions(i)[slashCommandPromptOption]; opt != nil {
		text = opt.StringValue()
	}

	if err := b.discord.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		},
	); err != nil {
		b.logger.ErrorContext(ctx, "error acknowledging interaction", tint.Err(err))
		return
	}

	b.runChat(
		ctx, chatRequest{
			command:   command,
			channelID: i.ChannelID,
			userID:    user.ID,
			username:  user.Username,
			speaker:   userDisplayName(user),
			text:      strings.TrimSpace(text),
			extraSystem: extraSystem,
			sender: interactionReplySender{
				session:     b.discord.session,
				interaction: i.Interaction,
			},
		},
	)
}

// runChat executes the full reply pipeline for one chat request: under
// the channel lock, build the prompt from the history snapshot, call the
// model, send the split reply, then append both turns to history.
//
// Holding the lock across the model call is what serializes replies per
// channel; other channels are untouched.
func (b *Bot) runChat(ctx context.Context, req chatRequest) {
	requestID := uuid.NewString()
	log := b.logger.With(
		"request_id", requestID,
		"command", req.command,
		"channel_id", req.channelID,
	)
	ctx = WithLogger(ctx, log)

	if strings.TrimSpace(req.text) == "" {
		// no API call, no history append
		reply := emptyInputReply
		if req.command == commandNameELI5 {
			reply = emptyInputELI5Reply
		}
		if err := req.sender.SendFirst(reply); err != nil {
			log.ErrorContext(ctx, "error sending empty input reply", tint.Err(err))
		}
		return
	}

	rec := &ChatRecord{
		RequestID: requestID,
		Command:   req.command,
		ChannelID: req.channelID,
		UserID:    req.userID,
		Username:  req.username,
		Prompt:    req.text,
	}

	err := b.channels.WithChannelLock(
		req.channelID, func() error {
			if req.typing != nil {
				req.typing()
			}

			turn := NewUserTurn(req.speaker, req.text)
			history := b.channels.SnapshotLocked(req.channelID)

			msgs, err := BuildPrompt(history, turn, req.extraSystem...)
			if err != nil {
				return err
			}

			reply, usage, err := b.openai.Complete(ctx, requestID, msgs)
			if err != nil {
				rec.Error = err.Error()
				return err
			}
			rec.Response = reply
			rec.PromptTokens = usage.PromptTokens
			rec.CompletionTokens = usage.CompletionTokens
			rec.Cost = usage.Cost

			if err = b.sendChunks(ctx, req.sender, reply); err != nil {
				return err
			}

			b.channels.AppendLocked(req.channelID, turn)
			b.channels.AppendLocked(req.channelID, NewBotTurn(b.botDisplayName(), reply))
			return nil
		},
	)

	if b.writeDB != nil {
		if createErr := b.writeDB.Create(ctx, rec); createErr != nil {
			log.ErrorContext(ctx, "error saving chat record", tint.Err(createErr))
		}
	}

	if err != nil {
		log.ErrorContext(ctx, "chat command failed", tint.Err(err))
		if reply := userFacingError(err); reply != "" {
			if sendErr := req.sender.SendFirst(reply); sendErr != nil {
				log.ErrorContext(ctx, "error sending error reply", tint.Err(sendErr))
			}
		}
		return
	}

	log.InfoContext(ctx, "chat command complete", "chat_record", rec)
}

// runRiddle generates a riddle and replies with it under the channel
// reply lock, so a riddle never has a model call in flight alongside a
// chat reply in the same channel. Riddles don't read or write channel
// history and aren't recorded or usage-logged.
func (b *Bot) runRiddle(ctx context.Context, channelID string, sender replySender) {
	log := b.logger.With("command", commandNameRiddle, "channel_id", channelID)
	ctx = WithLogger(ctx, log)

	err := b.channels.WithChannelLock(
		channelID, func() error {
			riddle, genErr := b.openai.GenerateRiddle(ctx)
			if genErr != nil {
				log.ErrorContext(ctx, "error generating riddle", tint.Err(genErr))
				riddle = riddleErrorReply
			}
			return b.sendChunks(ctx, sender, riddle)
		},
	)
	if err != nil {
		log.ErrorContext(ctx, "error sending riddle", tint.Err(err))
	}
}

// sendChunks splits a reply and sends the chunks in order. Any chunk
// that still exceeds the platform limit after splitting is truncated
// with an explicit marker rather than failing the send.
func (b *Bot) sendChunks(ctx context.Context, sender replySender, text string) error {
	chunks := SplitMessage(text, b.config.MaxMessageLength)
	for n, chunk := range chunks {
		chunk = minifyString(chunk, discordMaxMessageLength)
		var err error
		if n == 0 {
			err = sender.SendFirst(chunk)
		} else {
			err = sender.SendFollowup(chunk)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// userFacingError converts pipeline errors into the single user-visible
// message sent to the channel. Empty input replies are handled earlier,
// before the lock is taken.
func userFacingError(err error) string {
	switch {
	case errors.Is(err, ErrEmptyInput):
		return emptyInputReply
	case errors.Is(err, ErrRateLimited):
		return rateLimitedReply
	case errors.Is(err, ErrUpstream):
		return upstreamErrorReply
	default:
		return upstreamErrorReply
	}
}
