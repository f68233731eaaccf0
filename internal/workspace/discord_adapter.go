package workspace

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"

	"github.com/supportdesk/dispatcher/internal/escalation"
	"github.com/supportdesk/dispatcher/internal/store"
)

// DiscordAdapter maps one escalated session to one Discord thread under a
// configured parent channel, with Accept/Close buttons on the ticket
// card and dedup against replay via the idempotency store.
type DiscordAdapter struct {
	guildID      string
	parentChanID string
	dedup        store.IdempotencyStore

	mu      sync.Mutex
	session *discordgo.Session

	buttonActions chan ButtonAction
	threadReplies chan ThreadReply
}

func NewDiscordAdapter(botToken, guildID, parentChanID string, dedup store.IdempotencyStore) (*DiscordAdapter, error) {
	session, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent

	a := &DiscordAdapter{
		guildID:       guildID,
		parentChanID:  parentChanID,
		dedup:         dedup,
		session:       session,
		buttonActions: make(chan ButtonAction, 64),
		threadReplies: make(chan ThreadReply, 64),
	}

	session.AddHandler(a.handleInteraction)
	session.AddHandler(a.handleMessage)

	return a, nil
}

func (a *DiscordAdapter) Start(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	log.Info().Msg("discord workspace adapter started")
	return nil
}

func (a *DiscordAdapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.session.Close(); err != nil {
		return fmt.Errorf("close discord session: %w", err)
	}
	return nil
}

func (a *DiscordAdapter) ButtonActions() <-chan ButtonAction {
	return a.buttonActions
}

func (a *DiscordAdapter) ThreadReplies() <-chan ThreadReply {
	return a.threadReplies
}

func actionRow(sessionID string) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "Accept",
					Style:    discordgo.SuccessButton,
					CustomID: "accept:" + sessionID,
				},
				discordgo.Button{
					Label:    "Close",
					Style:    discordgo.DangerButton,
					CustomID: "close:" + sessionID,
				},
			},
		},
	}
}

func ticketBody(ticket escalation.Ticket) string {
	return fmt.Sprintf("**%s**\n%s\n\n%s", ticket.Title, ticket.Reason, ticket.Summary)
}

func (a *DiscordAdapter) PostTicket(ctx context.Context, ticket escalation.Ticket) (string, error) {
	thread, err := a.session.ThreadStartComplex(a.parentChanID, &discordgo.ThreadStart{
		Name: ticket.Title,
		Type: discordgo.ChannelTypeGuildPublicThread,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("start discord thread: %w", err)
	}

	_, err = a.session.ChannelMessageSendComplex(thread.ID, &discordgo.MessageSend{
		Content:    ticketBody(ticket),
		Components: actionRow(ticket.SessionID),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("post ticket card: %w", err)
	}

	return thread.ID, nil
}

func (a *DiscordAdapter) EditTicket(ctx context.Context, workspaceThreadKey string, ticket escalation.Ticket) error {
	messages, err := a.session.ChannelMessages(workspaceThreadKey, 1, "", "", "", discordgo.WithContext(ctx))
	if err != nil || len(messages) == 0 {
		return fmt.Errorf("find ticket card to edit: %w", err)
	}

	_, err = a.session.ChannelMessageEditComplex(&discordgo.MessageEdit{
		Channel:    workspaceThreadKey,
		ID:         messages[len(messages)-1].ID,
		Content:    strPtr(ticketBody(ticket)),
		Components: &[]discordgo.MessageComponent{actionRow(ticket.SessionID)[0]},
	})
	return err
}

func (a *DiscordAdapter) PostThreadMessage(ctx context.Context, workspaceThreadKey, text, roleLabel string) error {
	_, err := a.session.ChannelMessageSend(workspaceThreadKey, fmt.Sprintf("**%s**: %s", roleLabel, text), discordgo.WithContext(ctx))
	return err
}

func strPtr(s string) *string { return &s }

func (a *DiscordAdapter) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}

	customID := i.MessageComponentData().CustomID
	parts := strings.SplitN(customID, ":", 2)
	if len(parts) != 2 {
		return
	}

	var action escalation.Action
	switch parts[0] {
	case "accept":
		action = escalation.ActionAccept
	case "close":
		action = escalation.ActionClose
	default:
		return
	}

	eventID := i.Interaction.ID
	isNew, err := a.dedup.MarkSeen(context.Background(), "discord:interaction:"+eventID, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to check interaction idempotency")
		return
	}
	if !isNew {
		return
	}

	a.buttonActions <- ButtonAction{
		WorkspaceThreadKey: i.ChannelID,
		AgentID:            i.Member.User.ID,
		AgentDisplayName:   i.Member.User.Username,
		Action:             action,
		EventID:            eventID,
	}

	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	})
}

func (a *DiscordAdapter) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}

	isNew, err := a.dedup.MarkSeen(context.Background(), "discord:message:"+m.ID, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to check message idempotency")
		return
	}
	if !isNew {
		return
	}

	a.threadReplies <- ThreadReply{
		WorkspaceThreadKey: m.ChannelID,
		AgentID:            m.Author.ID,
		AgentDisplayName:   m.Author.Username,
		Text:               m.Content,
		EventID:            m.ID,
	}
}
