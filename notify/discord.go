// Package notify delivers decision reminders to voters.
package notify

import (
	"context"
	"fmt"

	"github.com/alex-thorne/ConsensusBot-sub002/decisions"
	"github.com/alex-thorne/ConsensusBot-sub002/logging"
	"github.com/alex-thorne/ConsensusBot-sub002/storage"
	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"
)

// Session is the part of *discordgo.Session used to send direct messages.
type Session interface {
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

var _ decisions.Notifier = (*DiscordNotifier)(nil)

// DiscordNotifier sends each reminder as a direct message. Sends are paced by a
// token bucket so a large pass stays under the API rate limit.
type DiscordNotifier struct {
	session Session
	limiter *rate.Limiter
}

func NewDiscordNotifier(session Session, perSecond float64, burst int) *DiscordNotifier {
	if perSecond <= 0 {
		perSecond = 5
	}
	if burst < 1 {
		burst = 1
	}
	return &DiscordNotifier{
		session: session,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// NewDiscordSession builds a REST-only bot session; no gateway connection is opened.
func NewDiscordSession(token string) (*discordgo.Session, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return s, nil
}

func (n *DiscordNotifier) Remind(ctx context.Context, task decisions.ReminderTask) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return err
	}

	ch, err := n.session.UserChannelCreate(task.UserID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("open dm with %s: %w", task.UserID, err)
	}
	if _, err := n.session.ChannelMessageSend(ch.ID, ReminderMessage(task), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send reminder to %s: %w", task.UserID, err)
	}
	logging.Log.Debugf("REMINDER: sent dm to %s for decision %s", task.UserID, task.DecisionID)
	return nil
}

func ReminderMessage(task decisions.ReminderTask) string {
	msg := fmt.Sprintf("Reminder: you have not voted on **%s** yet. Voting closes at the end of %s.",
		task.DecisionName, task.Deadline.Format(storage.DeadlineLayout))
	if task.ChannelRef != "" {
		msg += fmt.Sprintf(" Cast your vote in <#%s>.", task.ChannelRef)
	}
	return msg + fmt.Sprintf("\nDecision: `%s`", task.DecisionID)
}
