package server

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"chatvault/internal/auth"
	"chatvault/internal/models"
	"chatvault/internal/store"
)

const defaultNotificationText = "New activity in the chat."

// Notification is one out-of-band nudge from one user to another.
type Notification struct {
	From string
	To   string
	Text string
}

// Notifier delivers notifications. Implementations may call out to SMS or
// push providers.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(_ context.Context, note Notification) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification", "from", note.From, "to", note.To, "text", note.Text)
	return nil
}

type userLister interface {
	ListUsers(ctx context.Context) ([]models.User, error)
}

// NotifyService fans a notification out to every other registered user.
type NotifyService struct {
	users    userLister
	notifier Notifier
}

func NewNotifyService(users userLister, notifier Notifier) *NotifyService {
	return &NotifyService{users: users, notifier: notifier}
}

// Notify sends text from fromUser to every other user and returns the
// recipients reached.
func (s *NotifyService) Notify(ctx context.Context, fromUser, text string) ([]string, error) {
	from, err := auth.NormalizeUsername(fromUser)
	if err != nil {
		return nil, badRequest(err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		text = defaultNotificationText
	}

	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, classifyServiceError(err, ErrCodeNotFound)
	}
	sent := []string{}
	for _, user := range users {
		if user.Username == from {
			continue
		}
		if err := s.notifier.Notify(ctx, Notification{From: from, To: user.Username, Text: text}); err != nil {
			return sent, unavailable(fmt.Errorf("notify %s: %w", user.Username, err))
		}
		sent = append(sent, user.Username)
	}
	if len(sent) == 0 {
		return sent, notFoundCode(fmt.Errorf("recipient not found"), ErrCodeNotFound)
	}
	return sent, nil
}

var _ userLister = (*store.Store)(nil)
