package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	domain "github.com/rede-afiliados/api/internal/domain"
	"github.com/rede-afiliados/api/internal/repositories"
)

const (
	notificationIDPrefix = "ntf_"
	inboxSize            = 20
	maxNotificationTitle = 120
	maxNotificationBody  = 1000
)

var (
	// ErrNotificationInvalidInput signals the caller provided invalid data.
	ErrNotificationInvalidInput = errors.New("notification: invalid input")
	// ErrNotificationNotFound indicates the notification does not exist for the user.
	ErrNotificationNotFound = errors.New("notification: not found")
)

// NotificationServiceDeps bundles collaborators for the notification service.
type NotificationServiceDeps struct {
	Notifications repositories.NotificationRepository
	// Products resolves product names for order messages. Optional.
	Products    repositories.ProductRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type notificationService struct {
	notifications repositories.NotificationRepository
	products      repositories.ProductRepository
	policy        *bluemonday.Policy
	printer       *message.Printer
	clock         func() time.Time
	newID         func() string
	logger        func(context.Context, string, map[string]any)
}

// NewNotificationService constructs the in-app notification service.
func NewNotificationService(deps NotificationServiceDeps) (NotificationService, error) {
	if deps.Notifications == nil {
		return nil, errors.New("notification service: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &notificationService{
		notifications: deps.Notifications,
		products:      deps.Products,
		policy:        bluemonday.StrictPolicy(),
		printer:       message.NewPrinter(language.BrazilianPortuguese),
		clock:         func() time.Time { return clock().UTC() },
		newID:         idGen,
		logger:        logger,
	}, nil
}

func (s *notificationService) List(ctx context.Context, userID string) (NotificationInbox, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return NotificationInbox{}, fmt.Errorf("%w: user id is required", ErrNotificationInvalidInput)
	}
	items, err := s.notifications.ListByUser(ctx, userID, inboxSize)
	if err != nil {
		return NotificationInbox{}, mapNotificationError(err)
	}
	unread, err := s.notifications.CountUnread(ctx, userID)
	if err != nil {
		return NotificationInbox{}, mapNotificationError(err)
	}
	return NotificationInbox{Items: items, Unread: unread}, nil
}

func (s *notificationService) MarkRead(ctx context.Context, userID, notificationID string) error {
	userID = strings.TrimSpace(userID)
	notificationID = strings.TrimSpace(notificationID)
	if userID == "" || notificationID == "" {
		return fmt.Errorf("%w: user and notification ids are required", ErrNotificationInvalidInput)
	}
	return mapNotificationError(s.notifications.MarkRead(ctx, userID, notificationID))
}

func (s *notificationService) MarkAllRead(ctx context.Context, userID string) (int, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, fmt.Errorf("%w: user id is required", ErrNotificationInvalidInput)
	}
	count, err := s.notifications.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, mapNotificationError(err)
	}
	return count, nil
}

// Send stores an admin-authored notification. Markup is stripped from title and message.
func (s *notificationService) Send(ctx context.Context, cmd SendNotificationCommand) (Notification, error) {
	kind := cmd.Type
	if kind == "" {
		kind = domain.NotificationInfo
	}
	switch kind {
	case domain.NotificationInfo, domain.NotificationSuccess, domain.NotificationError:
	default:
		return Notification{}, fmt.Errorf("%w: unknown notification type %q", ErrNotificationInvalidInput, kind)
	}
	return s.insert(ctx, cmd.UserID, cmd.Title, cmd.Message, kind)
}

// NotifyOrderStatus tells the buyer about a status change. Statuses without a
// message are ignored.
func (s *notificationService) NotifyOrderStatus(ctx context.Context, order Order) error {
	name := s.productName(ctx, order.ProductID)
	var title, body string
	kind := domain.NotificationSuccess
	switch order.Status {
	case domain.OrderStatusApproved, domain.OrderStatusPaid:
		title = "Pedido aprovado! 🎉"
		body = fmt.Sprintf("Seu pedido do produto %q foi aprovado.", name)
	case domain.OrderStatusRejected:
		title = "Pedido rejeitado ⚠️"
		body = fmt.Sprintf("Seu pedido do produto %q foi rejeitado. Motivo: %s", name, order.RejectionReason)
		kind = domain.NotificationError
	case domain.OrderStatusShipped:
		title = "Pedido enviado! 🚚"
		body = fmt.Sprintf("Seu pedido do produto %q foi enviado.", name)
	case domain.OrderStatusDelivered:
		title = "Pedido entregue! 📦"
		body = fmt.Sprintf("Seu pedido do produto %q foi entregue.", name)
	default:
		return nil
	}
	_, err := s.insert(ctx, order.UserID, title, body, kind)
	return err
}

// NotifyWithdrawal tells the affiliate how their payout request was resolved.
func (s *notificationService) NotifyWithdrawal(ctx context.Context, withdrawal Withdrawal) error {
	amount := s.formatBRL(withdrawal.Amount)
	switch withdrawal.Status {
	case domain.WithdrawalStatusApproved:
		_, err := s.insert(ctx, withdrawal.UserID, "Saque aprovado",
			fmt.Sprintf("Seu saque de %s foi aprovado e será enviado para a chave Pix cadastrada.", amount),
			domain.NotificationSuccess)
		return err
	case domain.WithdrawalStatusRejected:
		body := fmt.Sprintf("Seu saque de %s foi rejeitado e o valor voltou para o seu saldo.", amount)
		if reason := strings.TrimSpace(withdrawal.Reason); reason != "" {
			body += " Motivo: " + reason
		}
		_, err := s.insert(ctx, withdrawal.UserID, "Saque rejeitado", body, domain.NotificationError)
		return err
	}
	return nil
}

func (s *notificationService) insert(ctx context.Context, userID, title, body string, kind domain.NotificationType) (Notification, error) {
	userID = strings.TrimSpace(userID)
	title = sanitizeText(s.plainText(title), maxNotificationTitle)
	body = sanitizeText(s.plainText(body), maxNotificationBody)
	if userID == "" || title == "" {
		return Notification{}, fmt.Errorf("%w: user id and title are required", ErrNotificationInvalidInput)
	}
	notification := Notification{
		ID:        notificationIDPrefix + s.newID(),
		UserID:    userID,
		Title:     title,
		Message:   body,
		Type:      kind,
		CreatedAt: s.clock(),
	}
	if err := s.notifications.Insert(ctx, notification); err != nil {
		return Notification{}, mapNotificationError(err)
	}
	s.logger(ctx, "notification.sent", map[string]any{"notificationId": notification.ID, "userId": userID, "type": string(kind)})
	return notification, nil
}

func (s *notificationService) productName(ctx context.Context, productID string) string {
	if s.products == nil || strings.TrimSpace(productID) == "" {
		return productID
	}
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		s.logger(ctx, "notification.product.lookup_failed", map[string]any{"productId": productID, "error": err.Error()})
		return productID
	}
	return product.Name
}

// plainText strips markup and returns unescaped text.
func (s *notificationService) plainText(input string) string {
	return html.UnescapeString(s.policy.Sanitize(input))
}

// formatBRL renders centavos in Brazilian currency notation, e.g. R$ 1.234,50.
func (s *notificationService) formatBRL(centavos int64) string {
	return s.printer.Sprintf("R$ %.2f", float64(centavos)/100)
}

func mapNotificationError(err error) error {
	if err == nil {
		return nil
	}
	if repositories.IsNotFound(err) {
		return fmt.Errorf("%w: %v", ErrNotificationNotFound, err)
	}
	return err
}
