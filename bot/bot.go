package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"order-tracker/config"
	"order-tracker/lang"
	"order-tracker/logger"
	"order-tracker/models"
	"order-tracker/services"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const lookupTimeout = 10 * time.Second

// telegramAPI is the part of *tgbotapi.BotAPI the bot uses.
type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// OrderFinder looks orders up for /track.
type OrderFinder interface {
	FindOrder(ctx context.Context, c services.Criteria) (*models.Order, error)
}

// Bot answers /track in Telegram chats and posts status toasts to the
// configured chat.
type Bot struct {
	api      telegramAPI
	finder   OrderFinder
	throttle *services.SearchThrottle
	chatID   int64
	lang     string
	log      logger.Logger

	userLang   map[int64]string
	userLangMu sync.RWMutex
}

func New(cfg config.TelegramConfig, langCode string, finder OrderFinder, throttle *services.SearchThrottle, log logger.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	b := newBot(api, cfg.ChatID, langCode, finder, log)
	b.throttle = throttle
	return b, nil
}

func newBot(api telegramAPI, chatID int64, langCode string, finder OrderFinder, log logger.Logger) *Bot {
	if !lang.Supported(langCode) {
		langCode = lang.It
	}
	return &Bot{
		api:      api,
		finder:   finder,
		chatID:   chatID,
		lang:     langCode,
		log:      log.WithFields(logger.String("component", "telegram")),
		userLang: make(map[int64]string),
	}
}

// StatusChanged posts the toast for a status change to the configured chat.
func (b *Bot) StatusChanged(ctx context.Context, change models.StatusChange) error {
	if b.chatID == 0 {
		return nil
	}
	if _, err := b.api.Send(tgbotapi.NewMessage(b.chatID, change.Message)); err != nil {
		return fmt.Errorf("telegram toast for %s: %w", change.OrderNumber, err)
	}
	return nil
}

func (b *Bot) setBotCommands() error {
	cfg := tgbotapi.SetMyCommandsConfig{
		Commands: []tgbotapi.BotCommand{
			{Command: "start", Description: lang.T(b.lang, "bot_help")},
			{Command: "track", Description: lang.T(b.lang, "bot_track_usage")},
			{Command: "language", Description: lang.T(b.lang, "bot_language_usage")},
		},
	}
	_, err := b.api.Request(cfg)
	return err
}

// Start polls Telegram for updates until ctx is done.
func (b *Bot) Start(ctx context.Context) {
	if err := b.setBotCommands(); err != nil {
		b.log.Warn("register bot commands", logger.Error(err))
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			b.handleCommand(ctx, update.Message)
		}
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	var userID int64
	if msg.From != nil {
		userID = msg.From.ID
	}
	chatID := msg.Chat.ID
	args := strings.Fields(msg.CommandArguments())

	switch msg.Command() {
	case "start", "help":
		b.sendLang(chatID, userID, "bot_help")
	case "track":
		b.handleTrack(ctx, chatID, userID, args)
	case "language":
		if len(args) != 1 || !lang.Supported(args[0]) {
			b.sendLang(chatID, userID, "bot_language_usage")
			return
		}
		b.setLang(userID, args[0])
		b.sendLang(chatID, userID, "bot_language_set")
	}
}

func (b *Bot) handleTrack(ctx context.Context, chatID, userID int64, args []string) {
	if len(args) != 2 {
		b.sendLang(chatID, userID, "bot_track_usage")
		return
	}
	key := "tg:" + strconv.FormatInt(userID, 10)
	if b.throttle != nil {
		if wait := b.throttle.WaitSeconds(key); wait > 0 {
			b.send(chatID, fmt.Sprintf(lang.T(b.getLang(userID), "search_throttled"), wait))
			return
		}
	}
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	o, err := b.finder.FindOrder(ctx, services.Criteria{OrderNumber: args[0], CustomerEmail: args[1]})
	if b.throttle != nil && err == nil {
		if o == nil {
			b.throttle.RecordFailed(key)
		} else {
			b.throttle.RecordSuccess(key)
		}
	}
	switch {
	case err != nil:
		b.log.Warn("track lookup failed", logger.String("order_number", args[0]), logger.Error(err))
		b.sendLang(chatID, userID, "lookup_failed")
	case o == nil:
		b.sendLang(chatID, userID, "order_not_found")
	default:
		b.send(chatID, OrderCard(o, b.getLang(userID)))
	}
}

func (b *Bot) send(chatID int64, text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.log.Warn("send message", logger.Int64("chat_id", chatID), logger.Error(err))
	}
}

func (b *Bot) sendLang(chatID, userID int64, key string) {
	b.send(chatID, lang.T(b.getLang(userID), key))
}

func (b *Bot) getLang(userID int64) string {
	b.userLangMu.RLock()
	defer b.userLangMu.RUnlock()
	if l, ok := b.userLang[userID]; ok {
		return l
	}
	return b.lang
}

func (b *Bot) setLang(userID int64, langCode string) {
	b.userLangMu.Lock()
	defer b.userLangMu.Unlock()
	b.userLang[userID] = langCode
}

// OrderCard renders an order as a chat message: header, status, progress
// bar, items and total.
func OrderCard(o *models.Order, langCode string) string {
	v := services.ViewOf(o, langCode)
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(lang.T(langCode, "card_order"), o.OrderNumber))
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf(lang.T(langCode, "card_status"), v.StatusLabel))
	if !v.Halted {
		sb.WriteString("\n")
		sb.WriteString(progressBar(v))
	}
	if len(o.Items) > 0 {
		sb.WriteString("\n")
		for _, it := range o.Items {
			sb.WriteString(fmt.Sprintf("\n%d × %s  € %s", it.Quantity, it.ProductName, it.Subtotal.StringFixed(2)))
		}
	}
	sb.WriteString("\n\n")
	sb.WriteString(fmt.Sprintf(lang.T(langCode, "card_total"), o.TotalAmount.StringFixed(2)))
	return sb.String()
}

func progressBar(v services.View) string {
	done := v.ProgressIndex + 1
	return fmt.Sprintf("%s%s %.0f%%",
		strings.Repeat("▰", done),
		strings.Repeat("▱", v.ProgressSteps-done),
		v.ProgressPercentage,
	)
}
