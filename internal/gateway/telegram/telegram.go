// Package telegram implements the Telegram Bot gateway for cargobot using
// long polling or webhook mode.
//
// Security:
//   - Staff mapping: Telegram user IDs mapped to employee IDs in config
//   - Customers identified through the CRM by chat ID, bound by phone on first contact
//   - Bot token from TELEGRAM_BOT_TOKEN env var, never logged or stored in config
//   - Webhook path derived from bot token hash (prevents unauthorized POSTs)
//   - Per-chat rate limiting
package telegram

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kenesbay/cargobot/internal/assistant"
	"github.com/kenesbay/cargobot/internal/backend"
	"github.com/kenesbay/cargobot/internal/observability"
	"github.com/kenesbay/cargobot/internal/ratelimit"
	"github.com/kenesbay/cargobot/internal/session"
)

const (
	defaultPollTimeout    = 30
	maxUpdateSize         = 256 << 10 // 256 KB
	telegramMaxMessageLen = 4096
	telegramSafeMaxLen    = 4000 // Safe margin for unicode/encoding overhead.
)

// Config configures the Telegram gateway.
type Config struct {
	BotToken    string           // From TELEGRAM_BOT_TOKEN env var.
	WebhookURL  string           // If set, use webhook mode. If empty, use long polling.
	ListenAddr  string           // For webhook mode.
	PollTimeout int              // Long poll timeout in seconds. 0 = 30s default.
	Staff       map[string]int64 // Telegram user ID (string) → employee ID.
}

// Gateway is the Telegram gateway.
type Gateway struct {
	config     Config
	assistant  *assistant.Assistant
	api        *backend.Client
	sessions   *session.Store
	limiter    *ratelimit.Limiter
	metrics    *observability.MetricsCollector
	logger     *slog.Logger
	httpClient *http.Client
	server     *http.Server // nil in polling mode
	cancel     context.CancelFunc
}

// NewGateway creates a Telegram gateway.
func NewGateway(cfg Config, as *assistant.Assistant, api *backend.Client, sessions *session.Store, rl *ratelimit.Limiter, metrics *observability.MetricsCollector, logger *slog.Logger) *Gateway {
	return &Gateway{
		config:    cfg,
		assistant: as,
		api:       api,
		sessions:  sessions,
		limiter:   rl,
		metrics:   metrics,
		logger:    logger,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.pollTimeout()+10) * time.Second,
		},
	}
}

// Start launches the gateway in webhook or long-polling mode and blocks.
func (g *Gateway) Start(ctx context.Context) error {
	ctx, g.cancel = context.WithCancel(ctx)

	if g.config.WebhookURL != "" {
		return g.startWebhook(ctx)
	}
	return g.startPolling(ctx)
}

// Stop gracefully shuts down the gateway.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.cancel != nil {
		g.cancel()
	}
	if g.server != nil {
		g.logger.Info("telegram gateway stopping webhook server")
		return g.server.Shutdown(ctx)
	}
	g.logger.Info("telegram gateway stopping poller")
	return nil
}

// --- Long Polling ---

func (g *Gateway) startPolling(ctx context.Context) error {
	g.logger.Info("telegram gateway starting long polling",
		slog.Int("timeout", g.config.pollTimeout()),
	)

	var offset int64
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		updates, err := g.getUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			g.logger.Error("telegram getUpdates failed", slog.String("error", err.Error()))
			time.Sleep(2 * time.Second)
			continue
		}

		for _, u := range updates {
			g.processUpdate(ctx, &u)
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
		}
	}
}

func (g *Gateway) getUpdates(ctx context.Context, offset int64) ([]Update, error) {
	params := map[string]any{
		"offset":  offset,
		"timeout": g.config.pollTimeout(),
	}

	body, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiURL("getUpdates"), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result struct {
		OK     bool     `json:"ok"`
		Result []Update `json:"result"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxUpdateSize)).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding updates: %w", err)
	}
	if !result.OK {
		return nil, fmt.Errorf("telegram API returned ok=false")
	}
	return result.Result, nil
}

// --- Webhook ---

func (g *Gateway) startWebhook(ctx context.Context) error {
	// Use a hash of the bot token as the webhook path to prevent unauthorized POSTs.
	secretPath := "/" + g.webhookSecret()

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+secretPath, g.handleWebhook)

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("telegram gateway starting webhook",
		slog.String("addr", g.config.ListenAddr),
	)

	err := g.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (g *Gateway) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var update Update
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUpdateSize)).Decode(&update); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	g.processUpdate(r.Context(), &update)
	w.WriteHeader(http.StatusOK)
}

func (g *Gateway) webhookSecret() string {
	h := sha256.Sum256([]byte(g.config.BotToken))
	return hex.EncodeToString(h[:16]) // 32-char hex path
}

// --- Update Processing ---

func (g *Gateway) processUpdate(ctx context.Context, update *Update) {
	if update.CallbackQuery != nil {
		g.handleCallback(ctx, update.CallbackQuery)
		return
	}
	if update.Message != nil {
		g.handleMessage(ctx, update.Message)
	}
}

func (g *Gateway) handleMessage(ctx context.Context, msg *Message) {
	if msg.From == nil || (msg.Text == "" && msg.Contact == nil) {
		return
	}
	chatID := msg.Chat.ID

	if g.limiter != nil {
		if err := g.limiter.Allow(chatID); err != nil {
			g.sendHTML(ctx, chatID, "⏳ Слишком много сообщений. Подождите немного.")
			return
		}
	}

	unlock := g.sessions.Lock(chatID)
	defer unlock()

	actor, model, res := g.identify(ctx, msg)
	if res != nil {
		g.sendResult(ctx, chatID, res)
		return
	}

	role := "customer"
	if actor.IsStaff() {
		role = "staff"
	}
	g.metrics.RecordMessage("message", role)
	g.logger.Info("telegram message",
		slog.Int64("chat_id", chatID),
		slog.String("role", role),
	)

	if strings.HasPrefix(msg.Text, "/start") {
		g.sendHTML(ctx, chatID, g.greeting(actor))
		return
	}

	conv, _, err := g.sessions.Load(ctx, chatID, actor.CompanyID)
	if err != nil {
		g.logger.Error("loading conversation failed",
			slog.Int64("chat_id", chatID),
			slog.String("error", err.Error()),
		)
		g.sendHTML(ctx, chatID, "❗ Ошибка. Попробуйте ещё раз.")
		return
	}

	result := g.assistant.HandleMessage(ctx, actor, conv, msg.Text)

	if err := g.sessions.Save(ctx, model, conv); err != nil {
		g.logger.Error("saving conversation failed",
			slog.Int64("chat_id", chatID),
			slog.String("error", err.Error()),
		)
	}
	g.sendResult(ctx, chatID, result)
}

// identify resolves the message sender to an actor. Staff are mapped from
// config; everyone else is identified as a customer through the CRM,
// binding the chat by phone number when a contact card is shared. A non-nil
// result means identification is incomplete and the result should be sent
// as the reply.
func (g *Gateway) identify(ctx context.Context, msg *Message) (*assistant.Actor, *session.ConversationModel, *assistant.Result) {
	chatID := msg.Chat.ID

	if employeeID, ok := g.config.Staff[strconv.FormatInt(msg.From.ID, 10)]; ok {
		actor := &assistant.Actor{CompanyID: g.api.CompanyID(), EmployeeID: employeeID}
		_, model, err := g.sessions.Load(ctx, chatID, actor.CompanyID)
		if err != nil {
			g.logger.Error("loading staff conversation failed", slog.String("error", err.Error()))
			return nil, nil, assistant.Reply("❗ Ошибка. Попробуйте ещё раз.")
		}
		if model.EmployeeID != employeeID {
			if err := g.sessions.Bind(ctx, model, 0, employeeID); err != nil {
				g.logger.Error("binding staff identity failed", slog.String("error", err.Error()))
			}
		}
		return actor, model, nil
	}

	_, model, err := g.sessions.Load(ctx, chatID, g.api.CompanyID())
	if err != nil {
		g.logger.Error("loading conversation failed", slog.String("error", err.Error()))
		return nil, nil, assistant.Reply("❗ Ошибка. Попробуйте ещё раз.")
	}

	if model.ClientID > 0 && msg.Contact == nil {
		return &assistant.Actor{CompanyID: model.CompanyID, ClientID: model.ClientID}, model, nil
	}

	phone := ""
	if msg.Contact != nil {
		phone = msg.Contact.PhoneNumber
	}
	customer, _, err := g.api.IdentifyUser(ctx, chatID, phone)
	if err != nil {
		var apiErr *backend.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			g.askForContact(ctx, chatID)
			return nil, nil, nil
		}
		g.logger.Error("identify failed",
			slog.Int64("chat_id", chatID),
			slog.String("error", err.Error()),
		)
		return nil, nil, assistant.Reply("❗ Сервер недоступен. Попробуйте позже.")
	}

	if err := g.sessions.Bind(ctx, model, customer.ID, 0); err != nil {
		g.logger.Error("binding customer identity failed", slog.String("error", err.Error()))
	}
	if phone != "" {
		g.sendHTML(ctx, chatID, fmt.Sprintf("✅ Добро пожаловать, <b>%s</b>! Ваш код: <b>%s</b>.\nОтправьте трек-код, чтобы добавить посылку.",
			escapeHTML(customer.FullName), escapeHTML(customer.Code())))
		return nil, nil, nil
	}
	return &assistant.Actor{CompanyID: model.CompanyID, ClientID: customer.ID}, model, nil
}

// askForContact requests the user's phone via a contact-sharing keyboard.
func (g *Gateway) askForContact(ctx context.Context, chatID int64) {
	g.callAPI(ctx, "sendMessage", map[string]any{
		"chat_id":    chatID,
		"text":       "👋 Здравствуйте! Чтобы найти ваш профиль, поделитесь номером телефона.",
		"parse_mode": "HTML",
		"reply_markup": ReplyKeyboardMarkup{
			Keyboard: [][]KeyboardButton{
				{{Text: "📱 Отправить номер", RequestContact: true}},
			},
			ResizeKeyboard:  true,
			OneTimeKeyboard: true,
		},
	})
}

func (g *Gateway) greeting(actor *assistant.Actor) string {
	if actor.IsStaff() {
		return "⚡️ <b>Cargobot</b> — ассистент CRM\n\n" +
			"Пишите команды обычным языком: поиск заказов и клиентов, статусы, расходы, отчёты, рассылки.\n" +
			"Любое изменение данных потребует подтверждения кнопкой."
	}
	return "📦 <b>Cargobot</b>\n\n" +
		"Отправьте трек-код, чтобы добавить посылку, или спросите о своих заказах, тарифах и адресах."
}

func (g *Gateway) handleCallback(ctx context.Context, cb *CallbackQuery) {
	if cb.From == nil || cb.Data == "" {
		return
	}

	// Parse callback data: "confirm:<id>" or "cancel:<id>"
	parts := strings.SplitN(cb.Data, ":", 2)
	if len(parts) != 2 {
		g.answerCallback(ctx, cb.ID, "Неизвестное действие.")
		return
	}
	decision, actionID := parts[0], parts[1]

	chatID := int64(0)
	if cb.Message != nil {
		chatID = cb.Message.Chat.ID
	}
	if chatID == 0 {
		g.answerCallback(ctx, cb.ID, "Неизвестный чат.")
		return
	}

	unlock := g.sessions.Lock(chatID)
	defer unlock()

	var actor *assistant.Actor
	if employeeID, ok := g.config.Staff[strconv.FormatInt(cb.From.ID, 10)]; ok {
		actor = &assistant.Actor{CompanyID: g.api.CompanyID(), EmployeeID: employeeID}
	} else {
		_, model, err := g.sessions.Load(ctx, chatID, g.api.CompanyID())
		if err != nil || model.ClientID == 0 {
			g.answerCallback(ctx, cb.ID, "Не удалось определить пользователя.")
			return
		}
		actor = &assistant.Actor{CompanyID: model.CompanyID, ClientID: model.ClientID}
	}

	conv, model, err := g.sessions.Load(ctx, chatID, actor.CompanyID)
	if err != nil {
		g.answerCallback(ctx, cb.ID, "Ошибка. Попробуйте ещё раз.")
		return
	}

	g.metrics.RecordMessage("callback", decision)
	g.logger.Info("telegram callback",
		slog.Int64("chat_id", chatID),
		slog.String("decision", decision),
		slog.String("action_id", actionID),
	)

	var result *assistant.Result
	switch decision {
	case "confirm":
		g.answerCallback(ctx, cb.ID, "Выполняю...")
		result = g.assistant.Confirm(ctx, actor, conv, actionID)
	case "cancel":
		g.answerCallback(ctx, cb.ID, "Отменено.")
		result = g.assistant.Cancel(ctx, conv)
	default:
		g.answerCallback(ctx, cb.ID, "Неизвестное действие.")
		return
	}

	if err := g.sessions.Save(ctx, model, conv); err != nil {
		g.logger.Error("saving conversation failed",
			slog.Int64("chat_id", chatID),
			slog.String("error", err.Error()),
		)
	}
	g.sendResult(ctx, chatID, result)
}

// sendResult delivers one assistant result. Pending mutations get an inline
// confirm/cancel keyboard; raw model chat goes through the Markdown
// converter; everything else is pre-rendered HTML.
func (g *Gateway) sendResult(ctx context.Context, chatID int64, res *assistant.Result) {
	if res == nil || res.Text == "" {
		return
	}
	if res.Kind == assistant.KindPending && res.Pending != nil {
		g.sendConfirmKeyboard(ctx, chatID, res.Text, res.Pending.ID)
		return
	}
	if res.Markdown {
		g.sendMarkdown(ctx, chatID, res.Text)
		return
	}
	g.sendHTML(ctx, chatID, res.Text)
}

func (g *Gateway) sendConfirmKeyboard(ctx context.Context, chatID int64, text, actionID string) {
	g.callAPI(ctx, "sendMessage", map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
		"reply_markup": InlineKeyboardMarkup{
			InlineKeyboard: [][]InlineKeyboardButton{
				{
					{Text: "✅ Подтвердить", CallbackData: "confirm:" + actionID},
					{Text: "❌ Отмена", CallbackData: "cancel:" + actionID},
				},
			},
		},
	})
}

// --- Telegram API ---

// sendMarkdown converts model Markdown output to Telegram HTML, splits into
// chunks, and sends each chunk with HTML parse mode.
func (g *Gateway) sendMarkdown(ctx context.Context, chatID int64, text string) {
	if text == "" {
		return
	}
	chunks := splitMessage(text, telegramSafeMaxLen)
	for _, chunk := range chunks {
		html := markdownToTelegramHTML(chunk)
		g.callAPI(ctx, "sendMessage", map[string]any{
			"chat_id":                  chatID,
			"text":                     html,
			"parse_mode":               "HTML",
			"disable_web_page_preview": true,
		})
	}
}

// sendHTML sends pre-formatted HTML. Used for replies that are already
// authored in HTML (command results, confirmations, errors).
func (g *Gateway) sendHTML(ctx context.Context, chatID int64, html string) {
	chunks := splitMessage(html, telegramSafeMaxLen)
	for _, chunk := range chunks {
		g.callAPI(ctx, "sendMessage", map[string]any{
			"chat_id":                  chatID,
			"text":                     chunk,
			"parse_mode":               "HTML",
			"disable_web_page_preview": true,
		})
	}
}

func (g *Gateway) answerCallback(ctx context.Context, callbackID, text string) {
	g.callAPI(ctx, "answerCallbackQuery", map[string]any{
		"callback_query_id": callbackID,
		"text":              text,
	})
}

func (g *Gateway) callAPI(ctx context.Context, method string, params map[string]any) {
	body, err := json.Marshal(params)
	if err != nil {
		g.logger.Error("telegram marshal error", slog.String("error", err.Error()))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiURL(method), bytes.NewReader(body))
	if err != nil {
		g.logger.Error("telegram request error", slog.String("error", err.Error()))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.logger.Error("telegram api error",
			slog.String("method", method),
			slog.String("error", err.Error()),
		)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		g.logger.Error("telegram api non-200",
			slog.String("method", method),
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(respBody)),
		)
	}
}

func (g *Gateway) apiURL(method string) string {
	return fmt.Sprintf("https://api.telegram.org/bot%s/%s", g.config.BotToken, method)
}

// --- Types ---

// Update represents a Telegram Bot API update.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message,omitempty"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
}

// Message represents a Telegram message.
type Message struct {
	MessageID int64    `json:"message_id"`
	From      *User    `json:"from,omitempty"`
	Chat      Chat     `json:"chat"`
	Text      string   `json:"text"`
	Contact   *Contact `json:"contact,omitempty"`
}

// Contact is a shared phone contact.
type Contact struct {
	PhoneNumber string `json:"phone_number"`
	UserID      int64  `json:"user_id,omitempty"`
}

// CallbackQuery represents an inline keyboard button press.
type CallbackQuery struct {
	ID      string   `json:"id"`
	From    *User    `json:"from"`
	Message *Message `json:"message,omitempty"`
	Data    string   `json:"data"`
}

// User represents a Telegram user.
type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

// Chat represents a Telegram chat.
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// InlineKeyboardMarkup represents inline keyboard buttons.
type InlineKeyboardMarkup struct {
	InlineKeyboard [][]InlineKeyboardButton `json:"inline_keyboard"`
}

// InlineKeyboardButton represents a single inline keyboard button.
type InlineKeyboardButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

// ReplyKeyboardMarkup represents a reply keyboard.
type ReplyKeyboardMarkup struct {
	Keyboard        [][]KeyboardButton `json:"keyboard"`
	ResizeKeyboard  bool               `json:"resize_keyboard,omitempty"`
	OneTimeKeyboard bool               `json:"one_time_keyboard,omitempty"`
}

// KeyboardButton represents a single reply keyboard button.
type KeyboardButton struct {
	Text           string `json:"text"`
	RequestContact bool   `json:"request_contact,omitempty"`
}

// --- Helpers ---

func (c Config) pollTimeout() int {
	if c.PollTimeout > 0 {
		return c.PollTimeout
	}
	return defaultPollTimeout
}

// escapeHTML escapes characters that are special in Telegram's HTML parse mode.
func escapeHTML(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

// --- Markdown to Telegram HTML ---

// markdownToTelegramHTML converts common Markdown patterns from LLM output
// to Telegram-compatible HTML. Handles code blocks, inline code, bold,
// italic, and headers. All other text is HTML-escaped.
func markdownToTelegramHTML(text string) string {
	var out strings.Builder
	lines := strings.Split(text, "\n")
	inCodeBlock := false
	firstCodeLine := true

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)

		// Code block toggle. Any language tag after the fence is dropped;
		// the replies rendered here never carry one.
		if strings.HasPrefix(trimmed, "```") {
			if !inCodeBlock {
				out.WriteString("<pre><code>")
				inCodeBlock = true
				firstCodeLine = true
				continue
			}
			out.WriteString("</code></pre>")
			inCodeBlock = false
			if i < len(lines)-1 {
				out.WriteByte('\n')
			}
			continue
		}

		if inCodeBlock {
			if !firstCodeLine {
				out.WriteByte('\n')
			}
			out.WriteString(escapeHTML(line))
			firstCodeLine = false
			continue
		}

		// Non-code line.
		if i > 0 {
			out.WriteByte('\n')
		}
		out.WriteString(formatLine(line))
	}

	// Close unclosed code block.
	if inCodeBlock {
		out.WriteString("</code></pre>")
	}

	return out.String()
}

// formatLine converts a single non-code-block line of Markdown to HTML.
func formatLine(line string) string {
	// Headers → bold.
	if len(line) > 0 && line[0] == '#' {
		if spaceIdx := strings.IndexByte(line, ' '); spaceIdx > 0 && spaceIdx <= 6 {
			allHash := true
			for j := 0; j < spaceIdx; j++ {
				if line[j] != '#' {
					allHash = false
					break
				}
			}
			if allHash {
				return "<b>" + escapeHTML(strings.TrimSpace(line[spaceIdx+1:])) + "</b>"
			}
		}
	}

	return formatInline(line)
}

// formatInline converts inline Markdown (bold, italic, inline code) to HTML.
// Processes left-to-right: backtick spans take priority over bold/italic.
func formatInline(line string) string {
	var out strings.Builder
	out.Grow(len(line) + 32)
	i := 0

	for i < len(line) {
		// Inline code: `...`
		if line[i] == '`' {
			if end := strings.IndexByte(line[i+1:], '`'); end >= 0 {
				out.WriteString("<code>")
				out.WriteString(escapeHTML(line[i+1 : i+1+end]))
				out.WriteString("</code>")
				i = i + 1 + end + 1
				continue
			}
		}

		// Bold: **...**
		if i+1 < len(line) && line[i] == '*' && line[i+1] == '*' {
			if end := strings.Index(line[i+2:], "**"); end >= 0 && end > 0 {
				out.WriteString("<b>")
				out.WriteString(escapeHTML(line[i+2 : i+2+end]))
				out.WriteString("</b>")
				i = i + 2 + end + 2
				continue
			}
		}

		// Italic: *...* (single asterisk, not double)
		if line[i] == '*' && (i+1 >= len(line) || line[i+1] != '*') {
			if end := strings.IndexByte(line[i+1:], '*'); end > 0 {
				// Verify the closing * is not part of a ** pair.
				closeIdx := i + 1 + end
				if closeIdx+1 >= len(line) || line[closeIdx+1] != '*' {
					out.WriteString("<i>")
					out.WriteString(escapeHTML(line[i+1 : closeIdx]))
					out.WriteString("</i>")
					i = closeIdx + 1
					continue
				}
			}
		}

		// Regular character — HTML-escape.
		switch line[i] {
		case '&':
			out.WriteString("&amp;")
		case '<':
			out.WriteString("&lt;")
		case '>':
			out.WriteString("&gt;")
		default:
			out.WriteByte(line[i])
		}
		i++
	}

	return out.String()
}

// --- Message Splitting ---

// splitMessage splits text into chunks that fit within Telegram's message limit.
// It splits at paragraph boundaries, then line boundaries, then word boundaries,
// and tracks code fences (```) so they are properly closed/reopened across chunks.
func splitMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	remaining := text
	inCodeBlock := false

	for len(remaining) > 0 {
		if len(remaining) <= maxLen {
			chunks = append(chunks, remaining)
			break
		}

		// Find the best split point within maxLen.
		candidate := remaining[:maxLen]
		splitAt := -1

		// Priority 1: paragraph boundary (double newline).
		if idx := strings.LastIndex(candidate, "\n\n"); idx > 0 {
			splitAt = idx + 1 // Keep first newline in this chunk.
		}

		// Priority 2: line boundary (single newline).
		if splitAt < 0 {
			if idx := strings.LastIndex(candidate, "\n"); idx > 0 {
				splitAt = idx + 1
			}
		}

		// Priority 3: word boundary (space).
		if splitAt < 0 {
			if idx := strings.LastIndex(candidate, " "); idx > 0 {
				splitAt = idx + 1
			}
		}

		// Priority 4: hard cut.
		if splitAt < 0 {
			splitAt = maxLen
		}

		chunk := remaining[:splitAt]
		remaining = remaining[splitAt:]

		// An odd number of fences means the chunk ends inside a code
		// block: close it here and reopen it in the continuation.
		if strings.Count(chunk, "```")%2 == 1 {
			inCodeBlock = !inCodeBlock
		}
		if inCodeBlock {
			chunk += "\n```"
			remaining = "```\n" + remaining
		}

		chunks = append(chunks, chunk)
	}

	return chunks
}
