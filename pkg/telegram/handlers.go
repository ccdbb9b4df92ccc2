package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"kassa/pkg/kassa"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// precheck validates the update shape, enforces the access list and drops
// transport redeliveries. Every handler goes through it, so a redelivered
// /undo can never run twice.
func (b *Bot) precheck(ctx context.Context, update *models.Update) (*models.Message, bool) {
	if update.Message == nil || update.Message.From == nil {
		return nil, false
	}
	msg := update.Message

	if len(b.allowed) > 0 && !b.allowed[msg.From.ID] {
		errorsTotal.WithLabelValues("access_denied").Inc()
		b.logger.Print(ctx, "access denied", "user_id", msg.From.ID, "chat_id", msg.Chat.ID)
		b.send(ctx, msg.Chat.ID, "⛔ Доступ к боту ограничен. Обратитесь к администратору.", nil)
		return nil, false
	}

	if b.kassa.SeenMessage(msg.Chat.ID, msg.ID) {
		// Redelivery of an already-processed update: drop without a reply,
		// anything else would double every answer on a slow webhook.
		duplicatesSuppressed.WithLabelValues("id").Inc()
		b.logger.Print(ctx, "duplicate message dropped", "chat_id", msg.Chat.ID, "msg_id", msg.ID)
		return nil, false
	}

	return msg, true
}

// handleStart handles /start - greets the user and shows the command menu
func (b *Bot) handleStart(ctx context.Context, _ *bot.Bot, update *models.Update) {
	commandsProcessed.WithLabelValues("start").Inc()
	msg, ok := b.precheck(ctx, update)
	if !ok {
		return
	}

	b.sessions.Clear(msg.Chat.ID)

	welcomeText := fmt.Sprintf(
		"👋 Привет, %s!\n\n"+
			"Я записываю операции в таблицу.\n\n"+
			"Быстрый ввод — одной строкой:\n%s\n\n"+
			"Или /new для пошагового ввода, /bulk для массового. /help — справка.",
		msg.From.FirstName,
		kassa.QuickFormatExample,
	)

	b.logger.Print(ctx, "user started bot", "user_id", msg.From.ID, "username", msg.From.Username)
	b.send(ctx, msg.Chat.ID, welcomeText, mainMenuKeyboard())
}

// handleHelp handles /help
func (b *Bot) handleHelp(ctx context.Context, _ *bot.Bot, update *models.Update) {
	commandsProcessed.WithLabelValues("help").Inc()
	msg, ok := b.precheck(ctx, update)
	if !ok {
		return
	}

	helpText := "📚 <b>Справка</b>\n\n" +
		"<b>Быстрый ввод</b> — отправьте строку из 9 полей через «;»:\n" +
		"<code>" + kassa.QuickFormatExample + "</code>\n\n" +
		"Повтор той же строки в течение полминуты считается случайным дублем. " +
		"Чтобы записать настоящий повтор, добавьте «!» в конец строки.\n\n" +
		"<b>Команды:</b>\n" +
		"/new — пошаговый ввод одной операции\n" +
		"/bulk — массовый ввод (шапка + список «ИМЯ СУММА»)\n" +
		"/done — завершить массовый ввод\n" +
		"/back — на шаг назад\n" +
		"/cancel — отменить текущий ввод\n" +
		"/undo — удалить последнюю записанную операцию\n" +
		"/undo_bulk — удалить последнюю массовую партию\n" +
		"/whoami — диагностика доступа"

	b.sendHTML(ctx, msg.Chat.ID, helpText, mainMenuKeyboard())
}

// handleNew starts the guided one-field-per-turn flow
func (b *Bot) handleNew(ctx context.Context, _ *bot.Bot, update *models.Update) {
	commandsProcessed.WithLabelValues("new").Inc()
	msg, ok := b.precheck(ctx, update)
	if !ok {
		return
	}

	s := b.sessions.Start(msg.Chat.ID, ModeGuided)
	b.send(ctx, msg.Chat.ID, "🧾 Пошаговый ввод операции. /back — назад, /cancel — отмена.\n\n"+s.prompt(b.kassa.Catalogs()), stepKeyboard(s.Step, b.kassa.Catalogs()))
}

// handleBulk starts the header+items bulk flow
func (b *Bot) handleBulk(ctx context.Context, _ *bot.Bot, update *models.Update) {
	commandsProcessed.WithLabelValues("bulk").Inc()
	msg, ok := b.precheck(ctx, update)
	if !ok {
		return
	}

	b.sessions.Start(msg.Chat.ID, ModeBulk)
	b.send(ctx, msg.Chat.ID,
		"📋 Массовый ввод. Сначала отправьте шапку партии:\n"+kassa.BulkHeaderExample,
		bulkKeyboard())
}

// handleDone finalizes the bulk batch: one ledger row per item, all sharing
// the header and a fresh batch token.
func (b *Bot) handleDone(ctx context.Context, _ *bot.Bot, update *models.Update) {
	commandsProcessed.WithLabelValues("done").Inc()
	msg, ok := b.precheck(ctx, update)
	if !ok {
		return
	}

	s := b.sessions.Get(msg.Chat.ID)
	if s == nil || s.Mode != ModeBulk {
		b.send(ctx, msg.Chat.ID, "Сейчас нет массового ввода. Начните с /bulk.", mainMenuKeyboard())
		return
	}
	if s.Step == StepBulkHeader || len(s.Items) == 0 {
		b.send(ctx, msg.Chat.ID, "Партия пуста: добавьте хотя бы одну строку «ИМЯ СУММА» перед /done.", bulkKeyboard())
		return
	}

	start := time.Now()
	res, err := b.kassa.CommitBatch(ctx, msg.Chat.ID, msg.ID, senderName(msg.From), s.Header, s.Items)
	ledgerWriteDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		errorsTotal.WithLabelValues("ledger_write").Inc()
		b.logger.Error(ctx, "bulk commit failed", "err", err, "chat_id", msg.Chat.ID, "written", res.Written)
		b.send(ctx, msg.Chat.ID, fmt.Sprintf(
			"❌ Ошибка записи: %v\n\nЗаписано строк до сбоя: %d из %d. Проверьте таблицу перед повтором.",
			err, res.Written, len(s.Items)), mainMenuKeyboard())
		b.sessions.Clear(msg.Chat.ID)
		return
	}

	transactionsRecorded.WithLabelValues("bulk").Add(float64(res.Written))
	b.sessions.Clear(msg.Chat.ID)

	text := fmt.Sprintf("✅ Партия записана: %d строк, метка %s.", res.Written, kassa.BatchMark(res.Token))
	if s.Rejected > 0 {
		text += fmt.Sprintf("\n⚠️ Отклонено строк при вводе: %d.", s.Rejected)
	}
	text += "\nУдалить всю партию: /undo_bulk"
	b.send(ctx, msg.Chat.ID, text, mainMenuKeyboard())
}

// handleUndo removes the chat's most recent recorded transaction
func (b *Bot) handleUndo(ctx context.Context, _ *bot.Bot, update *models.Update) {
	commandsProcessed.WithLabelValues("undo").Inc()
	msg, ok := b.precheck(ctx, update)
	if !ok {
		return
	}

	res, err := b.kassa.Undo(ctx, msg.Chat.ID, senderName(msg.From))
	switch {
	case errors.Is(err, kassa.ErrNothingToUndo):
		b.send(ctx, msg.Chat.ID, "Отменять нечего: за вами нет записанных операций.", mainMenuKeyboard())
	case errors.Is(err, kassa.ErrRowNotFound):
		b.send(ctx, msg.Chat.ID, "Не нашёл строку последней операции в таблице — возможно, её уже удалили вручную. Ничего не изменено.", mainMenuKeyboard())
	case err != nil:
		errorsTotal.WithLabelValues("undo").Inc()
		b.logger.Error(ctx, "undo failed", "err", err, "chat_id", msg.Chat.ID)
		b.send(ctx, msg.Chat.ID, fmt.Sprintf("❌ Ошибка отмены: %v", err), mainMenuKeyboard())
	default:
		undosPerformed.WithLabelValues("single").Inc()
		b.send(ctx, msg.Chat.ID, fmt.Sprintf("↩️ Последняя операция удалена (строка %d).", res.Row), mainMenuKeyboard())
	}
}

// handleUndoBulk removes the chat's most recent bulk batch as a unit
func (b *Bot) handleUndoBulk(ctx context.Context, _ *bot.Bot, update *models.Update) {
	commandsProcessed.WithLabelValues("undo_bulk").Inc()
	msg, ok := b.precheck(ctx, update)
	if !ok {
		return
	}

	res, err := b.kassa.UndoBatch(ctx, msg.Chat.ID, senderName(msg.From))
	switch {
	case errors.Is(err, kassa.ErrNothingToUndo):
		b.send(ctx, msg.Chat.ID, "Отменять нечего: за вами нет записанных партий.", mainMenuKeyboard())
	case errors.Is(err, kassa.ErrRowNotFound):
		b.send(ctx, msg.Chat.ID, "Строки последней партии не найдены в таблице. Ничего не изменено.", mainMenuKeyboard())
	case err != nil:
		errorsTotal.WithLabelValues("undo").Inc()
		b.logger.Error(ctx, "bulk undo failed", "err", err, "chat_id", msg.Chat.ID, "deleted", res.Deleted)
		b.send(ctx, msg.Chat.ID, fmt.Sprintf(
			"❌ Ошибка отмены партии: %v\nУдалено строк до сбоя: %d. Повторный /undo_bulk пересканирует таблицу.",
			err, res.Deleted), mainMenuKeyboard())
	default:
		undosPerformed.WithLabelValues("bulk").Inc()
		b.send(ctx, msg.Chat.ID, fmt.Sprintf("↩️ Партия %s удалена: %d строк.", kassa.BatchMark(res.Token), res.Deleted), mainMenuKeyboard())
	}
}

// handleCancel destroys the current session from any state
func (b *Bot) handleCancel(ctx context.Context, _ *bot.Bot, update *models.Update) {
	commandsProcessed.WithLabelValues("cancel").Inc()
	msg, ok := b.precheck(ctx, update)
	if !ok {
		return
	}

	if b.sessions.Get(msg.Chat.ID) == nil {
		b.send(ctx, msg.Chat.ID, "Сейчас нечего отменять.", mainMenuKeyboard())
		return
	}

	b.sessions.Clear(msg.Chat.ID)
	b.send(ctx, msg.Chat.ID, "Ввод отменён, данные не записаны.", mainMenuKeyboard())
}

// handleBack moves the guided flow exactly one step back; collected fields
// stay, only the re-asked one will be overwritten.
func (b *Bot) handleBack(ctx context.Context, _ *bot.Bot, update *models.Update) {
	commandsProcessed.WithLabelValues("back").Inc()
	msg, ok := b.precheck(ctx, update)
	if !ok {
		return
	}

	s := b.sessions.Get(msg.Chat.ID)
	switch {
	case s == nil:
		b.send(ctx, msg.Chat.ID, "Сейчас нет пошагового ввода. Начните с /new.", mainMenuKeyboard())
	case s.Mode == ModeBulk:
		if s.Step == StepBulkItems {
			s.Step = StepBulkHeader
			s.Header = nil
			s.Items = nil
			s.Rejected = 0
			b.send(ctx, msg.Chat.ID, "Вернулись к шапке партии:\n"+kassa.BulkHeaderExample, bulkKeyboard())
		} else {
			b.send(ctx, msg.Chat.ID, "Это первый шаг, назад некуда. Отмена — /cancel.", bulkKeyboard())
		}
	default:
		s.back()
		b.send(ctx, msg.Chat.ID, s.prompt(b.kassa.Catalogs()), stepKeyboard(s.Step, b.kassa.Catalogs()))
	}
}

// handleWhoami replies with identity and access diagnostics
func (b *Bot) handleWhoami(ctx context.Context, _ *bot.Bot, update *models.Update) {
	commandsProcessed.WithLabelValues("whoami").Inc()
	if update.Message == nil || update.Message.From == nil {
		return
	}
	msg := update.Message

	access := "открытый"
	if len(b.allowed) > 0 {
		if b.allowed[msg.From.ID] {
			access = "разрешён"
		} else {
			access = "запрещён"
		}
	}

	b.send(ctx, msg.Chat.ID, fmt.Sprintf(
		"🪪 chat_id: %d\nuser_id: %d\nдоступ: %s", msg.Chat.ID, msg.From.ID, access), nil)
}

// handleMessage routes non-command text: a session answer when a live
// session exists, a quick-entry line otherwise.
func (b *Bot) handleMessage(ctx context.Context, _ *bot.Bot, update *models.Update) {
	msg, ok := b.precheck(ctx, update)
	if !ok {
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	if s := b.sessions.Get(msg.Chat.ID); s != nil {
		b.handleSessionInput(ctx, msg, s, text)
		return
	}

	b.handleQuickLine(ctx, msg, text)
}

// handleQuickLine processes the single-line semicolon-delimited entry mode.
func (b *Bot) handleQuickLine(ctx context.Context, msg *models.Message, text string) {
	chatID := msg.Chat.ID
	line, forced := kassa.StripForceMarker(text)

	if !forced && b.kassa.SeenContent(chatID, line) {
		duplicatesSuppressed.WithLabelValues("content").Inc()
		b.kassa.RecordRejection(ctx, chatID, msg.ID, senderName(msg.From), line, kassa.StatusDuplicate, "content window")
		b.send(ctx, chatID,
			"⚠️ Похоже на случайный повтор: такая же строка уже приходила только что, запись не создана.\n"+
				"Если это настоящий повтор — отправьте строку ещё раз с «!» в конце.", nil)
		return
	}

	tx, err := kassa.ParseLine(line, b.kassa.Catalogs())
	if err != nil {
		b.replyParseError(ctx, msg, line, err)
		return
	}

	tx.ChatID = chatID
	tx.MessageID = msg.ID
	b.commitSingle(ctx, msg, tx, "quick")
}

// handleSessionInput feeds one message into the conversation state machine.
func (b *Bot) handleSessionInput(ctx context.Context, msg *models.Message, s *Session, text string) {
	if s.Mode == ModeBulk {
		b.handleBulkInput(ctx, msg, s, text)
		return
	}

	cats := b.kassa.Catalogs()
	done, err := s.advance(text, cats)
	if err != nil {
		// Same state, same prompt, plus what was wrong.
		b.send(ctx, msg.Chat.ID, userMessage(err)+"\n\n"+s.prompt(cats), stepKeyboard(s.Step, cats))
		return
	}
	if !done {
		b.send(ctx, msg.Chat.ID, s.prompt(cats), stepKeyboard(s.Step, cats))
		return
	}

	// The completed draft goes through the same commit path as quick entry.
	tx := s.Draft
	tx.ChatID = msg.Chat.ID
	tx.MessageID = msg.ID
	b.sessions.Clear(msg.Chat.ID)
	b.commitSingle(ctx, msg, &tx, "guided")
}

// handleBulkInput handles the two bulk states: header line, then item lines.
func (b *Bot) handleBulkInput(ctx context.Context, msg *models.Message, s *Session, text string) {
	cats := b.kassa.Catalogs()

	if s.Step == StepBulkHeader {
		header, err := kassa.ParseBulkHeader(text, cats)
		if err != nil {
			b.send(ctx, msg.Chat.ID, userMessage(err)+"\n\nФормат шапки:\n"+kassa.BulkHeaderExample, bulkKeyboard())
			return
		}
		s.Header = header
		s.Step = StepBulkItems
		b.send(ctx, msg.Chat.ID,
			"Шапка принята. Теперь отправляйте строки «ИМЯ СУММА» (можно с суффиксом «к»: ИВАНОВ 10к).\n"+
				"Когда закончите — /done.", bulkKeyboard())
		return
	}

	// Items state: each line stands alone, a bad one does not abort the batch.
	item, err := kassa.ParseBulkItem(text)
	if err != nil {
		s.Rejected++
		b.send(ctx, msg.Chat.ID, userMessage(err), bulkKeyboard())
		return
	}

	s.Items = append(s.Items, *item)
	b.send(ctx, msg.Chat.ID, fmt.Sprintf(
		"➕ %s — %s (строка %d). /done — записать партию.",
		item.Employee, kassa.FormatAmount(item.Amount), len(s.Items)), bulkKeyboard())
}

// commitSingle is the shared write path of quick and guided entry.
func (b *Bot) commitSingle(ctx context.Context, msg *models.Message, tx *kassa.Transaction, mode string) {
	start := time.Now()
	res, err := b.kassa.Commit(ctx, tx, senderName(msg.From))
	ledgerWriteDuration.Observe(time.Since(start).Seconds())

	switch {
	case errors.Is(err, kassa.ErrDuplicateWrite):
		duplicatesSuppressed.WithLabelValues("ledger").Inc()
		b.send(ctx, msg.Chat.ID, "⚠️ Это сообщение уже записано в таблицу, повторная запись не создана.", mainMenuKeyboard())
	case err != nil:
		errorsTotal.WithLabelValues("ledger_write").Inc()
		b.logger.Error(ctx, "commit failed", "err", err, "chat_id", tx.ChatID, "msg_id", tx.MessageID)
		b.send(ctx, msg.Chat.ID, fmt.Sprintf(
			"❌ Не удалось записать в таблицу: %v\n\nЗапись не повторяется автоматически — проверьте доступ и отправьте строку ещё раз.", err), mainMenuKeyboard())
	default:
		transactionsRecorded.WithLabelValues(mode).Inc()
		if res.Row > 0 {
			b.send(ctx, msg.Chat.ID, fmt.Sprintf("✅ Записано (строка %d):\n%s", res.Row, tx.Summary()), mainMenuKeyboard())
		} else {
			b.send(ctx, msg.Chat.ID, "✅ Записано:\n"+tx.Summary(), mainMenuKeyboard())
		}
	}
}

// replyParseError converts a parse failure into exactly one corrective reply.
func (b *Bot) replyParseError(ctx context.Context, msg *models.Message, line string, err error) {
	var text string
	var fe *kassa.FieldError

	switch {
	case errors.As(err, &fe):
		errorsTotal.WithLabelValues("field").Inc()
		text = "❌ " + fe.UserMsg
	case errors.Is(err, kassa.ErrFormat):
		errorsTotal.WithLabelValues("format").Inc()
		text = "❌ Нужно ровно 9 полей через «;»:\n" + kassa.QuickFormatExample
	default:
		errorsTotal.WithLabelValues("format").Inc()
		text = "❌ Не удалось разобрать строку.\n" + kassa.QuickFormatExample
	}

	b.kassa.RecordRejection(ctx, msg.Chat.ID, msg.ID, senderName(msg.From), line, kassa.StatusError, err.Error())
	b.send(ctx, msg.Chat.ID, text, nil)
}

// userMessage extracts the user-facing text of a validation error.
func userMessage(err error) string {
	var fe *kassa.FieldError
	if errors.As(err, &fe) {
		return "❌ " + fe.UserMsg
	}
	return "❌ " + err.Error()
}

// senderName returns a display name for the journal's user column.
func senderName(u *models.User) string {
	if u == nil {
		return ""
	}
	if u.Username != "" {
		return "@" + u.Username
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// send delivers one plain-text reply, logging delivery failures.
func (b *Bot) send(ctx context.Context, chatID int64, text string, kb models.ReplyMarkup) {
	_, err := b.api.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      chatID,
		Text:        text,
		ReplyMarkup: kb,
	})
	if err != nil {
		b.logger.Error(ctx, "failed to send message", "err", err, "chat_id", chatID)
	}
}

// sendHTML delivers one HTML-formatted reply.
func (b *Bot) sendHTML(ctx context.Context, chatID int64, text string, kb models.ReplyMarkup) {
	_, err := b.api.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      chatID,
		Text:        text,
		ParseMode:   models.ParseModeHTML,
		ReplyMarkup: kb,
	})
	if err != nil {
		b.logger.Error(ctx, "failed to send message", "err", err, "chat_id", chatID)
	}
}
