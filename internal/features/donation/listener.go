package donation

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/growstore-bot/internal/chat"
	"serotonyl.ru/growstore-bot/internal/common"
	"serotonyl.ru/growstore-bot/internal/features/ledger"
	"serotonyl.ru/growstore-bot/internal/features/members"
)

// Ответы в канал доната.
const (
	ReplyFilled   = "Successfully filled"
	ReplyNotFound = "Failed to find growid"
)

const (
	queueSize   = 256
	callTimeout = 30 * time.Second
)

var errBadDeposit = errors.New("bad deposit list")

// Listener зачисляет донаты по одному, в порядке поступления.
type Listener struct {
	members   *members.Service
	ledger    *ledger.Service
	messenger chat.Messenger
	chatID    int64

	queue chan chat.Incoming
	wg    sync.WaitGroup
	once  sync.Once
}

func NewListener(m *members.Service, l *ledger.Service, messenger chat.Messenger, chatID int64) *Listener {
	return &Listener{
		members:   m,
		ledger:    l,
		messenger: messenger,
		chatID:    chatID,
		queue:     make(chan chat.Incoming, queueSize),
	}
}

// Init запускает обработчик очереди. Он живёт, пока не отменён ctx.
func (l *Listener) Init(ctx context.Context) error {
	l.once.Do(func() {
		l.wg.Add(1)
		go l.worker(ctx)
	})
	return nil
}

// Wait дожидается остановки обработчика.
func (l *Listener) Wait() {
	l.wg.Wait()
}

// Handle ставит сообщение в очередь. false - сообщение не из канала доната.
func (l *Listener) Handle(ctx context.Context, in chat.Incoming) bool {
	if in.ChatID != l.chatID || l.chatID == 0 {
		return false
	}
	if in.IsBot {
		return true
	}
	select {
	case l.queue <- in:
	case <-ctx.Done():
		log.WithField("message_id", in.ID).Warn("Донат не поставлен в очередь: остановка")
	}
	return true
}

func (l *Listener) worker(ctx context.Context) {
	defer l.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case in := <-l.queue:
			l.Process(ctx, in)
		}
	}
}

// Process разбирает и зачисляет одно сообщение.
func (l *Listener) Process(ctx context.Context, in chat.Incoming) {
	logger := log.WithFields(log.Fields{
		"component":  "donation",
		"message_id": in.ID,
	})

	d, ok := Parse(in.Text)
	if !ok {
		logger.Debug("Сообщение не похоже на донат, пропускаем")
		return
	}
	logger = logger.WithFields(log.Fields{"growid": d.GrowID, "amount": d.Amount.String()})

	exists, err := l.members.Exists(ctx, d.GrowID)
	if err != nil {
		common.LogError(logger, err, "Ошибка проверки GrowID доната")
		return
	}
	if !exists {
		logger.Info("Донат на неизвестный GrowID")
		l.reply(ctx, chat.Failure(ReplyNotFound, "GrowID "+d.GrowID+" is not registered"))
		return
	}

	b, err := l.ledger.UpdateBalance(ctx, d.GrowID, d.Amount, ledger.TxDonation, in.Text)
	if err != nil {
		common.LogError(logger, err, "Донат не зачислен")
		l.reply(ctx, chat.Failure("Donation failed", common.UserMessage(err)))
		return
	}
	logger.Info("Донат зачислен")

	e := chat.Success(ReplyFilled, "")
	e.AddField("GrowID", d.GrowID, true)
	e.AddField("Deposit", d.Amount.Describe(), true)
	e.AddField("Balance", ledger.FormatBalance(b), true)
	l.reply(ctx, e)
}

func (l *Listener) reply(ctx context.Context, e *chat.Embed) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	if _, err := l.messenger.Send(ctx, l.chatID, chat.Message{Embed: e}); err != nil {
		log.WithError(err).WithField("chat_id", l.chatID).Error("Ошибка ответа в канал доната")
	}
}
