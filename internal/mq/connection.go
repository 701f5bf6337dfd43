package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrNoChannel — соединение сейчас не установлено.
var ErrNoChannel = errors.New("amqp channel not available")

// Параметры переподключения.
const (
	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
)

// Connection — AMQP соединение с одним каналом и переподключением.
// CLI публикует через него job.ready, foldflow-worker потребляет.
type Connection struct {
	url       string
	name      string
	heartbeat time.Duration
	confirms  bool
	logger    *slog.Logger

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool

	done        chan struct{}
	reconnected chan struct{}
}

// Option настраивает Connection.
type Option func(*Connection)

// WithConfirms включает publisher confirms на канале.
func WithConfirms() Option {
	return func(c *Connection) { c.confirms = true }
}

// WithHeartbeat задаёт AMQP heartbeat (по умолчанию 30s).
// Jobs на кластере идут часами, соединение воркера переживает долгие паузы.
func WithHeartbeat(d time.Duration) Option {
	return func(c *Connection) { c.heartbeat = d }
}

// NewConnection подключается к RabbitMQ.
// name виден в management UI как имя соединения.
func NewConnection(url, name string, logger *slog.Logger, opts ...Option) (*Connection, error) {
	if url == "" {
		return nil, errors.New("empty amqp url")
	}
	c := &Connection{
		url:         url,
		name:        name,
		heartbeat:   30 * time.Second,
		logger:      logger.With("component", "amqp", "connection", name),
		done:        make(chan struct{}),
		reconnected: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.dial(); err != nil {
		return nil, err
	}
	go c.supervise()
	return c, nil
}

func (c *Connection) dial() error {
	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName(c.name)

	conn, err := amqp.DialConfig(c.url, amqp.Config{Heartbeat: c.heartbeat, Properties: props})
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if c.confirms {
		if err := ch.Confirm(false); err != nil {
			conn.Close()
			return fmt.Errorf("enable confirms: %w", err)
		}
	}

	c.mu.Lock()
	c.conn, c.channel = conn, ch
	c.mu.Unlock()

	c.logger.Info("connected to RabbitMQ", "confirms", c.confirms)
	return nil
}

// supervise ждёт разрыва соединения и переподключается.
func (c *Connection) supervise() {
	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		lost := conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-c.done:
			return
		case err := <-lost:
			c.logger.Warn("connection lost", "error", err)
		}

		c.mu.Lock()
		c.channel = nil
		c.mu.Unlock()

		if !c.redial() {
			return
		}
	}
}

// redial повторяет подключение с растущей задержкой.
// Возвращает false, если соединение закрыли во время ожидания.
func (c *Connection) redial() bool {
	for attempt := 0; ; attempt++ {
		delay := reconnectDelay(attempt)
		select {
		case <-c.done:
			return false
		case <-time.After(delay):
		}

		if err := c.dial(); err != nil {
			c.logger.Warn("reconnect failed", "attempt", attempt+1, "next_delay", reconnectDelay(attempt+1), "error", err)
			continue
		}

		select {
		case c.reconnected <- struct{}{}:
		default:
		}
		return true
	}
}

// reconnectDelay — задержка перед попыткой attempt: 1s, 2s, 4s ... 30s.
func reconnectDelay(attempt int) time.Duration {
	d := reconnectBase
	for i := 0; i < attempt && d < reconnectMax; i++ {
		d *= 2
	}
	return min(d, reconnectMax)
}

// Reconnected сигналит после каждого успешного переподключения.
func (c *Connection) Reconnected() <-chan struct{} {
	return c.reconnected
}

// WithChannel вызывает fn с текущим каналом.
func (c *Connection) WithChannel(ctx context.Context, fn func(ch *amqp.Channel) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.RLock()
	ch := c.channel
	c.mu.RUnlock()

	if ch == nil {
		return ErrNoChannel
	}
	return fn(ch)
}

// Close закрывает канал и соединение. Повторный вызов ничего не делает.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)

	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}
	c.logger.Info("connection closed")
	return errors.Join(errs...)
}
