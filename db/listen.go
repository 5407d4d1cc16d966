package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"order-tracker/logger"
	"order-tracker/services"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const unlistenTimeout = 5 * time.Second

// ListenProvider opens push channels on Postgres LISTEN/NOTIFY. The orders
// trigger publishes every row change on one topic; each channel filters the
// payloads down to its own order.
type ListenProvider struct {
	pool  *pgxpool.Pool
	topic string
	log   logger.Logger
}

func NewListenProvider(pool *pgxpool.Pool, topic string, log logger.Logger) *ListenProvider {
	return &ListenProvider{pool: pool, topic: topic, log: log}
}

// Open parks a pool connection on LISTEN. ctx bounds only the setup; the
// channel lives until Close.
func (p *ListenProvider) Open(ctx context.Context, spec services.ChannelSpec, onEvent func([]byte), onStatus func(services.ChannelStatus, error)) (services.Channel, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{p.topic}.Sanitize()); err != nil {
		conn.Release()
		if errors.Is(err, context.DeadlineExceeded) {
			onStatus(services.ChannelTimedOut, err)
		}
		return nil, fmt.Errorf("listen %s: %w", p.topic, err)
	}

	lctx, cancel := context.WithCancel(context.Background())
	ch := &listenChannel{
		spec:    spec,
		orderID: filterValue(spec.Filter, "id"),
		cancel:  cancel,
		done:    make(chan struct{}),
		log:     p.log.WithFields(logger.String("channel", spec.Name)),
	}
	onStatus(services.ChannelSubscribed, nil)
	go ch.run(lctx, conn, onEvent, onStatus)
	return ch, nil
}

type listenChannel struct {
	spec    services.ChannelSpec
	orderID string
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
	log     logger.Logger
}

func (c *listenChannel) Name() string {
	return c.spec.Name
}

// Close stops listening and waits until the connection is back in the pool.
func (c *listenChannel) Close() error {
	c.once.Do(c.cancel)
	<-c.done
	return nil
}

func (c *listenChannel) run(ctx context.Context, conn *pgxpool.Conn, onEvent func([]byte), onStatus func(services.ChannelStatus, error)) {
	defer close(c.done)
	defer c.release(conn)

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				onStatus(services.ChannelClosed, nil)
				return
			}
			c.log.Warn("listen connection lost", logger.Error(err))
			onStatus(services.ChannelError, err)
			return
		}
		payload := []byte(n.Payload)
		if !c.matches(payload) {
			continue
		}
		onEvent(payload)
	}
}

// matches applies the channel's table, event and id filter to a trigger
// payload. Undecodable payloads pass through so the subscriber can log them.
func (c *listenChannel) matches(payload []byte) bool {
	var head struct {
		Table string `json:"table"`
		Type  string `json:"type"`
		New   struct {
			ID string `json:"id"`
		} `json:"new"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return true
	}
	if c.spec.Table != "" && head.Table != "" && head.Table != c.spec.Table {
		return false
	}
	if c.spec.Event != "" && head.Type != "" && !strings.EqualFold(head.Type, c.spec.Event) {
		return false
	}
	return c.orderID == "" || head.New.ID == "" || head.New.ID == c.orderID
}

func (c *listenChannel) release(conn *pgxpool.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), unlistenTimeout)
	defer cancel()
	if !conn.Conn().IsClosed() {
		if _, err := conn.Exec(ctx, "UNLISTEN *"); err != nil {
			// A connection still subscribed must not go back to the pool.
			_ = conn.Conn().Close(ctx)
		}
	}
	conn.Release()
}

// filterValue extracts the value of "<column>=eq.<value>".
func filterValue(filter, column string) string {
	prefix := column + "=eq."
	if !strings.HasPrefix(filter, prefix) {
		return ""
	}
	return strings.TrimPrefix(filter, prefix)
}
