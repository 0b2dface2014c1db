// Package ingest consumes the upstream message stream over a websocket and
// appends each message to the live feed log. Authoring happens elsewhere;
// this is the only writer feeding the subscription engine.
package ingest

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/raichat/social/feed"
	"github.com/raichat/social/monitoring"
	"github.com/raichat/social/storage"
	"github.com/raichat/social/storage/models"
)

// CursorPersistInterval is how many messages pass between resume cursor
// writes. Replaying up to that many messages after a restart is harmless:
// subscriptions are process-local and start at the live tail anyway.
const CursorPersistInterval = 100

// wireMessage mirrors the upstream stream's JSON message shape.
type wireMessage struct {
	ID             string `json:"id"`
	AuthorID       string `json:"uid"`
	RecipientScope string `json:"scope"`
	ReplyTo        string `json:"replyTo"`
	Time           int64  `json:"time"`
}

type Consumer struct {
	service           string
	connection        *websocket.Conn
	manager           *storage.Manager
	engine            *feed.Engine
	metricsMiddleware *monitoring.IngestMiddleware
}

// New dials the upstream stream, resuming from the last persisted cursor.
func New(service string, manager *storage.Manager, engine *feed.Engine, u url.URL) *Consumer {
	cursor, err := manager.GetCursor(context.Background(), service)
	if err != nil {
		log.Errorf("Error getting cursor for %s: %v", service, err)
	}
	if cursor > 0 {
		q := u.Query()
		q.Set("cursor", strconv.FormatInt(cursor, 10))
		u.RawQuery = q.Encode()
	}

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Error(err)
		return nil
	}

	consumer := &Consumer{
		service:    service,
		connection: c,
		manager:    manager,
		engine:     engine,
	}
	consumer.metricsMiddleware = monitoring.NewIngestMiddleware(consumer.processMessage)
	return consumer
}

// Run reads the stream until the connection drops, publishing each message
// and persisting the resume cursor every CursorPersistInterval messages.
func (c *Consumer) Run() {
	defer c.connection.Close()

	var seen int64
	for {
		_, data, err := c.connection.ReadMessage()
		if err != nil {
			log.Errorf("Error reading from %s stream: %v", c.service, err)
			return
		}

		var wire wireMessage
		if err := json.Unmarshal(data, &wire); err != nil {
			log.Errorf("Error decoding stream message: %v", err)
			continue
		}

		msg := models.Message{
			ID:             wire.ID,
			AuthorID:       wire.AuthorID,
			RecipientScope: wire.RecipientScope,
			ReplyToID:      wire.ReplyTo,
			CreatedAt:      time.UnixMilli(wire.Time).UTC(),
			Payload:        data,
		}
		if err := c.metricsMiddleware.HandleMessage(msg); err != nil {
			log.Errorf("Error handling message %s: %v", msg.ID, err)
		}

		seen++
		if seen%CursorPersistInterval == 0 {
			cursor := wire.Time
			go func() {
				if err := c.manager.UpdateCursor(context.Background(), c.service, cursor); err != nil {
					log.Errorf("Error updating cursor for %s: %v", c.service, err)
				}
			}()
		}
	}
}

func (c *Consumer) processMessage(msg models.Message) error {
	c.engine.Publish(msg)
	return nil
}
