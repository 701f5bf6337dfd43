package mq

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType — значение свойства Type AMQP сообщения.
type MessageType string

// MessageTypeJobReady — job записан в БД и ждёт воркера.
const MessageTypeJobReady MessageType = "job.ready"

// contentType — формат тела сообщений.
const contentType = "application/json"

// ErrMalformedMessage — тело или свойства сообщения не разбираются.
// Такие сообщения уходят в DLQ без повторов.
var ErrMalformedMessage = errors.New("malformed message")

// JobReady — тело сообщения job.ready.
// Состояние job хранится в БД, сообщение только будит воркера.
type JobReady struct {
	JobID       uuid.UUID `json:"job_id"`
	Name        string    `json:"name"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// EncodeJobReady сериализует сообщение.
func EncodeJobReady(m JobReady) ([]byte, error) {
	if m.JobID == uuid.Nil {
		return nil, fmt.Errorf("%w: empty job id", ErrMalformedMessage)
	}
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal job.ready: %w", err)
	}
	return body, nil
}

// DecodeJobReady разбирает доставленное сообщение.
// Пустой msgType допускается: старые publisher'ы его не выставляли.
func DecodeJobReady(msgType string, body []byte) (JobReady, error) {
	var m JobReady
	if msgType != "" && MessageType(msgType) != MessageTypeJobReady {
		return m, fmt.Errorf("%w: unexpected type %q", ErrMalformedMessage, msgType)
	}
	if err := json.Unmarshal(body, &m); err != nil {
		return m, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if m.JobID == uuid.Nil {
		return m, fmt.Errorf("%w: empty job id", ErrMalformedMessage)
	}
	return m, nil
}
