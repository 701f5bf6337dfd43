package mq

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestJobReady_RoundTrip(t *testing.T) {
	in := JobReady{JobID: uuid.New(), Name: "seq1/models/b00", SubmittedAt: time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)}

	body, err := EncodeJobReady(in)
	if err != nil {
		t.Fatalf("EncodeJobReady() error = %v", err)
	}
	out, err := DecodeJobReady(string(MessageTypeJobReady), body)
	if err != nil {
		t.Fatalf("DecodeJobReady() error = %v", err)
	}
	if out != in {
		t.Errorf("DecodeJobReady() = %+v, want %+v", out, in)
	}
}

func TestDecodeJobReady_Malformed(t *testing.T) {
	id := uuid.New().String()
	tests := []struct {
		name    string
		msgType string
		body    string
	}{
		{"not json", "", `hello`},
		{"no job id", "job.ready", `{"name":"x"}`},
		{"wrong type", "run.completed", `{"job_id":"` + id + `"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeJobReady(tt.msgType, []byte(tt.body))
			if !errors.Is(err, ErrMalformedMessage) {
				t.Errorf("error = %v, want ErrMalformedMessage", err)
			}
		})
	}
}

func TestEncodeJobReady_EmptyID(t *testing.T) {
	if _, err := EncodeJobReady(JobReady{Name: "x"}); !errors.Is(err, ErrMalformedMessage) {
		t.Errorf("error = %v, want ErrMalformedMessage", err)
	}
}

func TestDisposition(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		redelivered bool
		want        outcome
	}{
		{"handled", nil, false, ack},
		{"handled on redelivery", nil, true, ack},
		{"first failure", errors.New("db down"), false, requeue},
		{"second failure", errors.New("db down"), true, deadLetter},
		{"malformed", ErrMalformedMessage, false, deadLetter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := disposition(tt.err, tt.redelivered); got != tt.want {
				t.Errorf("disposition() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestReconnectDelay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{5, 30 * time.Second},
		{40, 30 * time.Second},
	}

	for _, tt := range tests {
		if got := reconnectDelay(tt.attempt); got != tt.want {
			t.Errorf("reconnectDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
