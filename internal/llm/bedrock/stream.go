package bedrock

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// eventReader is satisfied by *bedrockruntime.InvokeModelWithResponseStreamEventStream.
type eventReader interface {
	Events() <-chan types.ResponseStream
	Close() error
	Err() error
}

type claudeStream struct {
	src  eventReader
	done bool
}

func newClaudeStream(src eventReader) *claudeStream { return &claudeStream{src: src} }

type streamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *claudeStream) Recv() (string, bool, error) {
	if s.done {
		return "", true, nil
	}
	for {
		ev, ok := <-s.src.Events()
		if !ok {
			s.done = true
			if err := s.src.Err(); err != nil {
				return "", true, fmt.Errorf("bedrock: stream: %w", err)
			}
			return "", true, nil
		}
		chunk, ok := ev.(*types.ResponseStreamMemberChunk)
		if !ok {
			continue
		}
		var se streamEvent
		if err := json.Unmarshal(chunk.Value.Bytes, &se); err != nil {
			continue
		}
		switch se.Type {
		case "content_block_delta":
			if se.Delta.Text != "" {
				return se.Delta.Text, false, nil
			}
		case "message_stop":
			s.done = true
			return "", true, nil
		case "error":
			s.done = true
			msg := "unknown error"
			if se.Error != nil {
				msg = se.Error.Message
			}
			return "", true, errors.New("bedrock: stream: " + msg)
		}
	}
}

func (s *claudeStream) Close() error { return s.src.Close() }
