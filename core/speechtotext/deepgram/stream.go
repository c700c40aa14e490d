package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"
	"github.com/voxenlabs/voxen-core/core/speechtotext"
)

type stream struct {
	connMu sync.Mutex
	conn   *websocket.Conn

	results chan streamMessage

	closeOnce sync.Once
	closed    chan struct{}

	accumulatedTranscript string
	unendedSegment        bool
	lastMsgTs             time.Time
}

type streamMessage struct {
	result speechtotext.Result
	err    error
}

func newStream(conn *websocket.Conn) *stream {
	return &stream{
		conn:    conn,
		results: make(chan streamMessage, 16),
		closed:  make(chan struct{}),
	}
}

func (s *stream) SendAudio(audio []byte) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return fmt.Errorf("stream is closed")
	}

	s.lastMsgTs = time.Now()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return fmt.Errorf("failed to write to deepgram client: %w", err)
	}
	return nil
}

func (s *stream) Results(ctx context.Context) func(yield func(speechtotext.Result, error) bool) {
	return func(yield func(speechtotext.Result, error) bool) {
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.closed:
				return
			case msg, ok := <-s.results:
				if !ok {
					return
				}
				if !yield(msg.result, msg.err) {
					return
				}
				if msg.result.IsFinal || msg.err != nil {
					return
				}
			}
		}
	}
}

func (s *stream) Close(_ context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)

		s.connMu.Lock()
		defer s.connMu.Unlock()
		if s.conn != nil {
			err = s.conn.WriteJSON(struct {
				Type string `json:"type"`
			}{Type: string(api.TypeCloseStreamResponse)})
			s.conn.Close()
			s.conn = nil
		}
	})
	if err != nil {
		return fmt.Errorf("failed to close deepgram stream: %w", err)
	}
	return nil
}

func (s *stream) readAndProcessMessages(ctx context.Context) {
	defer close(s.results)

	keepAliveCtx, keepAliveCancel := context.WithCancel(ctx)
	defer keepAliveCancel()
	go s.keepAlive(keepAliveCtx)

	for {
		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()
		if conn == nil {
			return
		}

		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closed:
			default:
				if err.Error() != "websocket: close 1000 (normal)" {
					logger.Warn("failed to read deepgram websocket message", "error", err)
				}
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			s.processMessage(msg)
		}
	}
}

func (s *stream) processMessage(msg []byte) {
	var parsedMsg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &parsedMsg); err != nil {
		logger.Warn("failed to unmarshal deepgram message", "error", err)
		return
	}

	switch api.TypeResponse(parsedMsg.Type) {
	case api.TypeMessageResponse:
		var msgResp api.MessageResponse
		if err := json.Unmarshal(msg, &msgResp); err != nil {
			logger.Warn("failed to unmarshal deepgram message", "error", err)
			return
		}
		if len(msgResp.Channel.Alternatives) == 0 {
			return
		}
		transcript := strings.TrimSpace(msgResp.Channel.Alternatives[0].Transcript)
		if transcript == "" {
			return
		}

		if msgResp.IsFinal {
			s.accumulatedTranscript = strings.TrimSpace(s.accumulatedTranscript + " " + transcript)
			if msgResp.SpeechFinal {
				s.onSpeechEnded()
			}
			return
		}
		s.emit(speechtotext.Result{
			Text: strings.TrimSpace(s.accumulatedTranscript + " " + transcript),
		}, nil)

	case api.TypeUtteranceEndResponse:
		if s.unendedSegment {
			s.onSpeechEnded()
		}

	case api.TypeSpeechStartedResponse:
		s.unendedSegment = true
	}
}

func (s *stream) onSpeechEnded() {
	s.unendedSegment = false
	fullTranscript := strings.TrimSpace(s.accumulatedTranscript)
	s.accumulatedTranscript = ""
	if fullTranscript != "" {
		s.emit(speechtotext.Result{Text: fullTranscript, IsFinal: true}, nil)
	}
}

func (s *stream) emit(result speechtotext.Result, err error) {
	select {
	case s.results <- streamMessage{result: result, err: err}:
	case <-s.closed:
	}
}

// keepAlive pings the socket while no audio is flowing so deepgram does
// not drop an idle connection.
func (s *stream) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closed:
			return
		case <-ticker.C:
			s.connMu.Lock()
			if s.conn != nil && time.Since(s.lastMsgTs) > 5*time.Second {
				if err := s.conn.WriteJSON(struct {
					Type string `json:"type"`
				}{Type: "KeepAlive"}); err != nil {
					logger.Warn("failed to write keepalive to deepgram client", "error", err)
				}
			}
			s.connMu.Unlock()
		}
	}
}
