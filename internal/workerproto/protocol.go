// Package workerproto defines the newline-delimited JSON protocol spoken
// between the curator and its worker processes over stdin/stdout.
//
// Every line is an Envelope whose payload is decoded into exactly one
// concrete message type. Envelopes and payloads are validated once, when a
// line is decoded, so the rest of the program only sees well-formed values.
package workerproto

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// MessageType tags an envelope.
type MessageType string

const (
	TypeProcessAsset         MessageType = "process_asset"
	TypeProcessAssetResponse MessageType = "process_asset_response"
	TypeLog                  MessageType = "log"
	TypeShutdown             MessageType = "shutdown"
)

// LegacyImportNeeded is the status message older workers use to ask for an
// import step instead of reporting a typed status.
const LegacyImportNeeded = "IMPORT NEEDED!"

// maxLine bounds a single envelope. Hull lists of large projects dominate.
const maxLine = 16 << 20

// ErrMalformed marks a line that is not a valid envelope.
var ErrMalformed = errors.New("malformed worker message")

// Envelope is the wire form of every message.
type Envelope struct {
	Type    MessageType     `json:"type" validate:"required,oneof=process_asset process_asset_response log shutdown"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ProcessAssetRequest asks a worker to transform or thumbnail one asset.
type ProcessAssetRequest struct {
	AssetID        string   `json:"asset_id" validate:"required,uuid"`
	AssetType      string   `json:"asset_type"`
	CombinedHash   uint64   `json:"combined_hash"`
	ThumbnailHash  uint64   `json:"thumbnail_hash"`
	Mode           string   `json:"mode" validate:"required,oneof=transform thumbnail"`
	SourcePath     string   `json:"source_path" validate:"required"`
	RelativePath   string   `json:"relative_path" validate:"required"`
	OutputDir      string   `json:"output_dir"`
	DependencyHull []string `json:"dependency_hull"`
	ReferenceHull  []string `json:"reference_hull"`
	TargetPlatform string   `json:"target_platform" validate:"required"`
}

// Status is the result class a worker reports.
type Status string

const (
	StatusSuccess      Status = "success"
	StatusFailed       Status = "failed"
	StatusImportNeeded Status = "import_needed"
)

// LogEntry is one line of worker-side logging.
type LogEntry struct {
	Level   string `json:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Message string `json:"message"`
}

// ProcessAssetResponse answers a ProcessAssetRequest.
type ProcessAssetResponse struct {
	AssetID       string     `json:"asset_id,omitempty" validate:"omitempty,uuid"`
	Status        Status     `json:"status" validate:"required,oneof=success failed import_needed"`
	StatusMessage string     `json:"status_message,omitempty"`
	LogEntries    []LogEntry `json:"log_entries,omitempty" validate:"dive"`
}

// Message is a decoded envelope. Exactly one pointer is set, matching Type,
// except for shutdown which carries no payload.
type Message struct {
	Type     MessageType
	Request  *ProcessAssetRequest
	Response *ProcessAssetResponse
	Log      *LogEntry
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Encoder writes envelopes, one per line. It is safe for concurrent use.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode validates payload and writes it wrapped in an envelope of msgType.
// payload may be nil for shutdown.
func (e *Encoder) Encode(msgType MessageType, payload any) error {
	env := Envelope{Type: msgType}
	if payload != nil {
		if err := validatorInstance().Struct(payload); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMalformed, msgType, err)
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", msgType, err)
		}
		env.Payload = raw
	}
	line, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", msgType, err)
	}
	line = append(line, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	_, err = e.w.Write(line)
	return err
}

// Decoder reads envelopes line by line.
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), maxLine)
	return &Decoder{scanner: s}
}

// Decode returns the next message. Blank lines are skipped. io.EOF is
// returned when the stream ends. A malformed line yields an error wrapping
// ErrMalformed and decoding may continue with the next line.
func (d *Decoder) Decode() (Message, error) {
	for d.scanner.Scan() {
		line := strings.TrimSpace(d.scanner.Text())
		if line == "" {
			continue
		}
		return ParseLine([]byte(line))
	}
	if err := d.scanner.Err(); err != nil {
		return Message{}, err
	}
	return Message{}, io.EOF
}

// ParseLine decodes and validates a single envelope.
func ParseLine(line []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := validatorInstance().Struct(env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	msg := Message{Type: env.Type}
	var target any
	switch env.Type {
	case TypeProcessAsset:
		msg.Request = &ProcessAssetRequest{}
		target = msg.Request
	case TypeProcessAssetResponse:
		msg.Response = &ProcessAssetResponse{}
		target = msg.Response
	case TypeLog:
		msg.Log = &LogEntry{}
		target = msg.Log
	case TypeShutdown:
		return msg, nil
	}
	if len(env.Payload) == 0 {
		return Message{}, fmt.Errorf("%w: %s without payload", ErrMalformed, env.Type)
	}
	if err := json.Unmarshal(env.Payload, target); err != nil {
		return Message{}, fmt.Errorf("%w: %s payload: %v", ErrMalformed, env.Type, err)
	}
	if msg.Response != nil {
		normalizeLegacy(msg.Response)
	}
	if err := validatorInstance().Struct(target); err != nil {
		return Message{}, fmt.Errorf("%w: %s payload: %v", ErrMalformed, env.Type, err)
	}
	return msg, nil
}

func normalizeLegacy(resp *ProcessAssetResponse) {
	if strings.TrimSpace(resp.StatusMessage) != LegacyImportNeeded {
		return
	}
	resp.Status = StatusImportNeeded
	resp.StatusMessage = ""
}
