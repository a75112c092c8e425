package workerproto_test

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"

	"curator/internal/workerproto"
)

func TestRequestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc := workerproto.NewEncoder(&buf)
	req := workerproto.ProcessAssetRequest{
		AssetID:        uuid.NewString(),
		CombinedHash:   1<<64 - 1,
		Mode:           "transform",
		SourcePath:     "/data/mesh.obj",
		RelativePath:   "mesh.obj",
		DependencyHull: []string{"/data/mat.mat"},
		TargetPlatform: "default",
	}
	if err := enc.Encode(workerproto.TypeProcessAsset, req); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := enc.Encode(workerproto.TypeShutdown, nil); err != nil {
		t.Fatalf("Encode shutdown: %v", err)
	}

	dec := workerproto.NewDecoder(&buf)
	msg, err := dec.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Request == nil || msg.Request.CombinedHash != req.CombinedHash {
		t.Fatalf("unexpected request %+v", msg.Request)
	}
	msg, err = dec.Decode()
	if err != nil || msg.Type != workerproto.TypeShutdown {
		t.Fatalf("expected shutdown, got %+v err=%v", msg, err)
	}
	if _, err := dec.Decode(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestEncodeRejectsInvalidRequest(t *testing.T) {
	enc := workerproto.NewEncoder(io.Discard)
	err := enc.Encode(workerproto.TypeProcessAsset, workerproto.ProcessAssetRequest{AssetID: "not-a-uuid", Mode: "bake"})
	if !errors.Is(err, workerproto.ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestLegacyImportMessageBecomesTypedStatus(t *testing.T) {
	line := `{"type":"process_asset_response","payload":{"status":"failed","status_message":"IMPORT NEEDED!"}}`
	msg, err := workerproto.ParseLine([]byte(line))
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if msg.Response.Status != workerproto.StatusImportNeeded {
		t.Fatalf("expected import_needed, got %q", msg.Response.Status)
	}
	if msg.Response.StatusMessage != "" {
		t.Fatalf("legacy message should be cleared, got %q", msg.Response.StatusMessage)
	}
}

func TestDecodeRejectsMalformedLines(t *testing.T) {
	cases := map[string]string{
		"not json":        `{{`,
		"unknown type":    `{"type":"explode","payload":{}}`,
		"missing status":  `{"type":"process_asset_response","payload":{"status_message":"x"}}`,
		"bad status":      `{"type":"process_asset_response","payload":{"status":"maybe"}}`,
		"missing payload": `{"type":"log"}`,
		"bad log level":   `{"type":"process_asset_response","payload":{"status":"success","log_entries":[{"level":"loud","message":"x"}]}}`,
	}
	for name, line := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := workerproto.ParseLine([]byte(line)); !errors.Is(err, workerproto.ErrMalformed) {
				t.Fatalf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestDecoderSkipsBlankLinesAndContinuesAfterErrors(t *testing.T) {
	input := strings.Join([]string{
		"",
		"garbage",
		`{"type":"log","payload":{"level":"info","message":"warming up"}}`,
	}, "\n")
	dec := workerproto.NewDecoder(strings.NewReader(input))
	if _, err := dec.Decode(); !errors.Is(err, workerproto.ErrMalformed) {
		t.Fatalf("expected malformed first line, got %v", err)
	}
	msg, err := dec.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Log == nil || msg.Log.Message != "warming up" {
		t.Fatalf("unexpected log message %+v", msg.Log)
	}
}
