package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"curator/internal/fileutil"
	"curator/internal/logging"
	"curator/internal/workerproto"
)

const (
	thumbnailSuffix = ".thumb"
	importSuffix    = ".imported"
)

type worker struct {
	opts   options
	dec    *workerproto.Decoder
	enc    *workerproto.Encoder
	logger *slog.Logger
}

func newWorker(opts options, in io.Reader, out io.Writer, logger *slog.Logger) *worker {
	return &worker{
		opts:   opts,
		dec:    workerproto.NewDecoder(in),
		enc:    workerproto.NewEncoder(out),
		logger: logger,
	}
}

// run serves assignments until shutdown, EOF or ctx cancellation.
func (w *worker) run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, err := w.dec.Decode()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, workerproto.ErrMalformed) {
			w.logger.Warn("ignoring malformed message", logging.Error(err))
			continue
		}
		if err != nil {
			return err
		}
		switch msg.Type {
		case workerproto.TypeShutdown:
			return nil
		case workerproto.TypeProcessAsset:
			if err := w.enc.Encode(workerproto.TypeProcessAssetResponse, w.process(msg.Request)); err != nil {
				return fmt.Errorf("write response: %w", err)
			}
		default:
			w.logger.Debug("ignoring message", logging.String("type", string(msg.Type)))
		}
	}
}

func (w *worker) process(req *workerproto.ProcessAssetRequest) workerproto.ProcessAssetResponse {
	resp := workerproto.ProcessAssetResponse{AssetID: req.AssetID, Status: workerproto.StatusSuccess}
	dest := filepath.Join(w.outputRoot(req), filepath.FromSlash(req.RelativePath))

	if req.Mode == "transform" && slices.Contains(w.opts.importTypes, req.AssetType) {
		if _, err := os.Stat(dest + importSuffix); errors.Is(err, os.ErrNotExist) {
			if err := writeMarker(dest+importSuffix, req.CombinedHash); err != nil {
				return failed(resp, err)
			}
			resp.Status = workerproto.StatusImportNeeded
			w.log(&resp, "info", "import step recorded")
			return resp
		}
	}

	var err error
	switch req.Mode {
	case "transform":
		var digest uint64
		digest, err = fileutil.CopyFileVerified(req.SourcePath, dest)
		if err == nil {
			w.log(&resp, "info", fmt.Sprintf("wrote %s (%016x, %d dependencies)", req.RelativePath, digest, len(req.DependencyHull)))
		}
	case "thumbnail":
		err = writeMarker(dest+thumbnailSuffix, req.ThumbnailHash)
	default:
		err = fmt.Errorf("unsupported mode %q", req.Mode)
	}
	if err != nil {
		return failed(resp, err)
	}
	return resp
}

func (w *worker) outputRoot(req *workerproto.ProcessAssetRequest) string {
	platform := req.TargetPlatform
	if platform == "" {
		platform = w.opts.profile
	}
	return filepath.Join(req.OutputDir, platform)
}

func (w *worker) log(resp *workerproto.ProcessAssetResponse, level, message string) {
	resp.LogEntries = append(resp.LogEntries, workerproto.LogEntry{Level: level, Message: message})
	if err := w.enc.Encode(workerproto.TypeLog, workerproto.LogEntry{Level: level, Message: message}); err != nil {
		w.logger.Warn("failed to forward log", logging.Error(err))
	}
}

func failed(resp workerproto.ProcessAssetResponse, err error) workerproto.ProcessAssetResponse {
	resp.Status = workerproto.StatusFailed
	resp.StatusMessage = err.Error()
	resp.LogEntries = append(resp.LogEntries, workerproto.LogEntry{Level: "error", Message: err.Error()})
	return resp
}

func writeMarker(path string, hash uint64) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.FormatUint(hash, 16)+"\n"), 0o644)
}
