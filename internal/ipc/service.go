package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"curator/internal/api"
	"curator/internal/asset"
	"curator/internal/daemon"
	"curator/internal/logging"
	"curator/internal/logs"
)

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) Start(_ StartRequest, resp *StartResponse) error {
	s.logger.Debug("daemon start requested")
	if err := s.daemon.Start(s.ctx); err != nil {
		resp.Started = false
		resp.Message = err.Error()
		return nil
	}
	resp.Started = true
	resp.Message = "daemon started"
	s.logger.Info("daemon started via IPC", logging.String(logging.FieldEventType, "daemon_start"))
	return nil
}

func (s *service) Stop(req StopRequest, resp *StopResponse) error {
	s.logger.Debug("daemon stop requested", logging.Bool("exit", req.Exit))
	s.daemon.Stop()
	resp.Stopped = true
	s.logger.Info("daemon stopped via IPC", logging.String(logging.FieldEventType, "daemon_stop"))
	if req.Exit {
		s.daemon.RequestShutdown()
	}
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	resp.Status = s.daemon.Status(s.ctx)
	return nil
}

func (s *service) Stats(_ StatsRequest, resp *StatsResponse) error {
	resp.Stats = s.daemon.Assets().Stats()
	return nil
}

func (s *service) AssetList(req AssetListRequest, resp *AssetListResponse) error {
	filter := api.AssetFilter{Type: req.Type, Search: req.Search}
	for _, value := range req.States {
		state, ok := asset.ParseState(value)
		if !ok {
			return fmt.Errorf("unknown state %q", value)
		}
		filter.States = append(filter.States, state)
	}
	resp.Assets = s.daemon.Assets().List(filter)
	return nil
}

func (s *service) AssetDescribe(req AssetRequest, resp *AssetResponse) error {
	view, err := s.daemon.Assets().Describe(req.Ref)
	if err != nil {
		return err
	}
	resp.Asset = view
	return nil
}

func (s *service) AssetUses(req UsesRequest, resp *UsesResponse) error {
	uses, err := s.daemon.Assets().Uses(req.Ref, req.Transitive)
	if err != nil {
		return err
	}
	*resp = uses
	return nil
}

func (s *service) Scan(_ ScanRequest, resp *StatsResponse) error {
	s.logger.Debug("scan requested")
	stats, err := s.daemon.Scan(s.ctx)
	if err != nil {
		return err
	}
	resp.Stats = stats
	s.logger.Info("scan completed via IPC",
		logging.String(logging.FieldEventType, "scan"),
		logging.Int("assets", stats.Total))
	return nil
}

func (s *service) Retry(req AssetRequest, resp *AssetResponse) error {
	view, err := s.daemon.Retry(req.Ref)
	if err != nil {
		return err
	}
	resp.Asset = view
	s.logger.Info("asset retried", logging.String(logging.FieldEventType, "asset_retry"), logging.AssetID(view.ID))
	return nil
}

func (s *service) RetryFailed(_ EmptyRequest, resp *CountResponse) error {
	resp.Count = s.daemon.RetryFailed()
	s.logger.Info("failed assets retried",
		logging.String(logging.FieldEventType, "asset_retry_failed"),
		logging.Int("count", resp.Count))
	return nil
}

func (s *service) Transform(req AssetRequest, resp *AssetResponse) error {
	view, err := s.daemon.Transform(req.Ref)
	if err != nil {
		return err
	}
	resp.Asset = view
	return nil
}

func (s *service) TransformAll(_ EmptyRequest, resp *CountResponse) error {
	resp.Count = s.daemon.TransformAll()
	s.logger.Info("full transform requested",
		logging.String(logging.FieldEventType, "transform_all"),
		logging.Int("count", resp.Count))
	return nil
}

func (s *service) SetPlatform(req PlatformRequest, resp *PlatformResponse) error {
	if err := s.daemon.SetPlatform(s.ctx, req.Name); err != nil {
		return err
	}
	resp.Platform = req.Name
	return nil
}

func (s *service) SaveCaches(_ EmptyRequest, _ *CountResponse) error {
	return s.daemon.SaveCaches(s.ctx)
}

func (s *service) LogTail(req LogTailRequest, resp *LogTailResponse) error {
	logPath := s.daemon.LogPath()
	if logPath == "" {
		resp.Offset = 0
		return nil
	}
	wait := time.Duration(req.WaitMillis) * time.Millisecond
	if wait <= 0 && req.Follow {
		wait = time.Second
	}
	ctx := s.ctx
	if req.Follow && wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, wait+500*time.Millisecond)
		defer cancel()
	}
	result, err := logs.Tail(ctx, logPath, logs.TailOptions{
		Offset: req.Offset,
		Limit:  req.Limit,
		Follow: req.Follow,
		Wait:   wait,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			resp.Offset = result.Offset
			return nil
		}
		return err
	}
	resp.Lines = result.Lines
	resp.Offset = result.Offset
	return nil
}

func (s *service) LogFetch(req LogFetchRequest, resp *LogFetchResponse) error {
	hub := s.daemon.LogStream()
	if hub == nil {
		resp.Next = req.Since
		return nil
	}
	ctx := s.ctx
	if req.Follow {
		wait := time.Duration(req.WaitMillis) * time.Millisecond
		if wait <= 0 {
			wait = 5 * time.Second
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, wait)
		defer cancel()
	}
	events, next, err := hub.Fetch(ctx, logging.LogQuery{
		Since:     req.Since,
		Limit:     req.Limit,
		AssetID:   req.AssetID,
		Component: req.Component,
		MinLevel:  req.Level,
		Wait:      req.Follow,
	})
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return err
	}
	resp.Events = events
	resp.Next = next
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	resp.Sent = sent
	resp.Message = message
	return err
}
