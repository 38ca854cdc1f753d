package server

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/webtransport-go"

	"sudooom.im.sync/internal/config"
	"sudooom.im.sync/internal/connection"
	apperrors "sudooom.im.sync/internal/errors"
	"sudooom.im.sync/internal/handler"
	"sudooom.im.sync/internal/presence"
	"sudooom.im.sync/internal/proto"
	"sudooom.im.sync/internal/telemetry"
)

// Server WebTransport 事件通道服务器
// 每个客户端会话持有一个双向流，首帧必须是认证请求
type Server struct {
	cfg              *config.Config
	registry         *connection.Registry
	handler          *handler.ChannelHandler
	location         *presence.LocationStore
	metrics          *telemetry.Metrics
	logger           *slog.Logger
	wtServer         *webtransport.Server
	heartbeatChecker *connection.HeartbeatChecker
	wg               sync.WaitGroup
}

// New 创建服务器
func New(
	cfg *config.Config,
	registry *connection.Registry,
	channelHandler *handler.ChannelHandler,
	location *presence.LocationStore,
	metrics *telemetry.Metrics,
	logger *slog.Logger,
) *Server {
	return &Server{
		cfg:      cfg,
		registry: registry,
		handler:  channelHandler,
		location: location,
		metrics:  metrics,
		logger:   logger,
	}
}

// Start 启动服务器（阻塞）
func (s *Server) Start(ctx context.Context) error {
	tlsConfig, err := s.loadTLSConfig()
	if err != nil {
		return err
	}

	quicConfig := &quic.Config{
		MaxIdleTimeout:     s.cfg.QUIC.MaxIdleTimeout,
		KeepAlivePeriod:    s.cfg.QUIC.KeepAlivePeriod,
		MaxIncomingStreams: s.cfg.QUIC.MaxIncomingStreams,
		EnableDatagrams:    true, // WebTransport 需要启用数据报支持
	}

	s.wtServer = &webtransport.Server{
		H3: http3.Server{
			Addr:       s.cfg.Server.Addr,
			TLSConfig:  tlsConfig,
			QUICConfig: quicConfig,
		},
		CheckOrigin: func(r *http.Request) bool {
			// TODO: 生产环境应该检查 Origin
			return true
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/sync", func(w http.ResponseWriter, r *http.Request) {
		session, err := s.wtServer.Upgrade(w, r)
		if err != nil {
			s.logger.Error("WebTransport upgrade failed", "error", err)
			return
		}
		s.wg.Add(1)
		go s.handleSession(ctx, session)
	})
	s.wtServer.H3.Handler = mux

	s.heartbeatChecker = connection.NewHeartbeatChecker(
		s.registry,
		s.cfg.Server.HeartbeatTimeout,
		s.cfg.Server.HeartbeatCheckInterval,
		s.logger,
	)
	go s.heartbeatChecker.Start(ctx)

	s.logger.Info("WebTransport server starting", "addr", s.cfg.Server.Addr)
	return s.wtServer.ListenAndServe()
}

// handleSession 单个客户端会话的生命周期
func (s *Server) handleSession(ctx context.Context, session *webtransport.Session) {
	defer s.wg.Done()

	stream, err := session.AcceptStream(ctx)
	if err != nil {
		// 会话在认证前关闭
		return
	}

	ch := connection.NewChannel(session, stream, s.logger)
	defer ch.Close()

	// 首帧必须是认证请求
	if err := s.authenticate(ctx, ch, stream); err != nil {
		s.logger.Warn("Auth failed, closing session", "channel_id", ch.ID(), "error", err)
		session.CloseWithError(4001, "auth failed")
		return
	}

	regID := s.registry.Register(ctx, ch.UserID(), ch)
	if s.metrics != nil {
		s.metrics.ChannelsActive.Set(float64(s.registry.Count()))
	}
	defer func() {
		s.registry.Deregister(ctx, regID)
		if err := s.location.Unregister(ctx, ch.UserID(), ch.ID()); err != nil {
			s.logger.Error("Failed to unregister channel location",
				"userId", ch.UserID(), "channelId", ch.ID(), "error", err)
		}
		if s.metrics != nil {
			s.metrics.ChannelsActive.Set(float64(s.registry.Count()))
		}
	}()

	s.readLoop(ctx, ch, stream)
}

func (s *Server) authenticate(ctx context.Context, ch *connection.Channel, stream webtransport.Stream) error {
	payload, err := proto.ReadFrame(stream)
	if err != nil {
		return err
	}
	pkt, err := proto.DecodeClientPacket(payload)
	if err != nil {
		return err
	}
	return s.handler.Authenticate(ctx, ch, pkt)
}

// readLoop 已认证通道的读循环，阻塞直到流关闭
func (s *Server) readLoop(ctx context.Context, ch *connection.Channel, stream webtransport.Stream) {
	for {
		payload, err := proto.ReadFrame(stream)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Debug("Channel read ended", "channel_id", ch.ID(), "error", err)
			}
			return
		}

		ch.Touch()

		pkt, err := proto.DecodeClientPacket(payload)
		if err != nil {
			// 不合法的数据包同步拒绝，不进入任何处理流程
			s.sendError(ch, err)
			continue
		}

		s.handler.HandlePacket(ctx, ch, pkt)
	}
}

func (s *Server) sendError(ch *connection.Channel, err error) {
	sendErr := ch.SendEvent(&proto.ServerEvent{Error: &proto.ErrorReply{
		Code:    apperrors.GetCode(err),
		Message: apperrors.GetMessage(err),
	}})
	if sendErr != nil {
		s.logger.Debug("Failed to send error reply", "channel_id", ch.ID(), "error", sendErr)
	}
}

func (s *Server) loadTLSConfig() (*tls.Config, error) {
	if s.cfg.QUIC.CertFile != "" && s.cfg.QUIC.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(s.cfg.QUIC.CertFile, s.cfg.QUIC.KeyFile)
		if err != nil {
			return nil, err
		}
		s.logger.Info("Loaded TLS certificate",
			"cert_file", s.cfg.QUIC.CertFile,
			"key_file", s.cfg.QUIC.KeyFile)
		return &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{"h3", "webtransport"},
			MinVersion:   tls.VersionTLS13,
		}, nil
	}

	s.logger.Warn("No TLS certificate configured, using self-signed certificate")
	return generateSelfSignedTLSConfig()
}

// Shutdown 关闭服务器并等待在途会话结束
func (s *Server) Shutdown() {
	if s.wtServer != nil {
		s.wtServer.Close()
	}
	s.wg.Wait()
}
