// Package ipctest serves a gateway.Backend over the ipc transport so the
// client can be exercised end to end against an in-memory backend.
package ipctest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/tstore/tstore-desktop/internal/gateway"
	"github.com/tstore/tstore-desktop/internal/ipc"
	"github.com/tstore/tstore-desktop/internal/logging"
)

// requestReadTimeout bounds how long a connection may sit before sending its request line.
const requestReadTimeout = 30 * time.Second

// Server exposes a gateway.Backend over the IPC transport, speaking the same
// protocol as the backend process.
type Server struct {
	backend  gateway.Backend
	logger   *logging.Logger
	path     string
	listener net.Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a server for backend listening on path. An empty path
// uses the platform default.
func NewServer(backend gateway.Backend, logger *logging.Logger, path string) *Server {
	if path == "" {
		path = ipc.DefaultSocketPath()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		backend: backend,
		logger:  logger,
		path:    path,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Path returns the socket path or pipe name.
func (s *Server) Path() string {
	return s.path
}

// Start begins listening for IPC connections.
func (s *Server) Start() error {
	listener, err := listen(s.path)
	if err != nil {
		return err
	}
	s.listener = listener

	s.logger.Info().Str("socket", s.path).Msg("IPC server started")

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop closes the listener, cancels in-flight requests and waits for every
// connection handler to return.
func (s *Server) Stop() {
	s.logger.Debug().Msg("Stopping IPC server")
	s.cancel()

	if s.listener != nil {
		s.listener.Close()
		cleanup(s.path)
	}

	s.wg.Wait()
	s.logger.Info().Msg("IPC server stopped")
}

// acceptLoop accepts incoming connections.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn().Err(err).Msg("Failed to accept IPC connection")
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection processes a single client connection.
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	// Close the connection on shutdown so blocked reads return
	stop := context.AfterFunc(s.ctx, func() { conn.Close() })
	defer stop()

	conn.SetReadDeadline(time.Now().Add(requestReadTimeout))

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), ipc.MaxLineSize)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil && s.ctx.Err() == nil {
			s.logger.Warn().Err(err).Msg("Failed to read IPC request")
		}
		return
	}

	req, err := ipc.DecodeRequest(scanner.Bytes())
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to decode IPC request")
		s.sendResponse(conn, ipc.NewErrorResponse("invalid request format"))
		return
	}

	conn.SetReadDeadline(time.Time{})

	s.logger.Debug().
		Str("type", string(req.Type)).
		Str("name", req.Name).
		Msg("Received IPC request")

	if req.Type == ipc.MsgSubscribeEvents {
		s.streamEvents(conn, func() {
			// Drain until the client hangs up
			for scanner.Scan() {
			}
		})
		return
	}

	s.sendResponse(conn, s.handleRequest(s.ctx, req))
}

// handleRequest dispatches one request to the backend.
func (s *Server) handleRequest(ctx context.Context, req *ipc.Request) *ipc.Response {
	switch req.Type {
	case ipc.MsgPing:
		return ipc.NewOKResponse()

	case ipc.MsgFetchMetadata:
		files, err := s.backend.FetchMetadata(ctx)
		if err != nil {
			return errorResponse(err)
		}
		return ipc.NewMetadataResponse(files)

	case ipc.MsgUpload:
		if req.Path == "" {
			return ipc.NewErrorResponse("path required")
		}
		return okOrError(s.backend.Upload(ctx, req.Path))

	case ipc.MsgDownload, ipc.MsgOffload, ipc.MsgDelete, ipc.MsgUpdateDescription:
		if req.Name == "" {
			return ipc.NewErrorResponse("name required")
		}
		return okOrError(s.handleNamed(ctx, req))

	case ipc.MsgGetConfig:
		cfg, err := s.backend.GetConfig(ctx)
		if err != nil {
			return errorResponse(err)
		}
		return ipc.NewConfigResponse(cfg)

	case ipc.MsgUpdateConfig:
		if req.Config == nil {
			return ipc.NewErrorResponse("config required")
		}
		return okOrError(s.backend.UpdateConfig(ctx, *req.Config))

	case ipc.MsgSelectFile:
		path, err := s.backend.SelectFile(ctx)
		if err != nil {
			return errorResponse(err)
		}
		return ipc.NewPathResponse(path)

	case ipc.MsgSelectDirectory:
		path, err := s.backend.SelectDirectory(ctx)
		if err != nil {
			return errorResponse(err)
		}
		return ipc.NewPathResponse(path)

	default:
		return ipc.NewErrorResponse(fmt.Sprintf("unknown request type: %s", req.Type))
	}
}

func (s *Server) handleNamed(ctx context.Context, req *ipc.Request) error {
	switch req.Type {
	case ipc.MsgDownload:
		return s.backend.Download(ctx, req.Name)
	case ipc.MsgOffload:
		return s.backend.Offload(ctx, req.Name)
	case ipc.MsgDelete:
		return s.backend.Delete(ctx, req.Name)
	default:
		return s.backend.UpdateDescription(ctx, req.Name, req.Description)
	}
}

// streamEvents acknowledges the subscription and forwards backend events until
// the client disconnects or the server stops. drain blocks until the client
// side of the connection closes.
func (s *Server) streamEvents(conn net.Conn, drain func()) {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	go func() {
		drain()
		cancel()
	}()

	ch, err := s.backend.Events(ctx)
	if err != nil {
		s.sendResponse(conn, errorResponse(err))
		return
	}
	if !s.sendResponse(conn, ipc.NewOKResponse()) {
		return
	}

	s.logger.Debug().Msg("Event subscriber connected")
	for ev := range ch {
		if !s.sendResponse(conn, ipc.NewEventResponse(ev)) {
			return
		}
	}
}

func okOrError(err error) *ipc.Response {
	if err != nil {
		return errorResponse(err)
	}
	return ipc.NewOKResponse()
}

func errorResponse(err error) *ipc.Response {
	resp := ipc.NewErrorResponse(err.Error())
	if errors.Is(err, gateway.ErrNotFound) {
		resp.Code = ipc.CodeNotFound
	}
	return resp
}

// sendResponse sends a response to the client. It reports false if the
// connection is no longer writable.
func (s *Server) sendResponse(conn net.Conn, resp *ipc.Response) bool {
	data, err := resp.Encode()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode IPC response")
		return false
	}
	data = append(data, '\n')

	conn.SetWriteDeadline(time.Now().Add(requestReadTimeout))
	if _, err := conn.Write(data); err != nil {
		if s.ctx.Err() == nil {
			s.logger.Debug().Err(err).Msg("Failed to send IPC response")
		}
		return false
	}
	return true
}
