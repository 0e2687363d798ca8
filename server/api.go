// Copyright 2024 The Rankserver Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// ErrorResponse is the reply to a request that could not be served.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ApiServer accepts newline terminated JSON requests over TCP and dispatches them to
// the ladder handler. A second listener serves the request counter for monitoring.
type ApiServer struct {
	logger  *zap.Logger
	handler *LadderHandler

	listener     net.Listener
	statusServer *http.Server

	requestCount *atomic.Uint64
	ctx          context.Context
	ctxCancelFn  context.CancelFunc
}

func StartApiServer(logger *zap.Logger, config Config, handler *LadderHandler) (*ApiServer, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", config.GetPort()))
	if err != nil {
		return nil, fmt.Errorf("listen on port %d: %w", config.GetPort(), err)
	}

	ctx, ctxCancelFn := context.WithCancel(context.Background())
	s := &ApiServer{
		logger:       logger,
		handler:      handler,
		listener:     listener,
		requestCount: atomic.NewUint64(0),
		ctx:          ctx,
		ctxCancelFn:  ctxCancelFn,
	}

	logger.Info("Listening for ladder requests", zap.Int("port", config.GetPort()))
	go s.acceptLoop()

	if config.GetStatusPort() > 0 {
		mux := http.NewServeMux()
		mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"request_count":%d}`, s.requestCount.Load())
		})
		s.statusServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", config.GetStatusPort()),
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		go func() {
			if err := s.statusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Status server listener failed", zap.Error(err))
			}
		}()
		logger.Info("Serving status", zap.Int("port", config.GetStatusPort()))
	}

	return s, nil
}

func (s *ApiServer) Stop() {
	s.ctxCancelFn()
	if err := s.listener.Close(); err != nil {
		s.logger.Error("Error closing listener", zap.Error(err))
	}
	if s.statusServer != nil {
		if err := s.statusServer.Close(); err != nil {
			s.logger.Error("Error closing status server", zap.Error(err))
		}
	}
}

func (s *ApiServer) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Error("Failed to accept connection", zap.Error(err))
			continue
		}
		go s.serveConn(conn)
	}
}

// serveConn reads newline terminated JSON requests until the peer goes away. An
// internal error closes the connection, the process and other connections continue.
func (s *ApiServer) serveConn(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	writer := bufio.NewWriter(conn)
	encoder := json.NewEncoder(writer)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		s.requestCount.Inc()

		response, fatal := s.dispatch(line)
		if err := encoder.Encode(response); err != nil {
			s.logger.Error("Failed to send response", zap.Error(err))
			return
		}
		if err := writer.Flush(); err != nil {
			s.logger.Error("Failed to flush response", zap.Error(err))
			return
		}
		if fatal {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		s.logger.Debug("Connection read ended", zap.Error(err))
	}
}

// dispatch parses and runs one request, returning the response value and whether the
// connection should be dropped afterwards.
func (s *ApiServer) dispatch(line []byte) (interface{}, bool) {
	request := NewLadderRequest()
	if err := json.Unmarshal(line, &request); err != nil {
		s.logger.Warn("Failed to parse request", zap.Error(err))
		return &ErrorResponse{Code: 400, Message: fmt.Sprintf("failed to parse json: %s", err)}, false
	}

	var response interface{}
	var err error
	switch request.Cmd {
	case "ladder":
		response, err = s.handler.Ladder(s.ctx, &request)
	case "clan":
		response, err = s.handler.Clan(s.ctx, &request)
	case "refresh":
		if err = s.handler.Refresh(s.ctx); err == nil {
			response = map[string]string{"code": "ok"}
		}
	default:
		s.logger.Warn("Unknown command", zap.String("cmd", request.Cmd))
		return &ErrorResponse{Code: 400, Message: fmt.Sprintf("unknown command, '%s'", request.Cmd)}, false
	}

	if err != nil {
		if errors.Is(err, ErrBug) {
			// Broken invariants are never silently swallowed, log with stack and drop
			// the connection.
			s.logger.Error("Invariant violated while serving request", zap.String("cmd", request.Cmd), zap.Error(err), zap.Stack("stack"))
			return &ErrorResponse{Code: 500, Message: "internal error"}, true
		}
		s.logger.Error("Failed to serve request", zap.String("cmd", request.Cmd), zap.Error(err))
		return &ErrorResponse{Code: 500, Message: err.Error()}, false
	}
	return response, false
}
