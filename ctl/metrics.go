// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ctl

import (
	"context"
	"expvar"
	"net"
	"net/http"
	"time"

	"github.com/featurebasedb/fbimport/logger"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metricsServer exposes prometheus and expvar metrics while a command runs.
type metricsServer struct {
	srv *http.Server
	ln  net.Listener
}

func newMetricsServer(addr string, log logger.Logger) (*metricsServer, error) {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.Handle("/debug/vars", expvar.Handler()).Methods("GET")

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listening on %s", addr)
	}
	s := &metricsServer{
		srv: &http.Server{
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		ln: ln,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Errorf("metrics server: %v", err)
		}
	}()
	return s, nil
}

// Addr is the address the server is listening on.
func (s *metricsServer) Addr() string {
	return s.ln.Addr().String()
}

func (s *metricsServer) Close(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
