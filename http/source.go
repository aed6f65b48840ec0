// Copyright 2017 Pilosa Corp.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions
// are met:
//
// 1. Redistributions of source code must retain the above copyright
// notice, this list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright
// notice, this list of conditions and the following disclaimer in the
// documentation and/or other materials provided with the distribution.
//
// 3. Neither the name of the copyright holder nor the names of its
// contributors may be used to endorse or promote products derived
// from this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND
// CONTRIBUTORS "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES,
// INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES OF
// MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR
// CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
// SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING,
// BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
// INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY,
// WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING
// NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH
// DAMAGE.

package http

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/grimoire/elk"
	elkjson "github.com/grimoire/elk/json"
	"github.com/pkg/errors"
)

// JSONSource implements the elk.Source interface by listening for HTTP post
// requests and decoding raw items from their bodies. A body may hold a
// stream of JSON objects or an array of them.
type JSONSource struct {
	addr     string
	listener net.Listener
	server   *http.Server
	records  chan record
	log      elk.Logger

	closeOnce sync.Once
}

// WithAddr is an option for the JSONSource which causes it to bind to the given
// address.
func WithAddr(addr string) JSONSourceOption {
	return func(j *JSONSource) {
		j.addr = addr
	}
}

// WithListener is an option for JSONSource which causes it to use the given
// listener. It will infer the address from the listener.
func WithListener(l net.Listener) JSONSourceOption {
	return func(j *JSONSource) {
		j.listener = l
		j.addr = l.Addr().String()
	}
}

// WithBuffer is an option for JSONSource which modifies the length of the
// channel used to buffer received records (while they are waiting to be
// retrieved by a call to Record).
func WithBuffer(n int) JSONSourceOption {
	return func(j *JSONSource) {
		if n > -1 {
			j.records = make(chan record, n)
		}
	}
}

// WithLogger sets the logger rejected requests are reported to.
func WithLogger(l elk.Logger) JSONSourceOption {
	return func(j *JSONSource) {
		j.log = l
	}
}

// JSONSourceOption is a functional option type for JSONSource.
type JSONSourceOption func(j *JSONSource)

// NewJSONSource creates a JSONSource - it takes JSONSourceOptions which modify
// its behavior.
func NewJSONSource(opts ...JSONSourceOption) (*JSONSource, error) {
	j := &JSONSource{
		records: make(chan record, 3),
		log:     elk.NopLogger{},
	}
	for _, opt := range opts {
		opt(j)
	}

	if j.listener == nil {
		var err error
		j.listener, err = net.Listen("tcp", j.addr)
		if err != nil {
			return nil, errors.Wrap(err, "listening")
		}
	}
	if tl, ok := j.listener.(*net.TCPListener); ok {
		j.listener = tcpKeepAliveListener{tl}
	}

	j.server = &http.Server{
		Addr:    j.addr,
		Handler: j,
	}
	go func() {
		err := j.server.Serve(j.listener)
		if err != nil && err != http.ErrServerClosed {
			j.records <- record{err: errors.Wrap(err, "serving")}
			j.closeRecords()
		}
	}()
	return j, nil
}

// Addr gets the address that the JSONSource is listening on.
func (j *JSONSource) Addr() string {
	if j.listener != nil {
		return j.listener.Addr().String()
	}
	return j.addr
}

type record struct {
	data elk.RawRecord
	err  error
}

// Record returns the next raw item posted. It returns io.EOF once the source
// is closed and every item received has been returned.
func (j *JSONSource) Record() (elk.RawRecord, error) {
	rec, ok := <-j.records
	if !ok {
		return nil, io.EOF
	}
	return rec.data, rec.err
}

// Close stops accepting requests, waits for requests in progress, and ends
// the stream of records.
func (j *JSONSource) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := j.server.Shutdown(ctx)
	j.closeRecords()
	return errors.Wrap(err, "shutting down server")
}

func (j *JSONSource) closeRecords() {
	j.closeOnce.Do(func() { close(j.records) })
}

// ServeHTTP implements http.Handler for JSONSource. Items decoded before a
// malformed one are kept.
func (j *JSONSource) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		err := errors.Errorf("unsupported method: %v", r.Method)
		j.log.Warnf("%v", err)
		http.Error(w, err.Error(), http.StatusMethodNotAllowed)
		return
	}
	src := elkjson.NewSource(r.Body)
	for {
		rec, err := src.Record()
		if err == io.EOF {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		if err != nil {
			err := errors.Wrap(err, "decoding json")
			j.log.Warnf("%v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		j.records <- record{data: rec}
	}
}

// tcpKeepAliveListener is copied from net/http

type tcpKeepAliveListener struct {
	*net.TCPListener
}

func (ln tcpKeepAliveListener) Accept() (c net.Conn, err error) {
	tc, err := ln.AcceptTCP()
	if err != nil {
		return
	}
	tc.SetKeepAlive(true)
	tc.SetKeepAlivePeriod(3 * time.Minute)
	return tc, nil
}
