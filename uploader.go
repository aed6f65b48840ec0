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

package elk

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// BulkWriter writes one newline delimited bulk body to the document store.
// The write either succeeds as a whole or returns an error.
type BulkWriter interface {
	WriteBulk(ctx context.Context, body []byte) error
}

// Uploader accumulates documents and writes them to a BulkWriter, one bulk
// request per MaxItems documents, in submission order. Submit and Flush must
// be called from a single goroutine.
//
// Flush must be called once after the last Submit, otherwise the documents of
// the final partial batch are lost.
type Uploader struct {
	writer   BulkWriter
	maxItems int
	charset  Charset
	log      Logger
	stats    Statter

	buf     bytes.Buffer
	pending int
	closed  bool

	mu      sync.Mutex
	written int
	batches int
	err     error

	pipelined bool
	handoff   chan *batch
	wg        sync.WaitGroup
}

// batch is a bulk body handed to the background writer. A batch with a done
// channel and no body is a barrier.
type batch struct {
	ctx   context.Context
	body  []byte
	items int
	done  chan struct{}
}

// UploaderOption is a functional option for Uploader.
type UploaderOption func(u *Uploader)

// OptUploaderCharset sets the charset bulk bodies are encoded in. The default
// is UTF8.
func OptUploaderCharset(c Charset) UploaderOption {
	return func(u *Uploader) {
		u.charset = c
	}
}

// OptUploaderLogger sets the Uploader's logger.
func OptUploaderLogger(l Logger) UploaderOption {
	return func(u *Uploader) {
		u.log = l
	}
}

// OptUploaderStatter sets the Uploader's Statter.
func OptUploaderStatter(s Statter) UploaderOption {
	return func(u *Uploader) {
		u.stats = s
	}
}

// OptUploaderPipelined makes the Uploader write full batches from a
// background goroutine while the next batch accumulates. At most one batch
// is in flight, batches are written in order, and once a write fails no later
// batch is attempted. Close must be called to stop the goroutine.
func OptUploaderPipelined() UploaderOption {
	return func(u *Uploader) {
		u.pipelined = true
	}
}

// NewUploader gets an Uploader which writes to w in batches of maxItems.
func NewUploader(w BulkWriter, maxItems int, opts ...UploaderOption) (*Uploader, error) {
	if maxItems < 1 {
		return nil, errors.Errorf("max items per bulk must be positive, got %d", maxItems)
	}
	u := &Uploader{
		writer:   w,
		maxItems: maxItems,
		charset:  UTF8,
		log:      NopLogger{},
		stats:    NopStatter{},
	}
	for _, opt := range opts {
		opt(u)
	}
	if err := u.charset.Valid(); err != nil {
		return nil, errors.Wrap(err, "validating charset")
	}
	if u.pipelined {
		u.handoff = make(chan *batch)
		u.wg.Add(1)
		go u.run()
	}
	return u, nil
}

// indexAction is the action line preceding each document in a bulk body.
type indexAction struct {
	Index struct {
		ID string `json:"_id"`
	} `json:"index"`
}

// Submit adds a serialized document to the current batch, and writes the
// batch once it holds MaxItems documents. doc must be a single line.
func (u *Uploader) Submit(ctx context.Context, id string, doc []byte) error {
	if u.closed {
		return ErrUploaderClosed
	}
	if err := u.Err(); err != nil {
		return err
	}
	var action indexAction
	action.Index.ID = id
	line, err := json.Marshal(action)
	if err != nil {
		return errors.Wrap(err, "marshaling index action")
	}
	u.buf.Write(line)
	u.buf.WriteByte('\n')
	u.buf.Write(doc)
	u.buf.WriteByte('\n')
	u.pending++
	if u.pending >= u.maxItems {
		return u.send(ctx)
	}
	return nil
}

// SubmitRecord serializes rec and submits it under its document id.
func (u *Uploader) SubmitRecord(ctx context.Context, rec EnrichedRecord) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrapf(err, "marshaling document %s", rec.ID)
	}
	return u.Submit(ctx, rec.ID, doc)
}

// Flush writes the current partial batch, if any, and waits for all writes to
// finish.
func (u *Uploader) Flush(ctx context.Context) error {
	if u.closed {
		return ErrUploaderClosed
	}
	if u.pending > 0 {
		if err := u.send(ctx); err != nil {
			return err
		}
	}
	u.Wait()
	return u.Err()
}

// Wait blocks until every batch handed to the background writer of a
// pipelined Uploader has been written or has failed. It doesn't write the
// partial batch.
func (u *Uploader) Wait() {
	if !u.pipelined || u.closed {
		return
	}
	done := make(chan struct{})
	u.handoff <- &batch{done: done}
	<-done
}

// Discard drops the current partial batch without writing it and returns how
// many documents were in it.
func (u *Uploader) Discard() int {
	n := u.pending
	u.buf.Reset()
	u.pending = 0
	return n
}

// Close stops the background writer of a pipelined Uploader after in-flight
// writes finish. It does not flush.
func (u *Uploader) Close() error {
	if u.closed {
		return nil
	}
	u.closed = true
	if u.pipelined {
		close(u.handoff)
		u.wg.Wait()
	}
	return nil
}

// MaxItems is the number of documents per bulk request.
func (u *Uploader) MaxItems() int { return u.maxItems }

// Pending is the number of documents in the current, unwritten batch.
func (u *Uploader) Pending() int { return u.pending }

// Written is the number of documents successfully written so far.
func (u *Uploader) Written() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.written
}

// Batches is the number of bulk requests successfully written so far.
func (u *Uploader) Batches() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.batches
}

// Err returns the error of the first failed write, which is a *BatchError.
// After a failure the Uploader accepts no more documents.
func (u *Uploader) Err() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.err
}

// send hands the current batch to the writer and resets the accumulator.
func (u *Uploader) send(ctx context.Context) error {
	body := make([]byte, u.buf.Len())
	copy(body, u.buf.Bytes())
	items := u.pending
	u.buf.Reset()
	u.pending = 0
	if u.pipelined {
		u.handoff <- &batch{ctx: ctx, body: body, items: items}
		return u.Err()
	}
	return u.write(ctx, body, items)
}

func (u *Uploader) run() {
	defer u.wg.Done()
	for b := range u.handoff {
		switch {
		case b.body == nil || u.Err() != nil:
		case b.ctx.Err() != nil:
			// canceled while queued
			_ = u.fail(errors.Wrap(b.ctx.Err(), "writing bulk"))
		default:
			_ = u.write(b.ctx, b.body, b.items)
		}
		if b.done != nil {
			close(b.done)
		}
	}
}

// write encodes and writes one batch. A body which can't be encoded is
// retried once with offending characters stripped; transport failures are
// not retried.
func (u *Uploader) write(ctx context.Context, body []byte, items int) error {
	payload, err := u.charset.Encode(body)
	if errors.Cause(err) == ErrEncoding {
		u.log.Warnf("%v, sending sanitized bulk body", err)
		u.stats.Count("bulk.sanitized", 1, 1)
		payload, err = u.charset.Sanitize(body)
	}
	if err != nil {
		return u.fail(errors.Wrap(err, "encoding bulk body"))
	}

	start := time.Now()
	err = u.writer.WriteBulk(ctx, payload)
	took := time.Since(start)
	u.stats.Timing("bulk.write", took, 1)
	if err != nil {
		u.stats.Count("bulk.failed", 1, 1)
		return u.fail(errors.Wrap(err, "writing bulk"))
	}

	u.mu.Lock()
	u.written += items
	u.batches++
	total := u.written
	u.mu.Unlock()
	u.stats.Count("bulk.documents", int64(items), 1)
	u.log.Debugf("bulk packet sent (%.2f sec, %d items, %s, %d total)", took.Seconds(), items, Bytes(len(payload)), total)
	return nil
}

func (u *Uploader) fail(err error) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err == nil {
		u.err = &BatchError{Written: u.written, Err: err}
	}
	return u.err
}
