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

package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/grimoire/elk"
	"github.com/grimoire/elk/boltdb"
	"github.com/grimoire/elk/elastic"
	"github.com/grimoire/elk/leveldb"
	"github.com/grimoire/elk/prom"
	"github.com/grimoire/elk/redis"
	"github.com/pkg/errors"
)

// Main holds the config for enriching raw items and loading them into
// Elasticsearch.
type Main struct {
	Flavor string `help:"Kind of raw items to enrich: bugzilla or gerrit."`
	Input  Input

	ElasticURLs       []string `help:"Comma separated list of Elasticsearch URLs."`
	Index             string   `help:"Elasticsearch index to write to. Defaults to <flavor>_enriched."`
	DocType           string   `help:"Document type to write. Defaults to the flavor's type."`
	MaxBatchItems     int      `help:"Number of documents in each bulk request (latency/throughput tradeoff)."`
	Charset           string   `help:"Encoding of bulk request bodies: utf-8, ascii or iso-8859-1."`
	Pipelined         bool     `help:"Enrich the next batch while the previous one is being written."`
	IgnoreItemErrors  bool     `help:"Log documents rejected by Elasticsearch instead of failing."`
	EnrichConcurrency int      `help:"Number of items enriched at once."`

	Identities bool          `help:"Add author, reporter and assignee identity fields."`
	IdentityDB string        `help:"BoltDB file holding unique identities and enrollments."`
	CacheDir   string        `help:"Directory of a LevelDB identity cache."`
	RedisAddr  string        `help:"Redis host and port of a shared identity cache. Used instead of cache-dir."`
	CacheTTL   time.Duration `help:"How long identity lookups are cached."`

	Projects    string `help:"JSON or YAML file mapping projects to repositories."`
	MetricsBind string `help:"Serve Prometheus metrics on this address."`
	Verbose     bool   `help:"Log debug messages."`

	state *runState
}

type runState struct {
	mu       sync.Mutex
	pipeline *Pipeline
	aborted  bool
}

// NewMain gets a new Main with default values.
func NewMain() *Main {
	return &Main{
		Flavor:            "gerrit",
		Input:             NewInput(),
		ElasticURLs:       []string{"http://localhost:9200"},
		MaxBatchItems:     1000,
		Charset:           string(elk.UTF8),
		EnrichConcurrency: 1,
		CacheTTL:          24 * time.Hour,
		state:             &runState{},
	}
}

// Pipeline is a fully wired ingest. Get one from Main.Setup.
type Pipeline struct {
	Ingester *elk.Ingester
	Writer   *elastic.Writer
	Log      elk.Logger

	closeSource func() error
	closers     []func() error
}

// Run runs the ingest. When ctx is done the source is released so that a
// blocked read returns, and whatever was read is flushed.
func (p *Pipeline) Run(ctx context.Context) (elk.Progress, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			if err := p.closeSource(); err != nil {
				p.Log.Warnf("closing source: %v", err)
			}
		case <-done:
		}
	}()
	return p.Ingester.Run(ctx)
}

// Abort stops Run without writing the partial batch.
func (p *Pipeline) Abort() {
	p.Ingester.Abort()
	if err := p.closeSource(); err != nil {
		p.Log.Warnf("closing source: %v", err)
	}
}

// Close releases everything the Pipeline holds.
func (p *Pipeline) Close() error {
	var first error
	if err := p.closeSource(); err != nil {
		first = err
	}
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (p *Pipeline) onClose(f func() error) {
	p.closers = append(p.closers, f)
}

// Run sets up the pipeline and ingests until the input is exhausted or ctx
// is done.
func (m *Main) Run(ctx context.Context) error {
	log, err := elk.NewZapLogger(m.Verbose)
	if err != nil {
		return errors.Wrap(err, "getting logger")
	}
	defer func() { _ = log.Sync() }()
	p, err := m.Setup(ctx, log)
	if err != nil {
		return err
	}
	defer p.Close()
	m.state.mu.Lock()
	m.state.pipeline = p
	aborted := m.state.aborted
	m.state.mu.Unlock()
	if aborted {
		return errors.Wrap(elk.ErrAborted, "before start")
	}
	start := time.Now()
	prog, err := p.Run(ctx)
	log.Printf("done in %v: read %d, written %d, skipped %d", time.Since(start), prog.Read, prog.Written, prog.Skipped)
	if err == context.Canceled {
		return nil
	}
	return errors.Wrap(err, "running ingester")
}

// Abort stops a Run without writing the partial batch.
func (m *Main) Abort() {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	m.state.aborted = true
	if m.state.pipeline != nil {
		m.state.pipeline.Abort()
	}
}

// Setup validates the config and wires the pipeline. The Elasticsearch index
// is created if it doesn't exist.
func (m *Main) Setup(ctx context.Context, log elk.Logger) (_ *Pipeline, err error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{Log: log, closeSource: func() error { return nil }}
	defer func() {
		if err != nil {
			p.Close()
		}
	}()

	var stats elk.Statter = elk.NopStatter{}
	if m.MetricsBind != "" {
		ps := prom.NewStatter()
		sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		p.onClose(func() error { cancel(); return nil })
		go func() {
			if err := ps.Serve(sctx, m.MetricsBind); err != nil {
				log.Warnf("%v", err)
			}
		}()
		stats = ps
	}

	opts := elk.EnrichOptions{}
	if m.Projects != "" {
		pm, err := elk.ReadProjectMapFile(m.Projects)
		if err != nil {
			return nil, errors.Wrap(err, "reading projects")
		}
		if len(pm) > 0 {
			opts.Projects = elk.NewProjectMapper(pm, log)
		} else {
			log.Warnf("project map %s is empty, projects left out", m.Projects)
		}
	}
	if m.Identities {
		svc, err := m.identityService(p, log, stats)
		if err != nil {
			return nil, err
		}
		opts.Identities = elk.NewIdentityResolver(svc, m.Flavor,
			elk.OptResolverLogger(log),
			elk.OptResolverStatter(stats),
		)
	}
	enricher, err := elk.NewEnricher(m.Flavor, opts)
	if err != nil {
		return nil, err
	}

	index, docType := m.Index, m.DocType
	if index == "" {
		index = m.Flavor + "_enriched"
	}
	if docType == "" {
		docType = enricher.DocType()
	}
	wopts := []elastic.Option{elastic.OptLogger(log)}
	if m.IgnoreItemErrors {
		wopts = append(wopts, elastic.OptIgnoreItemErrors())
	}
	p.Writer, err = elastic.NewWriter(m.ElasticURLs, index, docType, wopts...)
	if err != nil {
		return nil, errors.Wrap(err, "getting elasticsearch writer")
	}
	if err := p.Writer.EnsureIndex(ctx); err != nil {
		return nil, err
	}

	uopts := []elk.UploaderOption{
		elk.OptUploaderCharset(elk.Charset(m.Charset)),
		elk.OptUploaderLogger(log),
		elk.OptUploaderStatter(stats),
	}
	if m.Pipelined {
		uopts = append(uopts, elk.OptUploaderPipelined())
	}
	uploader, err := elk.NewUploader(p.Writer, m.MaxBatchItems, uopts...)
	if err != nil {
		return nil, errors.Wrap(err, "getting uploader")
	}
	p.onClose(uploader.Close)

	src, closeSource, err := m.Input.Open(log)
	if err != nil {
		return nil, err
	}
	p.closeSource = closeSource

	p.Ingester = elk.NewIngester(src, enricher, uploader,
		elk.OptIngesterLogger(log),
		elk.OptIngesterStatter(stats),
	)
	p.Ingester.EnrichConcurrency = m.EnrichConcurrency
	log.Printf("enriching %s items into %s", m.Flavor, index)
	return p, nil
}

func (m *Main) validate() error {
	if _, err := elk.NewEnricher(m.Flavor, elk.EnrichOptions{}); err != nil {
		return err
	}
	if err := elk.Charset(m.Charset).Valid(); err != nil {
		return err
	}
	if m.MaxBatchItems < 1 {
		return errors.Errorf("max-batch-items must be positive, got %d", m.MaxBatchItems)
	}
	if len(m.ElasticURLs) == 0 {
		return errors.New("no elasticsearch URLs given")
	}
	if m.Identities && m.IdentityDB == "" {
		return errors.New("identities need an identity database")
	}
	return nil
}

// identityService gets the identity store behind a cache. Redis is preferred
// to LevelDB, which is preferred to memory.
func (m *Main) identityService(p *Pipeline, log elk.Logger, stats elk.Statter) (elk.IdentityService, error) {
	store, err := boltdb.NewStore(m.IdentityDB)
	if err != nil {
		return nil, errors.Wrap(err, "opening identity database")
	}
	p.onClose(store.Close)

	var kv elk.KeyValue
	switch {
	case m.RedisAddr != "":
		rkv, err := redis.NewKeyValue(redis.Config{Addr: m.RedisAddr, Prefix: "elk:"})
		if err != nil {
			return nil, err
		}
		p.onClose(rkv.Close)
		kv = rkv
	case m.CacheDir != "":
		lkv, err := leveldb.NewKeyValue(m.CacheDir)
		if err != nil {
			return nil, err
		}
		p.onClose(lkv.Close)
		kv = lkv
	default:
		kv = elk.NewMemoryKeyValue()
	}
	return elk.NewCachedIdentityService(store, kv,
		elk.OptCacheTTL(m.CacheTTL),
		elk.OptCacheLogger(log),
		elk.OptCacheStatter(stats),
	), nil
}
