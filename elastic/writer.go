// Package elastic writes bulk bodies to Elasticsearch.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/grimoire/elk"
	"github.com/pkg/errors"
)

// Writer is an elk.BulkWriter which sends each body to the _bulk endpoint of
// one index and document type.
type Writer struct {
	client  *elasticsearch.Client
	index   string
	docType string

	ignoreItemErrors bool
	refresh          bool
	log              elk.Logger
}

// Option is a functional option for Writer.
type Option func(w *Writer)

// OptIgnoreItemErrors makes a bulk request count as written even when the
// engine rejected some of its documents. The rejections are logged.
func OptIgnoreItemErrors() Option {
	return func(w *Writer) {
		w.ignoreItemErrors = true
	}
}

// OptRefresh asks the engine to make the documents of each bulk request
// searchable before answering.
func OptRefresh() Option {
	return func(w *Writer) {
		w.refresh = true
	}
}

// OptLogger sets the Writer's logger.
func OptLogger(l elk.Logger) Option {
	return func(w *Writer) {
		w.log = l
	}
}

// OptClient sets the client instead of building one from addresses.
func OptClient(c *elasticsearch.Client) Option {
	return func(w *Writer) {
		w.client = c
	}
}

// NewWriter gets a Writer for index and docType on the cluster at addresses.
// Credentials may be given in the URLs.
func NewWriter(addresses []string, index, docType string, opts ...Option) (*Writer, error) {
	if index == "" {
		return nil, errors.New("no index given")
	}
	w := &Writer{
		index:   index,
		docType: docType,
		log:     elk.NopLogger{},
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.client == nil {
		c, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: addresses})
		if err != nil {
			return nil, errors.Wrap(err, "getting elasticsearch client")
		}
		w.client = c
	}
	return w, nil
}

// Index is the name of the index documents are written to.
func (w *Writer) Index() string { return w.index }

// EnsureIndex creates the index if it doesn't exist.
func (w *Writer) EnsureIndex(ctx context.Context) error {
	res, err := esapi.IndicesExistsRequest{Index: []string{w.index}}.Do(ctx, w.client)
	if err != nil {
		return errors.Wrapf(err, "checking index %s", w.index)
	}
	drain(res.Body)
	switch res.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
	default:
		return errors.Errorf("checking index %s: %s", w.index, res.Status())
	}

	res, err = esapi.IndicesCreateRequest{Index: w.index}.Do(ctx, w.client)
	if err != nil {
		return errors.Wrapf(err, "creating index %s", w.index)
	}
	defer drain(res.Body)
	if res.IsError() {
		return errors.Errorf("creating index %s: %s", w.index, errorReason(res))
	}
	w.log.Printf("created index %s", w.index)
	return nil
}

// bulkResponse is the part of a _bulk response needed to find rejections.
type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string          `json:"_id"`
		Status int             `json:"status"`
		Error  json.RawMessage `json:"error"`
	} `json:"items"`
}

// WriteBulk implements elk.BulkWriter.
func (w *Writer) WriteBulk(ctx context.Context, body []byte) error {
	req := esapi.BulkRequest{
		Index:        w.index,
		DocumentType: w.docType,
		Body:         bytes.NewReader(body),
	}
	if w.refresh {
		req.Refresh = "true"
	}
	res, err := req.Do(ctx, w.client)
	if err != nil {
		return errors.Wrap(err, "sending bulk request")
	}
	defer drain(res.Body)
	if res.IsError() {
		return errors.Errorf("bulk request to %s: %s", w.index, errorReason(res))
	}

	var br bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&br); err != nil {
		return errors.Wrap(err, "decoding bulk response")
	}
	if !br.Errors {
		return nil
	}
	rejected := make([]string, 0)
	for _, item := range br.Items {
		for _, result := range item {
			if result.Status >= 300 {
				rejected = append(rejected, fmt.Sprintf("%s (%d): %s", result.ID, result.Status, result.Error))
			}
		}
	}
	if w.ignoreItemErrors {
		w.log.Warnf("%d documents rejected by %s: %s", len(rejected), w.index, strings.Join(rejected, "; "))
		return nil
	}
	return errors.Errorf("%d documents rejected by %s, first: %s", len(rejected), w.index, first(rejected))
}

func first(s []string) string {
	if len(s) == 0 {
		return "unknown"
	}
	return s[0]
}

// errorReason reads the body of an error response.
func errorReason(res *esapi.Response) string {
	b, err := ioutil.ReadAll(io.LimitReader(res.Body, 4096))
	if err != nil || len(b) == 0 {
		return res.Status()
	}
	return res.Status() + ": " + string(b)
}

func drain(r io.ReadCloser) {
	_, _ = io.Copy(ioutil.Discard, r)
	r.Close()
}
