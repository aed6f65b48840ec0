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
	"os"
	"sync"

	"github.com/grimoire/elk"
	"github.com/grimoire/elk/aws/s3"
	"github.com/grimoire/elk/file"
	"github.com/grimoire/elk/http"
	"github.com/grimoire/elk/json"
	"github.com/grimoire/elk/kafka"
	"github.com/pkg/errors"
)

// Input kinds.
const (
	InputFile  = "file"
	InputS3    = "s3"
	InputKafka = "kafka"
	InputHTTP  = "http"
	InputStdin = "stdin"
)

// Input holds the config for where raw items are read from.
type Input struct {
	Kind string `help:"Where raw items are read from: file, s3, kafka, http or stdin."`

	Path   string `help:"File or directory path to read raw items from."`
	Origin string `help:"Origin given to raw items which don't name one."`

	Bucket string `help:"S3 bucket name from which to read objects."`
	Prefix string `help:"Only objects in the bucket matching this prefix will be used."`
	Region string `help:"AWS region to use."`

	KafkaHosts   []string `help:"Comma separated list of Kafka hosts and ports."`
	KafkaTopics  []string `help:"Kafka topics to consume raw items from."`
	KafkaGroup   string   `help:"Group id to use when consuming from Kafka."`
	KafkaMaxMsgs int      `help:"Stop after this many Kafka messages. 0 reads until interrupted."`

	Bind string `help:"Listen for raw items posted to this address."`
}

// NewInput gets an Input with default values.
func NewInput() Input {
	return Input{
		Kind:        InputFile,
		Region:      "us-east-1",
		KafkaHosts:  []string{"localhost:9092"},
		KafkaTopics: []string{"perceval"},
		KafkaGroup:  "elk",
		Bind:        ":12121",
	}
}

// Open gets the configured Source along with a function which releases it.
// Releasing a kafka or http source makes it return io.EOF, so it is how a
// run over an endless source is stopped.
func (in Input) Open(log elk.Logger) (elk.Source, func() error, error) {
	switch in.Kind {
	case InputFile:
		if in.Path == "" {
			return nil, nil, errors.New("file input needs a path")
		}
		src, err := file.NewSource(file.OptSrcPath(in.Path), file.OptSrcDefaultOrigin(in.Origin))
		if err != nil {
			return nil, nil, errors.Wrap(err, "getting file source")
		}
		return src, once(src.Close), nil
	case InputS3:
		src, err := s3.NewSource(
			s3.OptSrcBucket(in.Bucket),
			s3.OptSrcPrefix(in.Prefix),
			s3.OptSrcRegion(in.Region),
		)
		if err != nil {
			return nil, nil, errors.Wrap(err, "getting s3 source")
		}
		return src, func() error { return nil }, nil
	case InputKafka:
		src := kafka.NewSource()
		src.Hosts = in.KafkaHosts
		src.Topics = in.KafkaTopics
		src.Group = in.KafkaGroup
		src.MaxMsgs = in.KafkaMaxMsgs
		src.Log = log
		if err := src.Open(); err != nil {
			return nil, nil, errors.Wrap(err, "opening kafka source")
		}
		return src, once(src.Close), nil
	case InputHTTP:
		src, err := http.NewJSONSource(http.WithAddr(in.Bind), http.WithLogger(log))
		if err != nil {
			return nil, nil, errors.Wrap(err, "getting http source")
		}
		log.Printf("listening for raw items on %s", src.Addr())
		return src, once(src.Close), nil
	case InputStdin:
		return json.NewSource(os.Stdin), func() error { return nil }, nil
	}
	return nil, nil, errors.Errorf("unknown input kind '%s'", in.Kind)
}

func once(f func() error) func() error {
	var o sync.Once
	var err error
	return func() error {
		o.Do(func() { err = f() })
		return err
	}
}
