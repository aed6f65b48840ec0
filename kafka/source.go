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

package kafka

import (
	"bytes"
	"encoding/json"
	"io"
	"io/ioutil"
	"log"
	"strconv"

	"github.com/Shopify/sarama"
	cluster "github.com/bsm/sarama-cluster"
	"github.com/grimoire/elk"
	"github.com/pkg/errors"
)

// Source implements the elk.Source interface using kafka as a data source.
// Every message value is one raw item encoded as a JSON object.
type Source struct {
	Hosts   []string
	Topics  []string
	Group   string
	MaxMsgs int
	numMsgs int

	// OffsetAt, if set, is the key under which each raw item records the
	// topic, partition and offset it was read from.
	OffsetAt string

	Log elk.Logger

	consumer *cluster.Consumer
	messages <-chan *sarama.ConsumerMessage
	mark     func(msg *sarama.ConsumerMessage)
}

// NewSource gets a new Source
func NewSource() *Source {
	return &Source{
		Hosts:  []string{"localhost:9092"},
		Topics: []string{"perceval"},
		Group:  "elk",
		Log:    elk.NopLogger{},
	}
}

// Record returns the raw item in the next kafka message. The message is
// marked as consumed once it has been decoded. A message which isn't a raw
// item is logged, marked and skipped so that it can't stall the group.
// Record returns io.EOF after Close.
func (s *Source) Record() (elk.RawRecord, error) {
	for {
		if s.MaxMsgs > 0 {
			s.numMsgs++
			if s.numMsgs > s.MaxMsgs {
				return nil, io.EOF
			}
		}
		msg, ok := <-s.messages
		if !ok {
			// the consumer was closed
			return nil, io.EOF
		}
		rec, err := s.decode(msg)
		s.mark(msg)
		if err != nil {
			s.Log.Warnf("skipping message: %v", err)
			continue
		}
		return rec, nil
	}
}

func (s *Source) decode(msg *sarama.ConsumerMessage) (elk.RawRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(msg.Value))
	dec.UseNumber()
	var rec elk.RawRecord
	if err := dec.Decode(&rec); err != nil {
		return nil, errors.Wrapf(err, "unmarshaling message %s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
	}
	if rec == nil {
		return nil, errors.Errorf("message %s/%d/%d holds no raw item", msg.Topic, msg.Partition, msg.Offset)
	}
	if s.OffsetAt != "" {
		rec[s.OffsetAt] = msg.Topic + "/" + strconv.Itoa(int(msg.Partition)) + "/" + strconv.FormatInt(msg.Offset, 10)
	}
	return rec, nil
}

// Open initializes the kafka source.
func (s *Source) Open() error {
	// init (custom) config, enable errors and notifications
	sarama.Logger = log.New(ioutil.Discard, "", 0)
	config := cluster.NewConfig()
	config.Config.Version = sarama.V0_10_0_0
	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Group.Return.Notifications = true

	var err error
	s.consumer, err = cluster.NewConsumer(s.Hosts, s.Group, s.Topics, config)
	if err != nil {
		return errors.Wrap(err, "getting new consumer")
	}
	s.messages = s.consumer.Messages()
	s.mark = func(msg *sarama.ConsumerMessage) {
		s.consumer.MarkOffset(msg, "")
	}
	if s.Log == nil {
		s.Log = elk.NopLogger{}
	}

	// consume errors
	go func() {
		for err := range s.consumer.Errors() {
			s.Log.Warnf("kafka consumer: %v", err)
		}
	}()

	// consume notifications
	go func() {
		for ntf := range s.consumer.Notifications() {
			s.Log.Printf("rebalanced: %+v", ntf)
		}
	}()
	return nil
}

// Close closes the underlying kafka consumer.
func (s *Source) Close() error {
	if s.consumer == nil {
		return nil
	}
	err := s.consumer.Close()
	return errors.Wrap(err, "closing kafka consumer")
}
