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

package s3

import (
	"io"
	"sync/atomic"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/grimoire/elk"
	"github.com/grimoire/elk/json"
	"github.com/pkg/errors"
)

// SrcOption is a functional option type for s3.Source.
type SrcOption func(s *RawSource)

// OptSrcBucket is a SrcOption which sets the S3 bucket for a Source.
func OptSrcBucket(bucket string) SrcOption {
	return func(s *RawSource) {
		s.bucket = bucket
	}
}

// OptSrcRegion is a SrcOption which sets the AWS region for a Source.
func OptSrcRegion(region string) SrcOption {
	return func(s *RawSource) {
		s.region = region
	}
}

// OptSrcPrefix tells the source to list only the objects in the bucket that
// match the specified prefix.
func OptSrcPrefix(prefix string) SrcOption {
	return func(s *RawSource) {
		s.prefix = prefix
	}
}

// OptSrcClient sets the S3 client instead of one built from a new AWS session
// for the configured region.
func OptSrcClient(client s3iface.S3API) SrcOption {
	return func(s *RawSource) {
		s.s3 = client
	}
}

// NewSource gets an elk.Source of the raw items dumped in the objects of an S3
// bucket. Each object holds JSON raw items, as a stream or an array. Objects
// are read in key order.
func NewSource(opts ...SrcOption) (elk.Source, error) {
	rs, err := NewRawSource(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "getting raw s3 source")
	}
	return json.NewSourceFromRawSource(rs), nil
}

// RawSource is an elk.RawSource whose readers are the objects in an S3
// bucket.
type RawSource struct {
	bucket string
	prefix string
	region string

	s3      s3iface.S3API
	objects []*s3.Object
	objIdx  *uint64
}

// NewRawSource lists the objects of the bucket and gets a RawSource over them.
func NewRawSource(opts ...SrcOption) (*RawSource, error) {
	idx := uint64(0)
	rs := &RawSource{
		region: "us-east-1",
		objIdx: &idx,
	}
	for _, opt := range opts {
		opt(rs)
	}
	if rs.bucket == "" {
		return nil, errors.New("no S3 bucket given")
	}
	if rs.s3 == nil {
		sess, err := session.NewSession(&aws.Config{
			Region: aws.String(rs.region)},
		)
		if err != nil {
			return nil, errors.Wrap(err, "getting new session")
		}
		rs.s3 = s3.New(sess)
	}
	err := rs.s3.ListObjectsPages(&s3.ListObjectsInput{Bucket: aws.String(rs.bucket), Prefix: aws.String(rs.prefix)},
		func(page *s3.ListObjectsOutput, lastPage bool) bool {
			rs.objects = append(rs.objects, page.Contents...)
			return true
		})
	if err != nil {
		return nil, errors.Wrapf(err, "listing objects in %s", rs.bucket)
	}
	return rs, nil
}

type objReader struct {
	name string
	io.ReadCloser
}

func (o *objReader) Name() string {
	return o.name
}

// NextReader implements elk.RawSource.
func (rs *RawSource) NextReader() (elk.NamedReadCloser, error) {
	idx := atomic.AddUint64(rs.objIdx, 1) - 1
	if int(idx) >= len(rs.objects) {
		return nil, io.EOF
	}
	obj := rs.objects[idx]

	result, err := rs.s3.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(rs.bucket),
		Key:    aws.String(*obj.Key),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "fetching %v", *obj.Key)
	}
	return &objReader{name: *obj.Key, ReadCloser: result.Body}, nil
}
