package s3

import (
	"bytes"
	"io"
	"io/ioutil"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/grimoire/elk/test"
)

type fakeS3 struct {
	s3iface.S3API
	pages   [][]string
	objects map[string]string
}

func (f *fakeS3) ListObjectsPages(in *s3.ListObjectsInput, fn func(*s3.ListObjectsOutput, bool) bool) error {
	for i, keys := range f.pages {
		out := &s3.ListObjectsOutput{}
		for _, k := range keys {
			out.Contents = append(out.Contents, &s3.Object{Key: aws.String(k)})
		}
		if !fn(out, i == len(f.pages)-1) {
			break
		}
	}
	return nil
}

func (f *fakeS3) GetObject(in *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[*in.Key]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "no such key", nil)
	}
	return &s3.GetObjectOutput{Body: ioutil.NopCloser(bytes.NewBufferString(body))}, nil
}

func TestSource(t *testing.T) {
	client := &fakeS3{
		pages: [][]string{{"gerrit/0001.json"}, {"gerrit/0002.json"}},
		objects: map[string]string{
			"gerrit/0001.json": `{"origin": "review.example.org", "uuid": "a"}
{"origin": "review.example.org", "uuid": "b"}`,
			"gerrit/0002.json": `[{"origin": "review.example.org", "uuid": "c"}]`,
		},
	}
	src, err := NewSource(OptSrcClient(client), OptSrcBucket("dumps"), OptSrcPrefix("gerrit/"))
	test.ErrNil(t, err, "NewSource")

	var uuids []interface{}
	for {
		rec, err := src.Record()
		if err == io.EOF {
			break
		}
		test.ErrNil(t, err, "Record")
		uuids = append(uuids, rec["uuid"])
	}
	test.MustBe(t, []interface{}{"a", "b", "c"}, uuids)
}

func TestRawSourceMissingObject(t *testing.T) {
	client := &fakeS3{pages: [][]string{{"gone.json"}}}
	rs, err := NewRawSource(OptSrcClient(client), OptSrcBucket("dumps"))
	test.ErrNil(t, err, "NewRawSource")
	if _, err := rs.NextReader(); err == nil {
		t.Fatalf("expected error for missing object")
	}
	if _, err := rs.NextReader(); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}

	if _, err := NewRawSource(OptSrcClient(client)); err == nil {
		t.Fatalf("expected error without bucket")
	}
}
