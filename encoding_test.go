package elk_test

import (
	"testing"

	"github.com/grimoire/elk"
	"github.com/grimoire/elk/test"
)

func TestCharsetEncode(t *testing.T) {
	tests := []struct {
		charset elk.Charset
		in      string
		exp     string
		bad     bool
	}{
		{charset: elk.UTF8, in: `{"name":"José"}`, exp: `{"name":"José"}`},
		{charset: elk.UTF8, in: "{\"name\":\"Jos\xe9\"}", bad: true},
		{charset: elk.ASCII, in: `{"name":"Jose"}`, exp: `{"name":"Jose"}`},
		{charset: elk.ASCII, in: `{"name":"José"}`, bad: true},
		{charset: elk.Latin1, in: `{"name":"José"}`, exp: "{\"name\":\"Jos\xe9\"}"},
		{charset: elk.Latin1, in: `{"name":"Łukasz"}`, bad: true},
	}
	for _, tst := range tests {
		out, err := tst.charset.Encode([]byte(tst.in))
		if tst.bad {
			test.CauseIs(t, err, elk.ErrEncoding, string(tst.charset))
			continue
		}
		test.ErrNil(t, err, "Encode")
		test.MustBe(t, tst.exp, string(out), string(tst.charset))
	}
}

func TestCharsetSanitize(t *testing.T) {
	out, err := elk.ASCII.Sanitize([]byte(`{"name":"José Núñez"}`))
	test.ErrNil(t, err, "Sanitize ascii")
	test.MustBe(t, `{"name":"Jos Nez"}`, string(out))

	out, err = elk.UTF8.Sanitize([]byte("{\"name\":\"Jos\xe9\"}"))
	test.ErrNil(t, err, "Sanitize utf-8")
	test.MustBe(t, `{"name":"Jos"}`, string(out))
}

func TestCharsetValid(t *testing.T) {
	test.ErrNil(t, elk.Latin1.Valid(), "latin1")
	if err := elk.Charset("ebcdic").Valid(); err == nil {
		t.Fatalf("expected error for unsupported charset")
	}
}
