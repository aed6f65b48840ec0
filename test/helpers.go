package test

import (
	"reflect"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

// MustBe uses reflect.DeepEqual to assert that thing1 and thing2 are equal, and
// fails otherwise.
func MustBe(t *testing.T, thing1, thing2 interface{}, context ...string) {
	t.Helper()
	var ctx string
	if len(context) == 0 {
		ctx = ""
	} else {
		ctx = context[0] + ": "
	}
	if !reflect.DeepEqual(thing1, thing2) {
		t.Fatalf("%v'%#v' != '%#v'", ctx, thing1, thing2)
	}
}

// ErrNil asserts that the err is nil and fails otherwise.
func ErrNil(t *testing.T, err error, ctx string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%v: %v", ctx, err)
	}
}

// CauseIs asserts that errors.Cause(err) is target.
func CauseIs(t *testing.T, err, target error, ctx string) {
	t.Helper()
	if errors.Cause(err) != target {
		t.Fatalf("%v: expected cause '%v', got '%v'", ctx, target, err)
	}
}

// Lines splits a newline delimited body into its lines, dropping the empty
// string after the trailing newline.
func Lines(body []byte) []string {
	s := strings.TrimSuffix(string(body), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
