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
	"io"
	"os"

	"github.com/grimoire/elk"
	"github.com/grimoire/elk/boltdb"
	"github.com/pkg/errors"
)

// IdentitiesMain holds the config for registering the identities found in raw
// items in an identity database.
type IdentitiesMain struct {
	Flavor      string `help:"Kind of raw items to read: bugzilla or gerrit."`
	Input       Input
	IdentityDB  string `help:"BoltDB file holding unique identities and enrollments."`
	Merges      string `help:"JSON file mapping unique identity ids to the unique identity each is merged into."`
	Enrollments string `help:"JSON file mapping unique identity ids to lists of enrollments."`
	Verbose     bool   `help:"Log debug messages."`
}

// Loaded counts what IdentitiesMain.Load changed.
type Loaded struct {
	Identities  int // new identities
	Merges      int
	Enrollments int
}

// NewIdentitiesMain gets a new IdentitiesMain with default values.
func NewIdentitiesMain() *IdentitiesMain {
	return &IdentitiesMain{
		Flavor:     "gerrit",
		Input:      NewInput(),
		IdentityDB: "identities.db",
	}
}

// Run loads identities, merges and enrollments.
func (m *IdentitiesMain) Run(ctx context.Context) error {
	log, err := elk.NewZapLogger(m.Verbose)
	if err != nil {
		return errors.Wrap(err, "getting logger")
	}
	defer func() { _ = log.Sync() }()
	l, err := m.Load(ctx, log)
	log.Printf("%d new identities, %d merges, %d enrollments", l.Identities, l.Merges, l.Enrollments)
	return err
}

// Load reads every raw item from the input and registers the identities of
// each under the flavor's name. Then the merges file and the enrollments
// file are imported, in that order, if given. Reading stops early without
// error when ctx is done.
func (m *IdentitiesMain) Load(ctx context.Context, log elk.Logger) (l Loaded, err error) {
	enricher, err := elk.NewEnricher(m.Flavor, elk.EnrichOptions{})
	if err != nil {
		return l, err
	}
	if m.IdentityDB == "" {
		return l, errors.New("no identity database given")
	}
	store, err := boltdb.NewStore(m.IdentityDB)
	if err != nil {
		return l, errors.Wrap(err, "opening identity database")
	}
	defer store.Close()

	src, release, err := m.Input.Open(log)
	if err != nil {
		return l, err
	}
	defer release()

	for items := 0; ctx.Err() == nil; items++ {
		raw, err := src.Record()
		if err == io.EOF {
			break
		}
		if err != nil {
			return l, errors.Wrapf(err, "reading item %d", items)
		}
		n, err := store.Add(m.Flavor, enricher.Identities(raw)...)
		if err != nil {
			return l, errors.Wrapf(err, "adding identities of item %d", items)
		}
		l.Identities += n
		log.Debugf("item %d from %s: %d new identities", items, raw.Origin(), n)
	}

	if m.Merges != "" {
		l.Merges, err = importFile(m.Merges, store.ImportMerges)
		if err != nil {
			return l, errors.Wrap(err, "importing merges")
		}
	}
	if m.Enrollments != "" {
		l.Enrollments, err = importFile(m.Enrollments, store.ImportEnrollments)
		if err != nil {
			return l, errors.Wrap(err, "importing enrollments")
		}
	}
	return l, nil
}

func importFile(path string, imp func(r io.Reader) (int, error)) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return imp(f)
}
