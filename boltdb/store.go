// Package boltdb provides an elk.IdentityService backed by a local boltdb
// file. It plays the part of an identity management database for
// deployments which don't run one: identities are registered from raw items,
// merged into unique identities, and enrolled in organizations.
package boltdb

import (
	"context"
	"encoding/json"
	"io"
	"sort"
	"time"

	"github.com/boltdb/bolt"
	"github.com/grimoire/elk"
	"github.com/pkg/errors"
)

var (
	// source -> identity id -> identity as JSON
	identityBucket = []byte("identities")
	// identity id -> unique identity id
	uidBucket = []byte("uidentities")
	// unique identity id -> enrollments as JSON
	enrollmentBucket = []byte("enrollments")
)

// Store is an elk.IdentityService which keeps identities and enrollments in
// boltdb.
type Store struct {
	Db *bolt.DB
}

// NewStore opens (creating if needed) the store in filename.
func NewStore(filename string) (*Store, error) {
	db, err := bolt.Open(filename, 0600, &bolt.Options{Timeout: 1 * time.Second, NoGrowSync: true})
	if err != nil {
		return nil, errors.Wrapf(err, "opening db file '%v'", filename)
	}
	db.MaxBatchDelay = 400 * time.Microsecond
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{identityBucket, uidBucket, enrollmentBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return errors.Wrapf(err, "creating %s bucket", b)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ensuring bucket existence")
	}
	return &Store{Db: db}, nil
}

// Close syncs and closes the underlying boltdb.
func (s *Store) Close() error {
	err := s.Db.Sync()
	if err != nil {
		return errors.Wrap(err, "syncing db")
	}
	return s.Db.Close()
}

// Add registers identities seen in source. Each new identity becomes its own
// unique identity. It returns how many identities were new.
func (s *Store) Add(source string, ids ...elk.Identity) (added int, err error) {
	err = s.Db.Batch(func(tx *bolt.Tx) error {
		added = 0
		sb, err := tx.Bucket(identityBucket).CreateBucketIfNotExists([]byte(source))
		if err != nil {
			return errors.Wrapf(err, "creating bucket for %s", source)
		}
		ub := tx.Bucket(uidBucket)
		for _, id := range ids {
			uuid, err := elk.UniqueIdentity(id, source)
			if err != nil {
				return errors.Wrap(err, "deriving identity id")
			}
			if sb.Get([]byte(uuid)) != nil {
				continue
			}
			val, err := json.Marshal(id)
			if err != nil {
				return errors.Wrap(err, "marshaling identity")
			}
			if err := sb.Put([]byte(uuid), val); err != nil {
				return errors.Wrap(err, "inserting into identities bucket")
			}
			if err := ub.Put([]byte(uuid), []byte(uuid)); err != nil {
				return errors.Wrap(err, "inserting into uidentities bucket")
			}
			added++
		}
		return nil
	})
	return added, err
}

// Count returns the number of identities registered for source.
func (s *Store) Count(source string) (n int, err error) {
	err = s.Db.View(func(tx *bolt.Tx) error {
		if sb := tx.Bucket(identityBucket).Bucket([]byte(source)); sb != nil {
			n = sb.Stats().KeyN
		}
		return nil
	})
	return n, err
}

// UniqueID implements elk.IdentityService. An identity which was never
// registered maps to its own identity id.
func (s *Store) UniqueID(ctx context.Context, id elk.Identity, source string) (string, error) {
	uuid, err := elk.UniqueIdentity(id, source)
	if err != nil {
		return "", err
	}
	err = s.Db.View(func(tx *bolt.Tx) error {
		if uid := tx.Bucket(uidBucket).Get([]byte(uuid)); uid != nil {
			uuid = string(uid)
		}
		return nil
	})
	return uuid, err
}

// Merge makes every identity of the unique identity from part of into.
// Enrollments of from are added to those of into.
func (s *Store) Merge(from, into string) error {
	if from == into {
		return nil
	}
	return s.Db.Update(func(tx *bolt.Tx) error {
		ub := tx.Bucket(uidBucket)
		moved := make([][]byte, 0)
		err := ub.ForEach(func(k, v []byte) error {
			if string(v) == from {
				moved = append(moved, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		if len(moved) == 0 {
			return errors.Errorf("unknown unique identity %s", from)
		}
		for _, k := range moved {
			if err := ub.Put(k, []byte(into)); err != nil {
				return errors.Wrap(err, "remapping identity")
			}
		}
		eb := tx.Bucket(enrollmentBucket)
		fromEnr, err := getEnrollments(eb, from)
		if err != nil {
			return err
		}
		if len(fromEnr) == 0 {
			return nil
		}
		intoEnr, err := getEnrollments(eb, into)
		if err != nil {
			return err
		}
		if err := putEnrollments(eb, into, append(intoEnr, fromEnr...)); err != nil {
			return err
		}
		return eb.Delete([]byte(from))
	})
}

// ImportMerges reads a JSON object mapping unique identity ids to the unique
// identity each one is merged into, and merges them. Merges already done are
// skipped. It returns how many merges were made.
func (s *Store) ImportMerges(r io.Reader) (int, error) {
	var in map[string]string
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return 0, errors.Wrap(err, "decoding merges")
	}
	froms := make([]string, 0, len(in))
	for from := range in {
		froms = append(froms, from)
	}
	sort.Strings(froms)
	n := 0
	for _, from := range froms {
		var done bool
		err := s.Db.View(func(tx *bolt.Tx) error {
			done = string(tx.Bucket(uidBucket).Get([]byte(from))) == in[from]
			return nil
		})
		if err != nil {
			return n, err
		}
		if done {
			continue
		}
		if err := s.Merge(from, in[from]); err != nil {
			return n, errors.Wrapf(err, "merging %s into %s", from, in[from])
		}
		n++
	}
	return n, nil
}

// Enroll adds enrollments of the unique identity uuid.
func (s *Store) Enroll(uuid string, enrollments ...elk.Enrollment) error {
	return s.Db.Update(func(tx *bolt.Tx) error {
		eb := tx.Bucket(enrollmentBucket)
		existing, err := getEnrollments(eb, uuid)
		if err != nil {
			return err
		}
		return putEnrollments(eb, uuid, append(existing, enrollments...))
	})
}

// ImportEnrollments reads a JSON object mapping unique identity ids to lists
// of enrollments and adds them to the store. It returns how many enrollments
// were added.
func (s *Store) ImportEnrollments(r io.Reader) (int, error) {
	var in map[string][]elk.Enrollment
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return 0, errors.Wrap(err, "decoding enrollments")
	}
	uuids := make([]string, 0, len(in))
	for uuid := range in {
		uuids = append(uuids, uuid)
	}
	sort.Strings(uuids)
	n := 0
	for _, uuid := range uuids {
		if err := s.Enroll(uuid, in[uuid]...); err != nil {
			return n, errors.Wrapf(err, "enrolling %s", uuid)
		}
		n += len(in[uuid])
	}
	return n, nil
}

// Enrollments implements elk.IdentityService. Enrollments are ordered by
// start date.
func (s *Store) Enrollments(ctx context.Context, uuid string) (enrollments []elk.Enrollment, err error) {
	err = s.Db.View(func(tx *bolt.Tx) error {
		enrollments, err = getEnrollments(tx.Bucket(enrollmentBucket), uuid)
		return err
	})
	return enrollments, err
}

func getEnrollments(eb *bolt.Bucket, uuid string) ([]elk.Enrollment, error) {
	val := eb.Get([]byte(uuid))
	if val == nil {
		return nil, nil
	}
	var enrollments []elk.Enrollment
	if err := json.Unmarshal(val, &enrollments); err != nil {
		return nil, errors.Wrapf(err, "decoding enrollments of %s", uuid)
	}
	return enrollments, nil
}

func putEnrollments(eb *bolt.Bucket, uuid string, enrollments []elk.Enrollment) error {
	sort.SliceStable(enrollments, func(i, j int) bool {
		return enrollments[i].Start.Before(enrollments[j].Start)
	})
	val, err := json.Marshal(enrollments)
	if err != nil {
		return errors.Wrap(err, "marshaling enrollments")
	}
	return errors.Wrap(eb.Put([]byte(uuid), val), "inserting into enrollments bucket")
}
