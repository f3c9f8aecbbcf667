// Package metadata persists per-family HELP text shared by all processes of
// a deployment, keyed by family name in a single bbolt bucket.
package metadata

import (
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/gernest/mmprom/expose"
	"github.com/gernest/mmprom/internal/magic"
)

var helpBucket = []byte("help")

type DB struct {
	db *bbolt.DB
}

// Open opens or creates the metadata database at path.
func Open(path string) (*DB, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(helpBucket)
		if err != nil {
			return fmt.Errorf("creating help bucket %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &DB{db: db}, nil
}

// Set stores the HELP text for family.
func (d *DB) Set(family, help string) error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(helpBucket).Put(magic.Slice(family), magic.Slice(help))
	})
}

// Help returns the HELP text for family, false when the family is unknown.
// A failed read reports its error rather than posing as an unknown family.
func (d *DB) Help(family string) (help string, found bool, err error) {
	err = d.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(helpBucket).Get(magic.Slice(family)); v != nil {
			help = string(v)
			found = true
		}
		return nil
	})
	return
}

// HelpFunc adapts the database to the exposition help resolver, falling back
// to the default text for unknown families and failed reads.
func (d *DB) HelpFunc() expose.HelpFunc {
	return func(family string) string {
		if help, ok, err := d.Help(family); err == nil && ok {
			return help
		}
		return expose.DefaultHelp
	}
}

func (d *DB) Close() error {
	return d.db.Close()
}
