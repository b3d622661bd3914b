package statecache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/cbergoon/merkletree"
)

// entryContent implements merkletree.Content for one snapshot entry
type entryContent struct {
	value string
}

func (e entryContent) CalculateHash() ([]byte, error) {
	h := sha256.Sum256([]byte(e.value))
	return h[:], nil
}

func (e entryContent) Equals(other merkletree.Content) (bool, error) {
	o, ok := other.(entryContent)
	if !ok {
		return false, nil
	}
	return e.value == o.value, nil
}

// Fingerprint returns a merkle root over the snapshot's database objects,
// executed migrations and routes. It ignores the timestamp, so two snapshots
// of an unchanged system share a fingerprint.
func Fingerprint(s *Snapshot) (string, error) {
	var entries []string
	add := func(kind string, values []string) {
		for _, v := range values {
			entries = append(entries, kind+":"+v)
		}
	}
	add("table", s.Database.Tables)
	add("index", s.Database.Indexes)
	add("function", s.Database.Functions)
	add("policy", s.Database.Policies)
	add("migration", s.Database.MigrationsExecuted)
	for _, r := range s.API.Routes {
		entries = append(entries, "route:"+r.Path+":"+strings.Join(r.Methods, ","))
	}

	if len(entries) == 0 {
		h := sha256.Sum256(nil)
		return hex.EncodeToString(h[:]), nil
	}
	sort.Strings(entries)

	contents := make([]merkletree.Content, 0, len(entries))
	for _, e := range entries {
		contents = append(contents, entryContent{value: e})
	}
	tree, err := merkletree.NewTree(contents)
	if err != nil {
		return "", fmt.Errorf("failed to build merkle tree: %w", err)
	}
	return hex.EncodeToString(tree.MerkleRoot()), nil
}
