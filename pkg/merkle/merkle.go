// Package merkle builds binary hash trees over ordered leaf digests and
// produces inclusion proofs that allow a verifier to recompute the root
// from a single leaf without access to the remaining leaves.
//
// Leaf order is preserved exactly as supplied to Build; the tree is not
// commutative and callers must replay the same ordering when verifying.
// When a level holds an odd number of nodes the trailing node is paired
// with itself. Both conventions are load-bearing: proofs produced here
// only verify against roots built with the same rules.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
)

// Digest is a fixed-size sha256 output used for leaves, internal nodes
// and roots.
type Digest [32]byte

// IsZero reports whether the digest is the all-zero value.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// String renders the digest as lowercase hex.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// DigestFromBytes copies b into a Digest. Inputs shorter or longer than
// 32 bytes are rejected by the bool return.
func DigestFromBytes(b []byte) (Digest, bool) {
	var d Digest
	if len(b) != len(d) {
		return Digest{}, false
	}
	copy(d[:], b)
	return d, true
}

// EmptyInputError reports that Build was called with no leaves.
type EmptyInputError struct{}

func (EmptyInputError) Error() string {
	return "merkle: cannot build tree over empty leaf set"
}

// combine hashes the left and right child digests in order.
func combine(left, right Digest) Digest {
	h := sha256.New()
	h.Write(left[:])
	h.Write(right[:])
	var out Digest
	copy(out[:], h.Sum(nil))
	return out
}

// Proof is the minimal sibling path recomputing a root from one leaf.
// Siblings are ordered leaf-to-root; SiblingOnLeft records, per level,
// whether the sibling digest sits to the left of the running hash.
type Proof struct {
	Siblings      []Digest `json:"siblings"`
	SiblingOnLeft []bool   `json:"sibling_on_left"`
}

// Tree is an ephemeral commitment structure over an ordered leaf
// sequence. Only the root is intended to be persisted.
type Tree struct {
	levels [][]Digest
}

// Build constructs the tree over the supplied leaves in the order given.
func Build(leaves []Digest) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, EmptyInputError{}
	}
	base := make([]Digest, len(leaves))
	copy(base, leaves)
	levels := [][]Digest{base}
	for current := base; len(current) > 1; {
		next := make([]Digest, 0, (len(current)+1)/2)
		for i := 0; i < len(current); i += 2 {
			left := current[i]
			right := left
			if i+1 < len(current) {
				right = current[i+1]
			}
			next = append(next, combine(left, right))
		}
		levels = append(levels, next)
		current = next
	}
	return &Tree{levels: levels}, nil
}

// Root returns the tree's commitment digest.
func (t *Tree) Root() Digest {
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// LeafCount returns the number of leaves the tree was built over.
func (t *Tree) LeafCount() int {
	return len(t.levels[0])
}

// Proof returns the inclusion proof for the leaf at index.
func (t *Tree) Proof(index int) (Proof, bool) {
	leaves := t.levels[0]
	if index < 0 || index >= len(leaves) {
		return Proof{}, false
	}
	depth := len(t.levels) - 1
	proof := Proof{
		Siblings:      make([]Digest, 0, depth),
		SiblingOnLeft: make([]bool, 0, depth),
	}
	idx := index
	for _, level := range t.levels[:depth] {
		if idx%2 == 0 {
			sibling := level[idx]
			if idx+1 < len(level) {
				sibling = level[idx+1]
			}
			proof.Siblings = append(proof.Siblings, sibling)
			proof.SiblingOnLeft = append(proof.SiblingOnLeft, false)
		} else {
			proof.Siblings = append(proof.Siblings, level[idx-1])
			proof.SiblingOnLeft = append(proof.SiblingOnLeft, true)
		}
		idx /= 2
	}
	return proof, true
}

// ProofIndex returns an inclusion proof per distinct leaf digest. When a
// digest appears more than once the proof of its first occurrence wins.
func (t *Tree) ProofIndex() map[Digest]Proof {
	leaves := t.levels[0]
	out := make(map[Digest]Proof, len(leaves))
	for i, leaf := range leaves {
		if _, seen := out[leaf]; seen {
			continue
		}
		proof, _ := t.Proof(i)
		out[leaf] = proof
	}
	return out
}

// Verify folds the proof's sibling digests over the leaf and reports
// whether the recomputed root equals expected. It is a pure function:
// malformed proofs yield false, never an error, and the work performed
// depends only on the proof length.
func Verify(leaf Digest, proof Proof, expected Digest) bool {
	if len(proof.Siblings) != len(proof.SiblingOnLeft) {
		return false
	}
	current := leaf
	for i, sibling := range proof.Siblings {
		if proof.SiblingOnLeft[i] {
			current = combine(sibling, current)
		} else {
			current = combine(current, sibling)
		}
	}
	return current == expected
}
