package embedding

import "github.com/web-shredder/chunk-daddy-sub002/internal/domain"

// Role is the semantic purpose of a text inside a combined embedding call.
type Role string

const (
	RoleDocument       Role = "document"
	RoleChunk          Role = "chunk"
	RoleChunkNoCascade Role = "chunk_no_cascade"
	RoleOriginal       Role = "original"
	RoleOptimized      Role = "optimized"
	RoleQuery          Role = "query"
)

// Key identifies one text of a Request.
type Key struct {
	Role Role
	ID   string
}

// Request collects role-tagged texts for a single embedding call. Adding the same key
// twice replaces the earlier text.
type Request struct {
	keys  []Key
	texts []string
	index map[Key]int
}

func NewRequest() *Request {
	return &Request{index: make(map[Key]int)}
}

// Add tags text with role and id.
func (r *Request) Add(role Role, id, text string) *Request {
	k := Key{Role: role, ID: id}
	if i, ok := r.index[k]; ok {
		r.texts[i] = text
		return r
	}
	r.index[k] = len(r.keys)
	r.keys = append(r.keys, k)
	r.texts = append(r.texts, text)
	return r
}

// Len is the number of texts to embed.
func (r *Request) Len() int { return len(r.keys) }

// Result maps each key of a Request to its vector.
type Result struct {
	vectors map[Key]domain.Vector
}

// Get returns the vector for (role, id). ok is false when the key was never requested,
// its text was blank, or the provider returned an empty or all-zero vector for it.
func (r *Result) Get(role Role, id string) (domain.Vector, bool) {
	if r == nil {
		return nil, false
	}
	v, ok := r.vectors[Key{Role: role, ID: id}]
	return v, ok && usable(v)
}

// usable reports whether v has a direction. A zero vector cannot be compared by cosine.
func usable(v domain.Vector) bool {
	for _, x := range v {
		if x != 0 {
			return true
		}
	}
	return false
}

// Role returns every usable vector with the given role, keyed by id.
func (r *Result) Role(role Role) map[string]domain.Vector {
	out := make(map[string]domain.Vector)
	if r == nil {
		return out
	}
	for k, v := range r.vectors {
		if k.Role == role && usable(v) {
			out[k.ID] = v
		}
	}
	return out
}

// Collect returns the usable vectors for ids under role, in ids order, skipping
// missing ones, along with the ids that were missing.
func (r *Result) Collect(role Role, ids []string) ([]domain.Vector, []string) {
	var vecs []domain.Vector
	var missing []string
	for _, id := range ids {
		if v, ok := r.Get(role, id); ok {
			vecs = append(vecs, v)
		} else {
			missing = append(missing, id)
		}
	}
	return vecs, missing
}

// NewResult builds a Result from a prepared map. Tests and in-memory callers use it.
func NewResult(vectors map[Key]domain.Vector) *Result {
	return &Result{vectors: vectors}
}
