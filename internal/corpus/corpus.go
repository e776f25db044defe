package corpus

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"regexp"
	"strconv"
)

// ManifestHashKey is the meta key under which the last applied manifest hash is stored
const ManifestHashKey = "manifestHash"

var idPattern = regexp.MustCompile(`^[a-z0-9._-]+$`)

// TemplateDoc is a single pre-authored prompt template
type TemplateDoc struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Tags      []string `json:"tags"`
	Body      string   `json:"body"`
	Family    string   `json:"family,omitempty"`
	Enabled   bool     `json:"enabled"`
	Required  []string `json:"required,omitempty"`
	CreatedAt int64    `json:"createdAt"`
	UpdatedAt int64    `json:"updatedAt"`
}

// UnmarshalJSON treats a missing "enabled" field as enabled.
func (d *TemplateDoc) UnmarshalJSON(data []byte) error {
	type plain TemplateDoc
	doc := plain{Enabled: true}
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	*d = TemplateDoc(doc)
	return nil
}

// PackRef points at one shard file of a category
type PackRef struct {
	File  string `json:"file"`
	Count int    `json:"count"`
	Hash  string `json:"hash"`
}

// Category groups the packs of one template category
type Category struct {
	Category string    `json:"category"`
	Total    int       `json:"total"`
	Packs    []PackRef `json:"packs"`
}

// Manifest describes the sharded corpus and its content hash
type Manifest struct {
	GeneratedAt int64      `json:"generatedAt"`
	Hash        string     `json:"hash"`
	PackSize    int        `json:"packSize"`
	Categories  []Category `json:"categories"`
}

// TotalTemplates sums the per-category totals
func (m *Manifest) TotalTemplates() int {
	total := 0
	for _, c := range m.Categories {
		total += c.Total
	}
	return total
}

// PackFiles returns every referenced pack file once, in first-seen order
func (m *Manifest) PackFiles() []string {
	seen := make(map[string]bool)
	var files []string
	for _, c := range m.Categories {
		for _, p := range c.Packs {
			if seen[p.File] {
				continue
			}
			seen[p.File] = true
			files = append(files, p.File)
		}
	}
	return files
}

// SynonymsDict maps a token to its synonym tokens
type SynonymsDict map[string][]string

// MetaRow is a persisted key/value pair
type MetaRow struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ValidID reports whether id is slug-safe
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// Validate checks the fields the runtime indices rely on
func (d *TemplateDoc) Validate() error {
	if !ValidID(d.ID) {
		return fmt.Errorf("invalid template id %q", d.ID)
	}
	return nil
}

// Fingerprint derives a short FNV-1a digest over (id, updatedAt) pairs.
// It stands in for the manifest hash when none is available.
func Fingerprint(rows []TemplateDoc) string {
	h := fnv.New32a()
	for _, r := range rows {
		h.Write([]byte(r.ID))
		h.Write([]byte{0})
		h.Write([]byte(strconv.FormatInt(r.UpdatedAt, 10)))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%08x", h.Sum32())
}
