/*
Package replay reconstructs ledger state from a corpus of legacy source
records.

PURPOSE:
  Historical replay is the bulk counterpart of the live mutation path:
  same invariants, same event algebra, but deterministic over an entire
  corpus at once. The pipeline is

    source records -> Classifier -> ordered units -> Engine -> Writer

  The Classifier is the single place that trusts external record shape;
  everything past it operates on the closed event set in the ledger
  package.

KEY CONCEPTS IN THIS FILE (source.go):
  - Record: A loosely-typed source document (issue, consumption, return)
  - Corpus: A YAML file holding lot mappings plus records
  - Field accessors that parse-and-validate instead of coercing

SEE ALSO:
  - classify.go: Record -> replay unit
  - engine.go:   Ordered, atomic application
  - writer.go:   Idempotent persistence
*/
package replay

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// SOURCE RECORDS - Loosely typed until classification
// =============================================================================

// Record is one raw source document. Shapes vary by kind; the
// classifier is the only consumer.
type Record map[string]any

// LotRecord maps a store lot to the item it contains. Issue records
// reference lots, not items, so replay needs this resolution.
type LotRecord struct {
	LotID  string `yaml:"lot_id"`
	ItemID string `yaml:"item_id"`
}

// Corpus is the on-disk replay input.
type Corpus struct {
	Lots    []LotRecord `yaml:"lots"`
	Records []Record    `yaml:"records"`
}

// LoadCorpus reads and parses a corpus file.
func LoadCorpus(path string) (*Corpus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus: %w", err)
	}
	var c Corpus
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse corpus: %w", err)
	}
	return &c, nil
}

// LotResolver resolves a lot id to its item id.
type LotResolver interface {
	ItemForLot(lotID string) (string, bool)
}

type lotMap map[string]string

func (m lotMap) ItemForLot(lotID string) (string, bool) {
	itemID, ok := m[lotID]
	return itemID, ok
}

// LotResolver builds a resolver over the corpus lot section.
func (c *Corpus) LotResolver() LotResolver {
	m := make(lotMap, len(c.Lots))
	for _, lot := range c.Lots {
		m[lot.LotID] = lot.ItemID
	}
	return m
}

// =============================================================================
// FIELD ACCESSORS - Explicit parse-and-validate, no silent coercion
// =============================================================================

// stringField returns the named field as a string. Numeric values are
// not silently stringified; an id that arrives as a number is malformed.
func stringField(rec Record, name string) (string, bool) {
	v, ok := rec[name]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// numberField returns the named field as a float64. Accepts YAML ints
// and floats plus decimal strings; anything else is malformed.
func numberField(rec Record, name string) (float64, bool) {
	v, ok := rec[name]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		var f float64
		if _, err := fmt.Sscanf(n, "%g", &f); err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// timeField returns the named field as a UTC timestamp. Accepts YAML
// timestamps and RFC 3339 or date-only strings.
func timeField(rec Record, name string) (time.Time, bool) {
	v, ok := rec[name]
	if !ok || v == nil {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), true
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC(), true
			}
		}
	}
	return time.Time{}, false
}
