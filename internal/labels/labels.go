// Package labels decodes ImageNet class indices into human readable names.
//
// The class index file uses the Keras imagenet_class_index.json format:
//
//	{"0": ["n01440764", "tench"], "1": ["n01443537", "goldfish"], ...}
package labels

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/buger/jsonparser"
)

// Class is one entry of the class index.
type Class struct {
	Index int
	WNID  string // WordNet id, e.g. "n02123045"
	Name  string
}

// Prediction is a class with its score.
type Prediction struct {
	Class
	Score float32
}

// Labels maps class indices to names. A nil *Labels is valid and names
// every class "class_<index>".
type Labels struct {
	classes []Class
}

// Load reads a class index file.
//
//nolint:gosec // G304: labels path comes from the user's configuration
func Load(path string) (*Labels, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}
	l, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse labels %s: %w", path, err)
	}
	return l, nil
}

// Parse decodes a class index document.
func Parse(data []byte) (*Labels, error) {
	var classes []Class
	err := jsonparser.ObjectEach(data, func(key, value []byte, dataType jsonparser.ValueType, _ int) error {
		idx, err := strconv.Atoi(string(key))
		if err != nil || idx < 0 {
			return fmt.Errorf("invalid class index %q", key)
		}
		if dataType != jsonparser.Array {
			return fmt.Errorf("class %d: expected [wnid, name], got %s", idx, dataType)
		}
		wnid, err := jsonparser.GetString(value, "[0]")
		if err != nil {
			return fmt.Errorf("class %d wnid: %w", idx, err)
		}
		name, err := jsonparser.GetString(value, "[1]")
		if err != nil {
			return fmt.Errorf("class %d name: %w", idx, err)
		}
		classes = append(classes, Class{Index: idx, WNID: wnid, Name: name})
		return nil
	})
	if err != nil {
		return nil, err
	}

	size := 0
	for _, c := range classes {
		size = max(size, c.Index+1)
	}
	l := &Labels{classes: make([]Class, size)}
	for i := range l.classes {
		l.classes[i] = Class{Index: i}
	}
	for _, c := range classes {
		l.classes[c.Index] = c
	}
	return l, nil
}

// Len returns the number of class slots.
func (l *Labels) Len() int {
	if l == nil {
		return 0
	}
	return len(l.classes)
}

// Class returns the entry for index i. Unknown indices get a generated name.
func (l *Labels) Class(i int) Class {
	if l != nil && i >= 0 && i < len(l.classes) && l.classes[i].Name != "" {
		return l.classes[i]
	}
	return Class{Index: i, Name: "class_" + strconv.Itoa(i)}
}

// Decode returns the topK highest scoring classes, best first, like Keras
// decode_predictions. Equal scores keep index order.
func (l *Labels) Decode(scores []float32, topK int) []Prediction {
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})
	if topK > 0 && topK < len(order) {
		order = order[:topK]
	}

	preds := make([]Prediction, len(order))
	for i, idx := range order {
		preds[i] = Prediction{Class: l.Class(idx), Score: scores[idx]}
	}
	return preds
}

// String formats a prediction as "name (12.34%)".
func (p Prediction) String() string {
	return fmt.Sprintf("%s (%.2f%%)", p.Name, p.Score*100)
}
