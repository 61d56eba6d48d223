package classifier

import (
	"encoding/json"
	"io"
	"os"
	"sort"

	"github.com/pkg/errors"
)

// Labels maps classifier output indices to gesture names. It is built once
// from the training export and never modified afterwards.
type Labels struct {
	byIndex map[int]string
	names   []string
}

// NewLabels builds Labels from an index-ordered list of names.
func NewLabels(names ...string) *Labels {
	l := &Labels{byIndex: make(map[int]string, len(names))}
	for i, n := range names {
		l.byIndex[i] = n
	}
	l.names = append([]string(nil), names...)
	return l
}

// LoadLabels reads a class index file of the form {"label": index, ...}.
// Any read or parse problem is reported as ErrModelLoad.
func LoadLabels(path string) (*Labels, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(ErrModelLoad, "open labels %s: %v", path, err)
	}
	defer f.Close()

	labels, err := ParseLabels(f)
	if err != nil {
		return nil, errors.Wrapf(err, "labels %s", path)
	}
	return labels, nil
}

// ParseLabels decodes a class index mapping.
func ParseLabels(r io.Reader) (*Labels, error) {
	var indices map[string]int
	if err := json.NewDecoder(r).Decode(&indices); err != nil {
		return nil, errors.Wrapf(ErrModelLoad, "decode class indices: %v", err)
	}
	if len(indices) == 0 {
		return nil, errors.Wrap(ErrModelLoad, "class indices are empty")
	}

	l := &Labels{byIndex: make(map[int]string, len(indices))}
	for name, idx := range indices {
		if name == "" {
			return nil, errors.Wrapf(ErrModelLoad, "empty label at index %d", idx)
		}
		if idx < 0 {
			return nil, errors.Wrapf(ErrModelLoad, "negative index %d for %q", idx, name)
		}
		if prev, ok := l.byIndex[idx]; ok {
			return nil, errors.Wrapf(ErrModelLoad, "index %d assigned to both %q and %q", idx, prev, name)
		}
		l.byIndex[idx] = name
	}

	idxs := make([]int, 0, len(l.byIndex))
	for idx := range l.byIndex {
		idxs = append(idxs, idx)
	}
	sort.Ints(idxs)
	for _, idx := range idxs {
		l.names = append(l.names, l.byIndex[idx])
	}

	return l, nil
}

// Label returns the name for an output index.
func (l *Labels) Label(idx int) (string, bool) {
	name, ok := l.byIndex[idx]
	return name, ok
}

// Len returns the vocabulary size.
func (l *Labels) Len() int {
	return len(l.byIndex)
}

// Names returns the vocabulary ordered by index.
func (l *Labels) Names() []string {
	return append([]string(nil), l.names...)
}
