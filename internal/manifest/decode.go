// Package manifest reads unit and domain manifests and applies them to a
// registry.
package manifest

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	utilyaml "k8s.io/apimachinery/pkg/util/yaml"
	"sigs.k8s.io/yaml"

	"github.com/anvil-platform/loadspace/api/v1alpha1"
)

const (
	KindUnitManifest   = "UnitManifest"
	KindDomainManifest = "DomainManifest"
)

// Set is a batch of decoded manifests.
type Set struct {
	Domains []*v1alpha1.DomainManifest `json:"domains,omitempty"`
	Units   []*v1alpha1.UnitManifest   `json:"units,omitempty"`
}

func (s *Set) merge(o *Set) {
	s.Domains = append(s.Domains, o.Domains...)
	s.Units = append(s.Units, o.Units...)
}

// Decode reads a stream of YAML documents. Empty documents are skipped;
// documents of other kinds are rejected.
func Decode(r io.Reader) (*Set, error) {
	reader := utilyaml.NewYAMLReader(bufio.NewReader(r))
	set := &Set{}
	for i := 0; ; i++ {
		doc, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return set, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read document %d: %w", i, err)
		}
		if len(bytes.TrimSpace(doc)) == 0 {
			continue
		}
		if err := set.decodeDocument(doc); err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
	}
}

func (s *Set) decodeDocument(doc []byte) error {
	var tm metav1.TypeMeta
	if err := yaml.Unmarshal(doc, &tm); err != nil {
		return err
	}
	if tm.Kind == "" {
		// Comment-only documents decode to an empty object.
		return nil
	}
	if tm.APIVersion != "" && tm.APIVersion != v1alpha1.GroupVersion.String() {
		return fmt.Errorf("unsupported apiVersion %q", tm.APIVersion)
	}
	switch tm.Kind {
	case KindUnitManifest:
		var m v1alpha1.UnitManifest
		if err := yaml.UnmarshalStrict(doc, &m); err != nil {
			return fmt.Errorf("%s: %w", tm.Kind, err)
		}
		if m.Name == "" {
			m.Name = m.Spec.Unit.Name
		}
		s.Units = append(s.Units, &m)
	case KindDomainManifest:
		var m v1alpha1.DomainManifest
		if err := yaml.UnmarshalStrict(doc, &m); err != nil {
			return fmt.Errorf("%s: %w", tm.Kind, err)
		}
		if m.Name == "" {
			return fmt.Errorf("%s without metadata.name", tm.Kind)
		}
		s.Domains = append(s.Domains, &m)
	default:
		return fmt.Errorf("unsupported kind %q", tm.Kind)
	}
	return nil
}

// LoadFile decodes a single manifest file.
func LoadFile(path string) (*Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	set, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}

// LoadDir decodes every .yaml, .yml and .json file under dir in lexical
// path order.
func LoadDir(dir string) (*Set, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml", ".json":
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	set := &Set{}
	for _, p := range paths {
		s, err := LoadFile(p)
		if err != nil {
			return nil, err
		}
		set.merge(s)
	}
	return set, nil
}
