// Package definition loads list page definitions from YAML, validates them
// and serves them from a registry that can be swapped atomically on reload.
package definition

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/caseview/internal/openapi"
	"github.com/pitabwire/caseview/model"
)

// Loader scans directories for YAML definition files.
type Loader struct{}

// NewLoader creates a Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadAll recursively parses every *.yaml and *.yml file under directories.
func (l *Loader) LoadAll(directories []string) ([]model.DomainDefinition, error) {
	var defs []model.DomainDefinition

	for _, dir := range directories {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !isDefinitionFile(path) {
				return nil
			}
			def, err := l.LoadFile(path)
			if err != nil {
				return err
			}
			defs = append(defs, def)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("definition: scanning %s: %w", dir, err)
		}
	}
	return defs, nil
}

// LoadFile parses a single definition file, rejecting unknown keys, and
// records its SHA-256 checksum and path.
func (l *Loader) LoadFile(path string) (model.DomainDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.DomainDefinition{}, fmt.Errorf("definition: reading %s: %w", path, err)
	}

	var def model.DomainDefinition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil && !errors.Is(err, io.EOF) {
		return model.DomainDefinition{}, fmt.Errorf("definition: parsing %s: %w", path, err)
	}

	def.Checksum = fmt.Sprintf("%x", sha256.Sum256(data))
	def.SourceFile = path
	return def, nil
}

// LoadAndValidate loads every definition under directories and validates
// the set. Any validation failure rejects the whole set.
func LoadAndValidate(directories []string, index *openapi.Index) ([]model.DomainDefinition, error) {
	defs, err := NewLoader().LoadAll(directories)
	if err != nil {
		return nil, err
	}
	if verrs := NewValidator().Validate(defs, index); len(verrs) > 0 {
		return nil, ValidationErrors(verrs)
	}
	return defs, nil
}

func isDefinitionFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
