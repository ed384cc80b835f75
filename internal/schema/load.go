package schema

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// File is the on-disk YAML layout of a schema.
type File struct {
	Name      string     `yaml:"name"`
	Variables []Variable `yaml:"variables"`
}

// Load reads a schema from a YAML file. The document has a top-level
// "schema" key:
//
//	schema:
//	  name: zip
//	  variables:
//	    - name: medianIncome
//	      weight: 0.15
//	      kind: continuous
//	      min: 20000
//	      max: 200000
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "schema: read %s", path)
	}
	return Parse(data)
}

// Parse decodes a YAML schema document.
func Parse(data []byte) (*Schema, error) {
	var wrapper struct {
		Schema File `yaml:"schema"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "schema: parse yaml")
	}

	name := wrapper.Schema.Name
	if name == "" {
		name = "custom"
	}
	return New(name, wrapper.Schema.Variables)
}

// Marshal encodes s in the layout Load reads.
func Marshal(s *Schema) ([]byte, error) {
	wrapper := struct {
		Schema File `yaml:"schema"`
	}{Schema: File{Name: s.Name(), Variables: s.Variables()}}

	data, err := yaml.Marshal(wrapper)
	if err != nil {
		return nil, eris.Wrap(err, "schema: marshal yaml")
	}
	return data, nil
}
