package achievements

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Achievements []Definition `yaml:"achievements"`
}

// LoadFile reads a YAML catalog of the form below. FIRST_CLEANUP is added
// when the file does not define it.
//
//	achievements:
//	  - id: FIRST_CLEANUP
//	    name: First Cleanup
//	    reward: 0
//	    rule: {metric: events_completed, threshold: 1}
func LoadFile(path string) (*Catalog, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open achievements: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	var payload catalogFile
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode achievements: %w", err)
	}
	if len(payload.Achievements) == 0 {
		return nil, fmt.Errorf("%w: %s defines no achievements", ErrInvalidCatalog, path)
	}
	return NewCatalog(withFirstCleanup(payload.Achievements))
}

// withFirstCleanup guarantees the first-event achievement is always part of
// the catalog, prepending the built-in definition when a file omits it.
func withFirstCleanup(defs []Definition) []Definition {
	for _, def := range defs {
		if NormalizeID(def.ID) == FirstCleanup {
			return defs
		}
	}
	return append([]Definition{DefaultDefinitions()[0]}, defs...)
}
