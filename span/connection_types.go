package span

import (
	_ "embed"
	"sort"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/rich13/lifespan-beta-sub017/errors"
)

//go:embed connection_types.toml
var connectionTypesTOML []byte

type connectionTypeFile struct {
	Types []ConnectionType `toml:"types"`
}

var (
	connectionTypesOnce sync.Once
	connectionTypes     map[string]*ConnectionType
	connectionTypesErr  error
)

func loadConnectionTypes() {
	var file connectionTypeFile
	if err := toml.Unmarshal(connectionTypesTOML, &file); err != nil {
		connectionTypesErr = errors.Wrap(err, "parse connection type definitions")
		return
	}

	connectionTypes = make(map[string]*ConnectionType, len(file.Types))
	for i := range file.Types {
		ct := &file.Types[i]
		connectionTypes[ct.Name] = ct
	}
}

// LookupConnectionType returns the definition for a connection type name.
func LookupConnectionType(name string) (*ConnectionType, error) {
	connectionTypesOnce.Do(loadConnectionTypes)
	if connectionTypesErr != nil {
		return nil, connectionTypesErr
	}

	ct, ok := connectionTypes[name]
	if !ok {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "unknown connection type %q", name)
	}
	return ct, nil
}

// ConnectionTypeNames returns all defined connection type names, sorted.
func ConnectionTypeNames() []string {
	connectionTypesOnce.Do(loadConnectionTypes)

	names := make([]string, 0, len(connectionTypes))
	for name := range connectionTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
