package sandbox

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"

	"github.com/isdmx/podbox/config"
)

// registriesConf is the v1 registries.conf document podman reads through
// CONTAINERS_REGISTRIES_CONF.
type registriesConf struct {
	Registries registryTables `toml:"registries"`
}

type registryTables struct {
	Search   registryList `toml:"search"`
	Insecure registryList `toml:"insecure"`
	Block    registryList `toml:"block"`
}

type registryList struct {
	Registries []string `toml:"registries"`
}

func renderRegistriesConf(cfg config.RegistriesConfig) ([]byte, error) {
	doc := registriesConf{
		Registries: registryTables{
			Search:   registryList{Registries: nonNil(cfg.Search)},
			Insecure: registryList{Registries: nonNil(cfg.Insecure)},
			Block:    registryList{Registries: nonNil(cfg.Block)},
		},
	}

	data, err := toml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode registries config: %w", err)
	}
	return data, nil
}

// nonNil keeps empty lists in the output as "registries = []".
func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
