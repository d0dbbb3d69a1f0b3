package sandbox

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/jsonc"
)

//go:embed bridge.conflist.jsonc
var defaultConfList []byte

// NetworkConfList is the subset of a CNI network configuration list that is
// checked before the file is handed to podman. Fields not listed here are
// passed through untouched.
type NetworkConfList struct {
	CNIVersion string          `json:"cniVersion"`
	Name       string          `json:"name"`
	Plugins    []NetworkPlugin `json:"plugins"`
}

// NetworkPlugin is one entry of NetworkConfList.Plugins.
type NetworkPlugin struct {
	Type         string          `json:"type"`
	Bridge       string          `json:"bridge,omitempty"`
	IsGateway    bool            `json:"isGateway,omitempty"`
	IPMasq       bool            `json:"ipMasq,omitempty"`
	IPAM         *IPAMConfig     `json:"ipam,omitempty"`
	Capabilities map[string]bool `json:"capabilities,omitempty"`
}

// IPAMConfig is the ipam section of a plugin.
type IPAMConfig struct {
	Type   string  `json:"type"`
	Subnet string  `json:"subnet,omitempty"`
	Routes []Route `json:"routes,omitempty"`
}

// Route is a single IPAM route.
type Route struct {
	Dst string `json:"dst"`
}

// ParseNetworkConfList strips comments and trailing commas from data and
// decodes the result.
func ParseNetworkConfList(data []byte) (*NetworkConfList, error) {
	var list NetworkConfList
	if err := json.Unmarshal(jsonc.ToJSON(data), &list); err != nil {
		return nil, fmt.Errorf("parsing CNI conflist: %w", err)
	}
	if err := list.validate(); err != nil {
		return nil, fmt.Errorf("invalid CNI conflist: %w", err)
	}
	return &list, nil
}

func (l *NetworkConfList) validate() error {
	if l.Name == "" {
		return errors.New("name is required")
	}
	if len(l.Plugins) == 0 {
		return errors.New("at least one plugin is required")
	}
	for i, p := range l.Plugins {
		if p.Type == "" {
			return fmt.Errorf("plugin %d has no type", i)
		}
	}
	return nil
}

// renderNetworkConfList validates src and returns it as compact JSON.
func renderNetworkConfList(src []byte) ([]byte, error) {
	if _, err := ParseNetworkConfList(src); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, jsonc.ToJSON(src)); err != nil {
		return nil, fmt.Errorf("compacting CNI conflist: %w", err)
	}
	return buf.Bytes(), nil
}
