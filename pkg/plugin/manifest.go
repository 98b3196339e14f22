package plugin

import (
	"fmt"
	"strings"
)

// Type represents the functional category of a plugin.
type Type string

const (
	// TypeGateway plugins initiate payments and interpret settlement webhooks.
	TypeGateway Type = "gateway"
	// TypeService plugins provision and manage external resources.
	TypeService Type = "service"
)

// Manifest contains the declared identity and kind of a plugin, independent
// of its code. The ID is the registry key and must stay stable once
// published; the Type must never change for a given ID because stored
// configuration is interpreted against it.
type Manifest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
	Author      string `json:"author,omitempty"`
	Type        Type   `json:"type"`
	Shipped     bool   `json:"shipped"`
}

// Validate checks the structural requirements of a manifest.
func (m Manifest) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("manifest id cannot be empty")
	}
	switch m.Type {
	case TypeGateway, TypeService:
		return nil
	default:
		return fmt.Errorf("manifest %s declares unknown type %q", m.ID, m.Type)
	}
}
