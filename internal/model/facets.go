package model

import (
	"fmt"
	"strings"
	"time"
)

// Facet identifies one monitored state category.
type Facet string

const (
	FacetRegistry   Facet = "registry"
	FacetService    Facet = "service"
	FacetTask       Facet = "task"
	FacetProcess    Facet = "process"
	FacetBootConfig Facet = "bootconfig"
)

// Facets lists every monitored facet.
var Facets = []Facet{FacetRegistry, FacetService, FacetTask, FacetProcess, FacetBootConfig}

// ParseFacet validates a facet name from a request path or query.
func ParseFacet(s string) (Facet, error) {
	switch Facet(strings.ToLower(strings.TrimSpace(s))) {
	case FacetRegistry:
		return FacetRegistry, nil
	case FacetService, "services":
		return FacetService, nil
	case FacetTask, "tasks":
		return FacetTask, nil
	case FacetProcess, "processes":
		return FacetProcess, nil
	case FacetBootConfig:
		return FacetBootConfig, nil
	}
	return "", fmt.Errorf("unknown facet %q", s)
}

// Observation is one facet entry as reported by an agent. Implementations are
// the entry structs below; Fields returns every observed field so the snapshot
// row stays self-contained, and identity matching is literal on IdentityKey.
type Observation interface {
	Facet() Facet
	IdentityKey() string
	Fields() map[string]string
	ObservedAt() time.Time
	Validate() error
}

// RegistryEntry is one observed registry value.
type RegistryEntry struct {
	Hive        string    `json:"hive"`
	KeyPath     string    `json:"key_path"`
	ValueName   string    `json:"value_name"`
	ValueType   string    `json:"value_type,omitempty"`
	ValueData   string    `json:"value_data,omitempty"`
	Checksum    string    `json:"checksum,omitempty"`
	CollectedAt time.Time `json:"collected_at"`
}

func (e RegistryEntry) Facet() Facet { return FacetRegistry }

func (e RegistryEntry) IdentityKey() string {
	return e.Hive + "\\" + e.KeyPath + "\\" + e.ValueName
}

func (e RegistryEntry) Fields() map[string]string {
	return map[string]string{
		"hive":       e.Hive,
		"key_path":   e.KeyPath,
		"value_name": e.ValueName,
		"value_type": e.ValueType,
		"value_data": e.ValueData,
	}
}

func (e RegistryEntry) ObservedAt() time.Time { return e.CollectedAt }

func (e RegistryEntry) Validate() error {
	if strings.TrimSpace(e.Hive) == "" || strings.TrimSpace(e.KeyPath) == "" || strings.TrimSpace(e.ValueName) == "" {
		return fmt.Errorf("registry entry requires hive, key_path and value_name")
	}
	return nil
}

// ServiceEntry is one observed Windows service.
type ServiceEntry struct {
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name,omitempty"`
	Status      string    `json:"status,omitempty"`
	StartMode   string    `json:"start_mode,omitempty"`
	BinaryPath  string    `json:"binary_path,omitempty"`
	Hash        string    `json:"hash,omitempty"`
	CollectedAt time.Time `json:"collected_at"`
}

func (e ServiceEntry) Facet() Facet        { return FacetService }
func (e ServiceEntry) IdentityKey() string { return e.Name }

func (e ServiceEntry) Fields() map[string]string {
	return map[string]string{
		"name":         e.Name,
		"display_name": e.DisplayName,
		"status":       e.Status,
		"start_mode":   e.StartMode,
		"binary_path":  e.BinaryPath,
		"hash":         e.Hash,
	}
}

func (e ServiceEntry) ObservedAt() time.Time { return e.CollectedAt }

func (e ServiceEntry) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("service entry requires name")
	}
	return nil
}

// TaskEntry is one observed scheduled task.
type TaskEntry struct {
	Name        string    `json:"name"`
	Folder      string    `json:"folder,omitempty"`
	Command     string    `json:"command,omitempty"`
	Schedule    string    `json:"schedule,omitempty"`
	Status      string    `json:"status,omitempty"`
	CollectedAt time.Time `json:"collected_at"`
}

func (e TaskEntry) Facet() Facet { return FacetTask }

func (e TaskEntry) IdentityKey() string {
	if e.Folder == "" {
		return e.Name
	}
	return e.Folder + "\\" + e.Name
}

func (e TaskEntry) Fields() map[string]string {
	return map[string]string{
		"name":     e.Name,
		"folder":   e.Folder,
		"command":  e.Command,
		"schedule": e.Schedule,
		"status":   e.Status,
	}
}

func (e TaskEntry) ObservedAt() time.Time { return e.CollectedAt }

func (e TaskEntry) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("task entry requires name")
	}
	return nil
}

// ProcessEntry is one observed running process.
type ProcessEntry struct {
	PID            int       `json:"pid"`
	ProcessName    string    `json:"process_name"`
	ExecutablePath string    `json:"executable_path,omitempty"`
	Hash           string    `json:"hash,omitempty"`
	Username       string    `json:"username,omitempty"`
	CollectedAt    time.Time `json:"collected_at"`
}

func (e ProcessEntry) Facet() Facet { return FacetProcess }

func (e ProcessEntry) IdentityKey() string {
	return fmt.Sprintf("%d|%s|%s", e.PID, e.ProcessName, e.ExecutablePath)
}

func (e ProcessEntry) Fields() map[string]string {
	return map[string]string{
		"pid":             fmt.Sprintf("%d", e.PID),
		"process_name":    e.ProcessName,
		"executable_path": e.ExecutablePath,
		"hash":            e.Hash,
		"username":        e.Username,
	}
}

func (e ProcessEntry) ObservedAt() time.Time { return e.CollectedAt }

func (e ProcessEntry) Validate() error {
	if strings.TrimSpace(e.ProcessName) == "" {
		return fmt.Errorf("process entry requires process_name")
	}
	return nil
}

// BootConfigEntry is one observed boot configuration element (one BCD element
// of one boot entry on Windows, one loader key/value elsewhere).
type BootConfigEntry struct {
	Entry       string    `json:"entry"`
	Element     string    `json:"element"`
	Value       string    `json:"value,omitempty"`
	CollectedAt time.Time `json:"collected_at"`
}

func (e BootConfigEntry) Facet() Facet { return FacetBootConfig }

func (e BootConfigEntry) IdentityKey() string {
	return e.Entry + "|" + e.Element
}

func (e BootConfigEntry) Fields() map[string]string {
	return map[string]string{
		"entry":   e.Entry,
		"element": e.Element,
		"value":   e.Value,
	}
}

func (e BootConfigEntry) ObservedAt() time.Time { return e.CollectedAt }

func (e BootConfigEntry) Validate() error {
	if strings.TrimSpace(e.Entry) == "" || strings.TrimSpace(e.Element) == "" {
		return fmt.Errorf("bootconfig entry requires entry and element")
	}
	return nil
}
