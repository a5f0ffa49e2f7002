package rtspcamtest

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownStreamVariant is returned when a builder is asked for a stream
// variant no resolver knows an address for.
var ErrUnknownStreamVariant = errors.New("unknown stream variant")

// Resource names the scenarios configure and later look up on the machine.
const (
	CameraName      = "rtsp-cam-1"
	DiscoveryName   = "onvif-discovery-1"
	VideoStoreName  = "video-store-1"
	DataManagerName = "data-manager-1"
)

// ComponentConfig is one entry of a document's "components" list. The field
// names must match the platform schema verbatim; both the namespace/type and
// the api addressing styles appear in the wild, so both are kept.
type ComponentConfig struct {
	Name       string                 `json:"name"`
	Namespace  string                 `json:"namespace,omitempty"`
	Type       string                 `json:"type,omitempty"`
	API        string                 `json:"api,omitempty"`
	Model      string                 `json:"model"`
	Attributes map[string]interface{} `json:"attributes"`
	DependsOn  []string               `json:"depends_on,omitempty"`
}

// ServiceConfig is one entry of a document's "services" list.
type ServiceConfig struct {
	Name       string                 `json:"name"`
	API        string                 `json:"api"`
	Model      string                 `json:"model"`
	Attributes map[string]interface{} `json:"attributes"`
}

// ModuleConfig registers a module with the machine, either from the registry
// (module_id + version) or from a local executable.
type ModuleConfig struct {
	Type           string `json:"type"`
	Name           string `json:"name"`
	ModuleID       string `json:"module_id,omitempty"`
	Version        string `json:"version,omitempty"`
	ExecutablePath string `json:"executable_path,omitempty"`
}

// Document is the declarative configuration pushed to a machine part.
type Document struct {
	Components []ComponentConfig `json:"components"`
	Services   []ServiceConfig   `json:"services,omitempty"`
	Modules    []ModuleConfig    `json:"modules"`
}

// AsMap renders the document into the generic map shape the control-plane
// update call takes, going through JSON so the tags above decide the keys.
func (d *Document) AsMap() (map[string]interface{}, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshaling config document: %w", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("unmarshaling config document: %w", err)
	}
	return m, nil
}

// ModuleSource is where the machine gets a module's code from.
type ModuleSource interface {
	ModuleConfig() ModuleConfig
}

// RegistryModule is a module hosted in the platform registry.
type RegistryModule struct {
	Name     string
	ModuleID string
	Version  string
}

func (m RegistryModule) ModuleConfig() ModuleConfig {
	return ModuleConfig{Type: "registry", Name: m.Name, ModuleID: m.ModuleID, Version: m.Version}
}

// LocalModule is a module run from an executable on the machine itself,
// useful when testing an unreleased build.
type LocalModule struct {
	Name           string
	ExecutablePath string
}

func (m LocalModule) ModuleConfig() ModuleConfig {
	return ModuleConfig{Type: "local", Name: m.Name, ExecutablePath: m.ExecutablePath}
}

// DependencyStyle selects how the storage component declares its dependency
// on the sync service. The two known config revisions disagree, so both are
// supported: DependsOnList emits an explicit depends_on entry alongside the
// sync attribute, AttributeOnly relies on the attribute alone.
type DependencyStyle int

const (
	DependsOnList DependencyStyle = iota
	AttributeOnly
)

// Builder produces the per-scenario configuration documents. Builders are
// pure: no I/O, and two calls with the same arguments yield equal documents.
type Builder struct {
	Resolver        AddressResolver
	RTSPModule      ModuleSource
	StorageModule   ModuleSource
	DependencyStyle DependencyStyle
}

// NewBuilder returns a builder using the registry-hosted modules the
// scenarios exercise by default.
func NewBuilder(resolver AddressResolver) *Builder {
	return &Builder{
		Resolver: resolver,
		RTSPModule: RegistryModule{
			Name:     "viam_viamrtsp",
			ModuleID: "viam:viamrtsp",
			Version:  "latest-with-prerelease",
		},
		StorageModule: RegistryModule{
			Name:     "viam_video-store",
			ModuleID: "viam:video-store",
			Version:  "latest",
		},
		DependencyStyle: DependsOnList,
	}
}

func (b *Builder) cameraComponent(passthrough bool, variant StreamVariant) (ComponentConfig, error) {
	addr, err := b.Resolver.Resolve(variant)
	if err != nil {
		return ComponentConfig{}, err
	}
	return ComponentConfig{
		Name:      CameraName,
		Namespace: "rdk",
		Type:      "camera",
		Model:     "viam:viamrtsp:rtsp",
		Attributes: map[string]interface{}{
			"rtp_passthrough": passthrough,
			"rtsp_address":    addr,
		},
	}, nil
}

func discoveryService() ServiceConfig {
	return ServiceConfig{
		Name:       DiscoveryName,
		API:        "rdk:service:discovery",
		Model:      "viam:viamrtsp:onvif",
		Attributes: map[string]interface{}{},
	}
}

// CodecConfig builds a single-camera document for the given stream variant.
func (b *Builder) CodecConfig(passthrough bool, variant StreamVariant) (*Document, error) {
	cam, err := b.cameraComponent(passthrough, variant)
	if err != nil {
		return nil, err
	}
	return &Document{
		Components: []ComponentConfig{cam},
		Modules:    []ModuleConfig{b.RTSPModule.ModuleConfig()},
	}, nil
}

// DiscoveryConfig builds the camera plus an ONVIF discovery service, fixed
// to the secondary (h265) channel with passthrough on.
func (b *Builder) DiscoveryConfig() (*Document, error) {
	cam, err := b.cameraComponent(true, StreamH265)
	if err != nil {
		return nil, err
	}
	return &Document{
		Components: []ComponentConfig{cam},
		Services:   []ServiceConfig{discoveryService()},
		Modules:    []ModuleConfig{b.RTSPModule.ModuleConfig()},
	}, nil
}

// StorageConfig builds the camera plus a video-store component synced
// through the data manager. The encoding preset is forwarded verbatim; the
// video-store decides whether it is acceptable.
func (b *Builder) StorageConfig(preset string) (*Document, error) {
	cam, err := b.cameraComponent(true, StreamH265)
	if err != nil {
		return nil, err
	}

	store := ComponentConfig{
		Name:  VideoStoreName,
		API:   "rdk:component:camera",
		Model: "viam:video:storage",
		Attributes: map[string]interface{}{
			"sync":    DataManagerName,
			"storage": map[string]interface{}{"size_gb": 1},
			"video":   map[string]interface{}{"preset": preset},
			"camera":  CameraName,
		},
	}
	if b.DependencyStyle == DependsOnList {
		store.DependsOn = []string{DataManagerName}
	}

	dataManager := ServiceConfig{
		Name:  DataManagerName,
		API:   "rdk:service:data_manager",
		Model: "rdk:builtin:builtin",
		Attributes: map[string]interface{}{
			"tags":                  []string{},
			"additional_sync_paths": []string{},
			"sync_interval_mins":    0.1,
			"capture_dir":           "",
		},
	}

	return &Document{
		Components: []ComponentConfig{cam, store},
		Services:   []ServiceConfig{discoveryService(), dataManager},
		Modules:    []ModuleConfig{b.RTSPModule.ModuleConfig(), b.StorageModule.ModuleConfig()},
	}, nil
}
