package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// UnitManifest declares a unit's identity, exports and requirements.
//
// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:scope=Namespaced,shortName=um
// +kubebuilder:printcolumn:name="Phase",type=string,JSONPath=`.status.phase`
// +kubebuilder:printcolumn:name="Unit",type=string,JSONPath=`.spec.unit.name`
// +kubebuilder:printcolumn:name="Version",type=string,JSONPath=`.spec.unit.version`
// +kubebuilder:printcolumn:name="Domain",type=string,JSONPath=`.spec.domain`
type UnitManifest struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   UnitManifestSpec   `json:"spec"`
	Status UnitManifestStatus `json:"status,omitempty"`
}

type UnitManifestSpec struct {
	Unit UnitIdentity `json:"unit"`

	// Domain defaults to the registry's default domain.
	Domain string `json:"domain,omitempty"`

	// Aliases are extra unit identities the unit answers to.
	Aliases   []UnitIdentity    `json:"aliases,omitempty"`
	Exports   []ExportedPackage `json:"exports,omitempty"`
	Requires  []Requirement     `json:"requires,omitempty"`
	Shutdown  string            `json:"shutdown,omitempty"`
	ImportAll bool              `json:"importAll,omitempty"`

	// Content maps dotted names or resource paths to static values.
	Content map[string]string `json:"content,omitempty"`
}

type ExportedPackage struct {
	Package  string `json:"package"`
	Version  string `json:"version,omitempty"`
	Split    string `json:"split,omitempty"`
	Optional bool   `json:"optional,omitempty"`
}

type Requirement struct {
	// Kind is "unit" or "package".
	Kind string `json:"kind,omitempty"`
	Name string `json:"name"`

	// Range uses bracket notation, e.g. "[1.0.0,2.0.0)". Empty means any.
	Range         string `json:"range,omitempty"`
	Optional      bool   `json:"optional,omitempty"`
	Dynamic       bool   `json:"dynamic,omitempty"`
	ReExport      bool   `json:"reExport,omitempty"`
	WantReExports bool   `json:"wantReExports,omitempty"`
	Import        string `json:"import,omitempty"`
}

type UnitManifestStatus struct {
	Phase        Phase              `json:"phase,omitempty"`
	Message      string             `json:"message,omitempty"`
	NeedsRefresh bool               `json:"needsRefresh,omitempty"`
	Bindings     []BindingStatus    `json:"bindings,omitempty"`
	Conditions   []metav1.Condition `json:"conditions,omitempty"`
}

type BindingStatus struct {
	Requirement string `json:"requirement"`
	Provider    string `json:"provider,omitempty"`
}

// +kubebuilder:object:root=true
type UnitManifestList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []UnitManifest `json:"items"`
}

func init() {
	SchemeBuilder.Register(&UnitManifest{}, &UnitManifestList{})
}
