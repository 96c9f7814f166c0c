package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// DomainManifest declares a domain and how it delegates to its parent.
//
// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:scope=Namespaced,shortName=dm
// +kubebuilder:printcolumn:name="Parent",type=string,JSONPath=`.spec.parent`
// +kubebuilder:printcolumn:name="Policy",type=string,JSONPath=`.spec.policy`
type DomainManifest struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   DomainManifestSpec   `json:"spec"`
	Status DomainManifestStatus `json:"status,omitempty"`
}

type DomainManifestSpec struct {
	// Parent defaults to the registry's default domain.
	Parent string `json:"parent,omitempty"`

	// Policy is one of before, after, before-but-reserved-only or
	// after-but-reserved-before. Defaults to before.
	Policy string `json:"policy,omitempty"`
}

type DomainManifestStatus struct {
	Phase      Phase              `json:"phase,omitempty"`
	Message    string             `json:"message,omitempty"`
	Units      int32              `json:"units,omitempty"`
	Conditions []metav1.Condition `json:"conditions,omitempty"`
}

// +kubebuilder:object:root=true
type DomainManifestList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []DomainManifest `json:"items"`
}

func init() {
	SchemeBuilder.Register(&DomainManifest{}, &DomainManifestList{})
}
