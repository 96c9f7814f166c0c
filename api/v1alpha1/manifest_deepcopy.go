package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
)

// DeepCopyInto copies the receiver, writing into out. in must be non-nil.
func (in *UnitManifest) DeepCopyInto(out *UnitManifest) {
	*out = *in
	out.TypeMeta = in.TypeMeta
	in.ObjectMeta.DeepCopyInto(&out.ObjectMeta)
	in.Spec.DeepCopyInto(&out.Spec)
	in.Status.DeepCopyInto(&out.Status)
}

// DeepCopy copies the receiver, creating a new UnitManifest.
func (in *UnitManifest) DeepCopy() *UnitManifest {
	if in == nil {
		return nil
	}
	out := new(UnitManifest)
	in.DeepCopyInto(out)
	return out
}

// DeepCopyObject copies the receiver, creating a new runtime.Object.
func (in *UnitManifest) DeepCopyObject() runtime.Object {
	if c := in.DeepCopy(); c != nil {
		return c
	}
	return nil
}

// DeepCopyInto copies the receiver, writing into out. in must be non-nil.
func (in *UnitManifestList) DeepCopyInto(out *UnitManifestList) {
	*out = *in
	out.TypeMeta = in.TypeMeta
	in.ListMeta.DeepCopyInto(&out.ListMeta)
	if in.Items != nil {
		out.Items = make([]UnitManifest, len(in.Items))
		for i := range in.Items {
			in.Items[i].DeepCopyInto(&out.Items[i])
		}
	}
}

// DeepCopy copies the receiver, creating a new UnitManifestList.
func (in *UnitManifestList) DeepCopy() *UnitManifestList {
	if in == nil {
		return nil
	}
	out := new(UnitManifestList)
	in.DeepCopyInto(out)
	return out
}

// DeepCopyObject copies the receiver, creating a new runtime.Object.
func (in *UnitManifestList) DeepCopyObject() runtime.Object {
	if c := in.DeepCopy(); c != nil {
		return c
	}
	return nil
}

func (in *UnitManifestSpec) DeepCopyInto(out *UnitManifestSpec) {
	*out = *in
	if in.Aliases != nil {
		out.Aliases = make([]UnitIdentity, len(in.Aliases))
		copy(out.Aliases, in.Aliases)
	}
	if in.Exports != nil {
		out.Exports = make([]ExportedPackage, len(in.Exports))
		copy(out.Exports, in.Exports)
	}
	if in.Requires != nil {
		out.Requires = make([]Requirement, len(in.Requires))
		copy(out.Requires, in.Requires)
	}
	if in.Content != nil {
		out.Content = make(map[string]string, len(in.Content))
		for k, v := range in.Content {
			out.Content[k] = v
		}
	}
}

func (in *UnitManifestStatus) DeepCopyInto(out *UnitManifestStatus) {
	*out = *in
	if in.Bindings != nil {
		out.Bindings = make([]BindingStatus, len(in.Bindings))
		copy(out.Bindings, in.Bindings)
	}
	out.Conditions = copyConditions(in.Conditions)
}

// DeepCopyInto copies the receiver, writing into out. in must be non-nil.
func (in *DomainManifest) DeepCopyInto(out *DomainManifest) {
	*out = *in
	out.TypeMeta = in.TypeMeta
	in.ObjectMeta.DeepCopyInto(&out.ObjectMeta)
	out.Spec = in.Spec
	in.Status.DeepCopyInto(&out.Status)
}

// DeepCopy copies the receiver, creating a new DomainManifest.
func (in *DomainManifest) DeepCopy() *DomainManifest {
	if in == nil {
		return nil
	}
	out := new(DomainManifest)
	in.DeepCopyInto(out)
	return out
}

// DeepCopyObject copies the receiver, creating a new runtime.Object.
func (in *DomainManifest) DeepCopyObject() runtime.Object {
	if c := in.DeepCopy(); c != nil {
		return c
	}
	return nil
}

// DeepCopyInto copies the receiver, writing into out. in must be non-nil.
func (in *DomainManifestList) DeepCopyInto(out *DomainManifestList) {
	*out = *in
	out.TypeMeta = in.TypeMeta
	in.ListMeta.DeepCopyInto(&out.ListMeta)
	if in.Items != nil {
		out.Items = make([]DomainManifest, len(in.Items))
		for i := range in.Items {
			in.Items[i].DeepCopyInto(&out.Items[i])
		}
	}
}

// DeepCopy copies the receiver, creating a new DomainManifestList.
func (in *DomainManifestList) DeepCopy() *DomainManifestList {
	if in == nil {
		return nil
	}
	out := new(DomainManifestList)
	in.DeepCopyInto(out)
	return out
}

// DeepCopyObject copies the receiver, creating a new runtime.Object.
func (in *DomainManifestList) DeepCopyObject() runtime.Object {
	if c := in.DeepCopy(); c != nil {
		return c
	}
	return nil
}

func (in *DomainManifestStatus) DeepCopyInto(out *DomainManifestStatus) {
	*out = *in
	out.Conditions = copyConditions(in.Conditions)
}

func copyConditions(in []metav1.Condition) []metav1.Condition {
	if in == nil {
		return nil
	}
	out := make([]metav1.Condition, len(in))
	for i := range in {
		in[i].DeepCopyInto(&out[i])
	}
	return out
}
