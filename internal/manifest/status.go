package manifest

import (
	"fmt"
	"sort"

	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/anvil-platform/loadspace/api/v1alpha1"
	"github.com/anvil-platform/loadspace/internal/resolver"
)

const (
	ReasonResolved     = "Resolved"
	ReasonUnresolved   = "Unresolved"
	ReasonStale        = "ProviderDeparted"
	ReasonUpToDate     = "UpToDate"
	ReasonDomainActive = "Active"
)

func setUnitCondition(m *v1alpha1.UnitManifest, condition metav1.Condition) {
	condition.ObservedGeneration = m.Generation
	meta.SetStatusCondition(&m.Status.Conditions, condition)
}

func setDomainCondition(m *v1alpha1.DomainManifest, condition metav1.Condition) {
	condition.ObservedGeneration = m.Generation
	meta.SetStatusCondition(&m.Status.Conditions, condition)
}

func unitPhase(s resolver.State) v1alpha1.Phase {
	switch s {
	case resolver.StateResolved:
		return v1alpha1.PhaseResolved
	case resolver.StateStarted:
		return v1alpha1.PhaseStarted
	case resolver.StateUninstalled:
		return v1alpha1.PhaseUninstalled
	default:
		return v1alpha1.PhaseUnresolved
	}
}

// SyncStatus writes the registry's view of every applied manifest into its
// status and returns the manifests sorted by name.
func (a *Applier) SyncStatus() *Set {
	out := &Set{}
	for _, au := range a.units {
		syncUnitStatus(au.manifest, au.unit)
		out.Units = append(out.Units, au.manifest)
	}
	for name, m := range a.domains {
		d, ok := a.Registry.DomainByName(name)
		if !ok {
			continue
		}
		syncDomainStatus(m, d)
		out.Domains = append(out.Domains, m)
	}
	sort.Slice(out.Units, func(i, j int) bool { return out.Units[i].Spec.Unit.Name < out.Units[j].Spec.Unit.Name })
	sort.Slice(out.Domains, func(i, j int) bool { return out.Domains[i].Name < out.Domains[j].Name })
	return out
}

func syncUnitStatus(m *v1alpha1.UnitManifest, u *resolver.Unit) {
	m.Status.Phase = unitPhase(u.State())
	m.Status.Message = ""
	m.Status.NeedsRefresh = u.NeedsRefresh()
	m.Status.Bindings = m.Status.Bindings[:0]
	for _, it := range u.Items() {
		b := v1alpha1.BindingStatus{Requirement: it.Requirement().String()}
		if t := it.Target(); t != nil {
			b.Provider = t.String()
		}
		m.Status.Bindings = append(m.Status.Bindings, b)
	}

	if u.Resolved() {
		setUnitCondition(m, metav1.Condition{
			Type:    v1alpha1.ConditionResolved,
			Status:  metav1.ConditionTrue,
			Reason:  ReasonResolved,
			Message: fmt.Sprintf("%d requirements bound", boundCount(u)),
		})
	} else {
		msg := "no compatible provider found"
		if err := u.Err(); err != nil {
			msg = err.Error()
		}
		m.Status.Message = msg
		setUnitCondition(m, metav1.Condition{
			Type:    v1alpha1.ConditionResolved,
			Status:  metav1.ConditionFalse,
			Reason:  ReasonUnresolved,
			Message: msg,
		})
	}

	if u.NeedsRefresh() {
		setUnitCondition(m, metav1.Condition{
			Type:    v1alpha1.ConditionNeedsRefresh,
			Status:  metav1.ConditionTrue,
			Reason:  ReasonStale,
			Message: "a provider departed without cascading; refresh to rebind",
		})
	} else {
		setUnitCondition(m, metav1.Condition{
			Type:   v1alpha1.ConditionNeedsRefresh,
			Status: metav1.ConditionFalse,
			Reason: ReasonUpToDate,
		})
	}
}

func boundCount(u *resolver.Unit) int {
	n := 0
	for _, it := range u.Items() {
		if it.Resolved() {
			n++
		}
	}
	return n
}

func syncDomainStatus(m *v1alpha1.DomainManifest, d *resolver.Domain) {
	units := d.Units()
	m.Status.Phase = v1alpha1.PhaseReady
	m.Status.Units = int32(len(units))
	m.Status.Message = fmt.Sprintf("policy %s", d.Policy())
	setDomainCondition(m, metav1.Condition{
		Type:    v1alpha1.ConditionReady,
		Status:  metav1.ConditionTrue,
		Reason:  ReasonDomainActive,
		Message: fmt.Sprintf("%d units installed", len(units)),
	})
}
