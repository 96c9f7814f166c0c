package manifest

import (
	"fmt"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/anvil-platform/loadspace/api/v1alpha1"
	"github.com/anvil-platform/loadspace/internal/capability"
	"github.com/anvil-platform/loadspace/internal/filter"
	"github.com/anvil-platform/loadspace/internal/policy"
	"github.com/anvil-platform/loadspace/internal/resolver"
	"github.com/anvil-platform/loadspace/internal/semver"
)

// UnitSpec converts a manifest into an installable spec. Every field error is
// reported, not just the first.
func UnitSpec(m *v1alpha1.UnitManifest) (resolver.UnitSpec, error) {
	var errs []error
	spec := resolver.UnitSpec{Name: m.Spec.Unit.Name, ImportAll: m.Spec.ImportAll, Object: m}
	if spec.Name == "" {
		errs = append(errs, fmt.Errorf("spec.unit.name is required"))
	}

	ver, err := semver.ParseVersion(m.Spec.Unit.Version)
	if err != nil {
		errs = append(errs, fmt.Errorf("spec.unit.version: %w", err))
	}
	spec.Version = ver

	if spec.Shutdown, err = resolver.ParseShutdownPolicy(m.Spec.Shutdown); err != nil {
		errs = append(errs, fmt.Errorf("spec.shutdown: %w", err))
	}

	for i, a := range m.Spec.Aliases {
		av, err := semver.ParseVersion(a.Version)
		if err != nil {
			errs = append(errs, fmt.Errorf("spec.aliases[%d].version: %w", i, err))
			continue
		}
		spec.Capabilities = append(spec.Capabilities, capability.Unit(a.Name, av))
	}

	for i, e := range m.Spec.Exports {
		c, err := exportCapability(e)
		if err != nil {
			errs = append(errs, fmt.Errorf("spec.exports[%d]: %w", i, err))
			continue
		}
		spec.Capabilities = append(spec.Capabilities, c)
	}

	for i, r := range m.Spec.Requires {
		req, err := requirement(r)
		if err != nil {
			errs = append(errs, fmt.Errorf("spec.requires[%d]: %w", i, err))
			continue
		}
		spec.Requirements = append(spec.Requirements, req)
	}

	if len(m.Spec.Content) > 0 {
		content := make(resolver.MapProvider, len(m.Spec.Content))
		for k, v := range m.Spec.Content {
			content[k] = v
		}
		spec.Provider = content
	}
	return spec, utilerrors.NewAggregate(errs)
}

func exportCapability(e v1alpha1.ExportedPackage) (capability.Capability, error) {
	if e.Package == "" {
		return capability.Capability{}, fmt.Errorf("package is required")
	}
	if filter.IsPattern(e.Package) {
		return capability.Capability{}, fmt.Errorf("exported package %q must not be a pattern", e.Package)
	}
	ver, err := semver.ParseVersion(e.Version)
	if err != nil {
		return capability.Capability{}, err
	}
	c := capability.Package(e.Package, ver)
	if c.Split, err = capability.ParseSplitPolicy(e.Split); err != nil {
		return capability.Capability{}, err
	}
	c.Optional = e.Optional
	return c, nil
}

func requirement(r v1alpha1.Requirement) (capability.Requirement, error) {
	if r.Name == "" {
		return capability.Requirement{}, fmt.Errorf("name is required")
	}
	kind, err := capability.ParseKind(r.Kind)
	if err != nil {
		return capability.Requirement{}, err
	}
	rng, err := semver.ParseRange(r.Range)
	if err != nil {
		return capability.Requirement{}, err
	}
	req := capability.Requirement{
		Kind:          kind,
		Name:          r.Name,
		Range:         rng,
		Optional:      r.Optional,
		Dynamic:       r.Dynamic,
		ReExport:      r.ReExport,
		WantReExports: r.WantReExports,
	}
	if req.Import, err = capability.ParseImportType(r.Import); err != nil {
		return capability.Requirement{}, err
	}
	if kind == capability.KindUnit && filter.IsPattern(r.Name) {
		return capability.Requirement{}, fmt.Errorf("unit requirement %q must not be a pattern", r.Name)
	}
	if err := req.Validate(); err != nil {
		return capability.Requirement{}, err
	}
	return req, nil
}

// DomainPolicy converts a domain manifest's policy name.
func DomainPolicy(m *v1alpha1.DomainManifest, reserved filter.Filter) (policy.ParentPolicy, error) {
	p, err := policy.Parse(m.Spec.Policy, reserved)
	if err != nil {
		return policy.ParentPolicy{}, fmt.Errorf("domain %s: %w", m.Name, err)
	}
	return p, nil
}
