// Package target maps a target kind to its recognized code sections and
// available actions. All per-target branching in the orchestrator goes
// through a registry lookup instead of comparing kind strings inline.
package target

import (
	"fmt"

	"github.com/craftwell/dxp-studio/session-orchestrator/internal/models"
)

// Capability names one action a target profile supports.
type Capability string

const (
	CapabilityBuild    Capability = "build"
	CapabilityPreview  Capability = "preview"
	CapabilityRefine   Capability = "refine"
	CapabilityGitPush  Capability = "gitPush"
	CapabilityDownload Capability = "download"
	// CapabilityAutoInstall controls whether a successful build also
	// installs the package on the target instance. Kept as a profile flag
	// rather than hard-coded branching in the build path.
	CapabilityAutoInstall Capability = "autoInstall"
)

// Profile declares the section vocabulary and action set of one target kind.
// SectionFiles optionally maps a section to the file name used when the
// bundle is exported.
type Profile struct {
	Kind           models.TargetKind
	Sections       []string
	DefaultSection string
	Capabilities   map[Capability]bool
	SectionFiles   map[string]string
}

// ValidSection reports whether name is a recognized section of the profile.
func (p *Profile) ValidSection(name string) bool {
	for _, s := range p.Sections {
		if s == name {
			return true
		}
	}
	return false
}

// Has reports whether the profile declares the capability.
func (p *Profile) Has(c Capability) bool {
	return p.Capabilities[c]
}

// FileName returns the export file name for a section, falling back to the
// section name itself.
func (p *Profile) FileName(section string) string {
	if name, ok := p.SectionFiles[section]; ok {
		return name
	}
	return section
}

// Registry is a fixed mapping from target kind to profile. It is immutable
// after construction and safe for concurrent use.
type Registry struct {
	profiles map[models.TargetKind]*Profile
	defaults models.TargetKind
}

// NewRegistry builds a registry from the given profiles. The first profile
// becomes the default target kind.
func NewRegistry(profiles ...Profile) (*Registry, error) {
	if len(profiles) == 0 {
		return nil, fmt.Errorf("registry requires at least one profile")
	}
	r := &Registry{
		profiles: make(map[models.TargetKind]*Profile, len(profiles)),
		defaults: profiles[0].Kind,
	}
	for i := range profiles {
		p := profiles[i]
		if p.Kind == "" {
			return nil, fmt.Errorf("profile %d has empty target kind", i)
		}
		if len(p.Sections) == 0 {
			return nil, fmt.Errorf("profile %q has no sections", p.Kind)
		}
		if p.DefaultSection == "" {
			p.DefaultSection = p.Sections[0]
		}
		if !p.ValidSection(p.DefaultSection) {
			return nil, fmt.Errorf("profile %q default section %q is not in its section set", p.Kind, p.DefaultSection)
		}
		if _, dup := r.profiles[p.Kind]; dup {
			return nil, fmt.Errorf("duplicate profile for target kind %q", p.Kind)
		}
		r.profiles[p.Kind] = &p
	}
	return r, nil
}

// Default returns the registry's default target kind.
func (r *Registry) Default() models.TargetKind {
	return r.defaults
}

// Lookup returns the profile for the given kind.
func (r *Registry) Lookup(kind models.TargetKind) (*Profile, error) {
	p, ok := r.profiles[kind]
	if !ok {
		return nil, fmt.Errorf("unknown target kind %q", kind)
	}
	return p, nil
}

// Known reports whether the kind is registered.
func (r *Registry) Known(kind models.TargetKind) bool {
	_, ok := r.profiles[kind]
	return ok
}

// Has reports whether the kind is registered and declares the capability.
func (r *Registry) Has(kind models.TargetKind, c Capability) bool {
	p, ok := r.profiles[kind]
	return ok && p.Has(c)
}

// BuiltIn returns the registry with the two shipped target profiles: the
// classical CMS component model and the static-site block model.
func BuiltIn() *Registry {
	r, err := NewRegistry(
		Profile{
			Kind:           models.TargetCMS,
			Sections:       []string{"HTML", "Sling Model", "Dialog"},
			DefaultSection: "HTML",
			Capabilities: map[Capability]bool{
				CapabilityBuild:       true,
				CapabilityPreview:     true,
				CapabilityRefine:      true,
				CapabilityDownload:    true,
				CapabilityAutoInstall: true,
			},
			SectionFiles: map[string]string{
				"HTML":        "component.html",
				"Sling Model": "ComponentModel.java",
				"Dialog":      ".content.xml",
			},
		},
		Profile{
			Kind:           models.TargetStaticBlock,
			Sections:       []string{"css", "js", "mkd_table"},
			DefaultSection: "css",
			Capabilities: map[Capability]bool{
				CapabilityPreview:  true,
				CapabilityRefine:   true,
				CapabilityGitPush:  true,
				CapabilityDownload: true,
			},
			SectionFiles: map[string]string{
				"css":       "block.css",
				"js":        "block.js",
				"mkd_table": "block.md",
			},
		},
	)
	if err != nil {
		// Built-in profiles are validated by tests; this is unreachable.
		panic(err)
	}
	return r
}
