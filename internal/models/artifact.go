package models

import (
	"time"
)

// TargetKind identifies which platform's code shape an artifact carries.
type TargetKind string

const (
	// TargetCMS is the classical CMS component model (HTL template,
	// Sling model, authoring dialog).
	TargetCMS TargetKind = "cms"
	// TargetStaticBlock is the static-site block model (css/js plus a
	// markdown table describing the block structure).
	TargetStaticBlock TargetKind = "static-block"
)

// CodeBundle maps a section name to its source text. The set of valid
// section names for a bundle is owned by the target profile registry,
// not by the bundle itself.
type CodeBundle map[string]string

// Clone returns an independent copy of the bundle.
func (b CodeBundle) Clone() CodeBundle {
	if b == nil {
		return nil
	}
	out := make(CodeBundle, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Artifact is one generated component/block. Target is immutable after
// creation; Bundle is only ever replaced wholesale (a refinement returns a
// complete new bundle, never a partial patch).
type Artifact struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Target    TargetKind `json:"target"`
	Bundle    CodeBundle `json:"bundle"`
	CreatedAt time.Time  `json:"created_at"`
}

// Clone returns a deep copy of the artifact.
func (a Artifact) Clone() Artifact {
	out := a
	out.Bundle = a.Bundle.Clone()
	return out
}
