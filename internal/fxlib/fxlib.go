// Package fxlib holds the built-in software renderers. The set is closed
// at build time; RegisterAll installs every renderer into a registry at
// daemon startup.
package fxlib

import "github.com/hyperb1iss/uchroma/internal/anim"

// RegisterAll installs the built-in renderers.
func RegisterAll(reg *anim.Registry) {
	reg.Register(func() anim.Renderer { return newPlasma() })
	reg.Register(func() anim.Renderer { return newRipple() })
	reg.Register(func() anim.Renderer { return newRainbow() })
	reg.Register(func() anim.Renderer { return newWipe() })
}
