//
// Copyright (C) 2026 Kianax.  All rights reserved.
//
// kianax-engine is licensed under the Apache License Version 2.0.
//
//

package builtin

import "github.com/kianax/engine/plugin"

// RegisterAll registers every bundled plugin with the registry.
func RegisterAll(reg *plugin.Registry) error {
	plugins := []plugin.Plugin{
		NewHTTPRequest(),
		NewIfElse(),
		NewAITransform(),
		NewEmail(),
	}
	for _, p := range plugins {
		if err := reg.Register(p); err != nil {
			return err
		}
	}
	return nil
}
