package capabilities

import "github.com/rendis/autoflow/internal/expressions"

// RegisterBuiltins registers the capabilities shipped with the engine.
func RegisterBuiltins(reg *Registry, httpCfg HTTPConfig) error {
	all := []Capability{
		NewHTTPRequest(httpCfg),
		NewJQTransform(expressions.NewGoJQEngine()),
		NewExprTransform(expressions.NewExprEngine()),
	}
	all = append(all, CryptoCapabilities()...)
	for _, c := range all {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
