package hass

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/ormasoftchile/autodoctor/pkg/validate"
)

type serviceDomain struct {
	Domain   string                 `json:"domain"`
	Services map[string]serviceJSON `json:"services"`
}

type serviceJSON struct {
	Fields map[string]fieldJSON `json:"fields"`
	Target json.RawMessage      `json:"target"`
}

type fieldJSON struct {
	Required bool           `json:"required"`
	Selector map[string]any `json:"selector"`
	// Sections nest fields one level (advanced options).
	Fields map[string]fieldJSON `json:"fields"`
}

// Services is the service catalog of GET /api/services.
type Services struct {
	specs    map[string]validate.ServiceSpec
	byDomain map[string][]string
}

// LoadServices reads a catalog from path.
func LoadServices(path string) (*Services, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open services: %w", err)
	}
	defer f.Close()
	s, err := ParseServices(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// ParseServices decodes a catalog.
func ParseServices(r io.Reader) (*Services, error) {
	var domains []serviceDomain
	if err := json.NewDecoder(r).Decode(&domains); err != nil {
		return nil, fmt.Errorf("decode services: %w", err)
	}
	s := &Services{
		specs:    map[string]validate.ServiceSpec{},
		byDomain: map[string][]string{},
	}
	for _, d := range domains {
		for name, svc := range d.Services {
			full := d.Domain + "." + name
			spec := validate.ServiceSpec{
				Fields: map[string]validate.ServiceField{},
				Target: len(svc.Target) > 0 && string(svc.Target) != "null",
			}
			flattenFields(svc.Fields, spec.Fields)
			s.specs[full] = spec
			s.byDomain[d.Domain] = append(s.byDomain[d.Domain], full)
		}
		sort.Strings(s.byDomain[d.Domain])
	}
	return s, nil
}

func flattenFields(in map[string]fieldJSON, out map[string]validate.ServiceField) {
	for name, f := range in {
		if len(f.Fields) > 0 && f.Selector == nil {
			flattenFields(f.Fields, out)
			continue
		}
		out[name] = validate.ServiceField{Required: f.Required, Selector: f.Selector}
	}
}

// Service returns the spec of "domain.service".
func (s *Services) Service(name string) (validate.ServiceSpec, bool) {
	spec, ok := s.specs[name]
	return spec, ok
}

// Services lists the services of domain.
func (s *Services) Services(domain string) []string {
	return s.byDomain[domain]
}
