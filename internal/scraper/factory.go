package scraper

import (
	"fmt"

	"github.com/nbarak/shekelbot/internal/model"
)

// Factory routes company types to their backends: Plaid accounts go to
// the native client, everything else to the bridge sidecar.
type Factory struct {
	Bridge Adapter
	Plaid  Adapter
}

// AdapterFor returns the adapter handling the given company type.
func (f *Factory) AdapterFor(company model.CompanyType) (Adapter, error) {
	if company == model.CompanyPlaid {
		if f.Plaid == nil {
			return nil, fmt.Errorf("plaid scraping is not configured")
		}
		return f.Plaid, nil
	}
	if f.Bridge == nil {
		return nil, fmt.Errorf("bridge scraping is not configured")
	}
	return f.Bridge, nil
}
