// Package tenants models the companies the authenticated user may act on
// behalf of.
package tenants

// Tenant is one company. The backend returns the full list the user may act
// as; at most one of them is current at a time.
type Tenant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Code string `json:"code"`
}

// Find returns the tenant with the given id from list, if present.
func Find(list []Tenant, id string) (Tenant, bool) {
	for _, t := range list {
		if t.ID == id {
			return t, true
		}
	}
	return Tenant{}, false
}
