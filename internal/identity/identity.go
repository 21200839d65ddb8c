// Package identity carries the authenticated caller through a request.
package identity

import "github.com/gin-gonic/gin"

const contextKey = "identity"

// Identity is the caller resolved from a session token.
type Identity struct {
	CompanyID    string `json:"companyId"`
	Slug         string `json:"slug"`
	Name         string `json:"name"`
	AuthProvider string `json:"authProvider"`
	Role         string `json:"role"`
}

// IsAdmin reports whether the caller has the administrator role.
func (i Identity) IsAdmin() bool {
	return i.Role == "admin"
}

// Set stores the caller on the request context.
func Set(c *gin.Context, id Identity) {
	c.Set(contextKey, id)
}

// FromContext returns the caller stored by the auth middleware.
func FromContext(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(contextKey)
	if !ok {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}
