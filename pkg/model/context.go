package model

// Context carries request-scoped metadata attached to a transaction:
// the authenticated user, indexed tags, and free-form custom fields.
type Context struct {
	User   User
	Tags   map[string]string
	Custom map[string]any
}

// User identifies the principal behind the instrumented request.
type User struct {
	ID       string
	Username string
	Email    string
}

// SetTag records one tag, allocating the map on first use.
func (c *Context) SetTag(key, value string) {
	if c.Tags == nil {
		c.Tags = make(map[string]string)
	}
	c.Tags[key] = value
}

// SetCustom records one custom field, allocating the map on first use.
func (c *Context) SetCustom(key string, value any) {
	if c.Custom == nil {
		c.Custom = make(map[string]any)
	}
	c.Custom[key] = value
}
