package agent

// Gateway is the runtime host an agent connects through. Wake signals are
// delivered over its websocket URL.
type Gateway struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	Name           string `json:"name"`
	URL            string `json:"url"`
	Token          string `json:"-"`
}
