package dto

// TechnicianRequest creates or updates a roster entry.
type TechnicianRequest struct {
	Name               string   `json:"name"`
	Email              string   `json:"email"`
	Skills             []string `json:"skills"`
	MaxAssignedTickets int      `json:"max_assigned_tickets"`
	Active             *bool    `json:"active"`
}

// TechnicianResponse is a roster row.
type TechnicianResponse struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	Email              string   `json:"email,omitempty"`
	Active             bool     `json:"active"`
	Skills             []string `json:"skills"`
	MaxAssignedTickets int      `json:"max_assigned_tickets"`
	Load               *int     `json:"active_load,omitempty"`
}
