package models

// Appointment is one scheduled visit shown on the dashboard calendar.
type Appointment struct {
	ID       int64  `json:"id"`
	Patient  string `json:"patient"`
	Time     string `json:"time"`
	Type     string `json:"type"`
	Duration string `json:"duration"`
	Status   string `json:"status"`
}

// AppointmentCreateRequest is the POST /appointments body. Type, duration
// and status fall back to Consultation / 30 min / confirmed.
type AppointmentCreateRequest struct {
	Patient  string `json:"patient"`
	Time     string `json:"time"`
	Type     string `json:"type,omitempty"`
	Duration string `json:"duration,omitempty"`
	Status   string `json:"status,omitempty"`
}

// ApplyDefaults fills the optional fields the dashboard leaves blank.
func (r *AppointmentCreateRequest) ApplyDefaults() {
	if r.Type == "" {
		r.Type = "Consultation"
	}
	if r.Duration == "" {
		r.Duration = "30 min"
	}
	if r.Status == "" {
		r.Status = "confirmed"
	}
}
