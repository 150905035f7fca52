package domain

// Appointment is a booked visit for a patient. Date and Time are kept as the
// client sent them (ISO date, "HH:MM").
type Appointment struct {
	ID        int64  `json:"id"`
	PatientID int64  `json:"patient_id"`
	Date      string `json:"date"`
	Time      string `json:"time"`
	Reason    string `json:"reason"`
}
