package domain

// Medication is one free-form medication entry on a prescription.
type Medication map[string]any

// Prescription is a doctor-issued record for a patient.
type Prescription struct {
	ID          int64        `json:"id"`
	PatientID   int64        `json:"patient_id"`
	DoctorID    int64        `json:"doctor_id"`
	Date        string       `json:"date"`
	Diagnosis   string       `json:"diagnosis"`
	Instruction string       `json:"instruction"`
	Medications []Medication `json:"medications"`
}
