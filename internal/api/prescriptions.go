package api

import (
	"net/http"
	"time"

	"github.com/ashureev/healthconnect/internal/domain"
	"github.com/go-chi/chi/v5"
)

// PrescriptionHandler handles prescription records.
type PrescriptionHandler struct {
	*Handler
	now func() time.Time
}

// NewPrescriptionHandler creates a new PrescriptionHandler.
func NewPrescriptionHandler(h *Handler) *PrescriptionHandler {
	return &PrescriptionHandler{Handler: h, now: time.Now}
}

// RegisterRoutes mounts the prescription routes under r.
func (h *PrescriptionHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/{patient_id}", h.ListForPatient)
}

type prescriptionRequest struct {
	PatientID   int64               `json:"patient_id"`
	DoctorID    int64               `json:"doctor_id"`
	Diagnosis   string              `json:"diagnosis"`
	Instruction string              `json:"instruction"`
	Medications []domain.Medication `json:"medications"`
}

type prescriptionCreated struct {
	Message        string `json:"message"`
	PrescriptionID int64  `json:"prescription_id"`
}

// Create records a prescription written by a doctor for a patient.
func (h *PrescriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req prescriptionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "Invalid payload: "+err.Error())
		return
	}
	if req.Medications == nil {
		Error(w, http.StatusBadRequest, "Invalid payload: medications is required")
		return
	}

	ctx := r.Context()
	patient, err := h.repo.GetUser(ctx, req.PatientID)
	if err != nil {
		h.logger.Error("Failed to look up patient", "error", err)
		Error(w, http.StatusInternalServerError, "Failed to create prescription")
		return
	}
	doctor, err := h.repo.GetUser(ctx, req.DoctorID)
	if err != nil {
		h.logger.Error("Failed to look up doctor", "error", err)
		Error(w, http.StatusInternalServerError, "Failed to create prescription")
		return
	}
	if !patient.HasRole(domain.RolePatient) || !doctor.HasRole(domain.RoleDoctor) {
		Error(w, http.StatusBadRequest, "Invalid patient or doctor ID")
		return
	}

	p := &domain.Prescription{
		PatientID:   req.PatientID,
		DoctorID:    req.DoctorID,
		Date:        h.now().UTC().Format("2006-01-02"),
		Diagnosis:   req.Diagnosis,
		Instruction: req.Instruction,
		Medications: req.Medications,
	}
	if err := h.repo.CreatePrescription(ctx, p); err != nil {
		h.logger.Error("Failed to create prescription", "error", err)
		Error(w, http.StatusInternalServerError, "Failed to create prescription")
		return
	}

	h.logger.Info("Prescription created", "prescription_id", p.ID, "patient_id", p.PatientID, "doctor_id", p.DoctorID)
	JSON(w, http.StatusOK, prescriptionCreated{Message: "Prescription created", PrescriptionID: p.ID})
}

// ListForPatient returns a patient's prescriptions.
func (h *PrescriptionHandler) ListForPatient(w http.ResponseWriter, r *http.Request) {
	patientID, err := pathID(r, "patient_id")
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	list, err := h.repo.ListPrescriptions(r.Context(), patientID)
	if err != nil {
		h.logger.Error("Failed to list prescriptions", "patient_id", patientID, "error", err)
		Error(w, http.StatusInternalServerError, "Failed to list prescriptions")
		return
	}
	if list == nil {
		list = []*domain.Prescription{}
	}
	JSON(w, http.StatusOK, list)
}
