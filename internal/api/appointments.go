package api

import (
	"net/http"
	"strings"

	"github.com/ashureev/healthconnect/internal/domain"
	"github.com/go-chi/chi/v5"
)

// AppointmentHandler handles appointment booking.
type AppointmentHandler struct {
	*Handler
}

// NewAppointmentHandler creates a new AppointmentHandler.
func NewAppointmentHandler(h *Handler) *AppointmentHandler {
	return &AppointmentHandler{Handler: h}
}

// RegisterRoutes mounts the appointment routes under r.
func (h *AppointmentHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/patient/{patient_id}", h.ListForPatient)
}

type appointmentRequest struct {
	PatientID int64  `json:"patient_id"`
	Date      string `json:"date"`
	Time      string `json:"time"`
	Reason    string `json:"reason"`
}

// Create books an appointment for a patient.
func (h *AppointmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req appointmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "Invalid payload: "+err.Error())
		return
	}
	req.Date = strings.TrimSpace(req.Date)
	req.Time = strings.TrimSpace(req.Time)
	if err := requireFields([2]string{"date", req.Date}, [2]string{"time", req.Time}); err != nil {
		Error(w, http.StatusBadRequest, "Invalid payload: "+err.Error())
		return
	}

	ctx := r.Context()
	patient, err := h.repo.GetUser(ctx, req.PatientID)
	if err != nil {
		h.logger.Error("Failed to look up patient", "error", err)
		Error(w, http.StatusInternalServerError, "Failed to create appointment")
		return
	}
	if !patient.HasRole(domain.RolePatient) {
		Error(w, http.StatusBadRequest, "Invalid patient ID")
		return
	}

	appt := &domain.Appointment{
		PatientID: req.PatientID,
		Date:      req.Date,
		Time:      req.Time,
		Reason:    req.Reason,
	}
	if err := h.repo.CreateAppointment(ctx, appt); err != nil {
		h.logger.Error("Failed to create appointment", "error", err)
		Error(w, http.StatusInternalServerError, "Failed to create appointment")
		return
	}

	h.logger.Info("Appointment booked", "appointment_id", appt.ID, "patient_id", appt.PatientID)
	JSON(w, http.StatusOK, appt)
}

// ListForPatient returns a patient's appointments.
func (h *AppointmentHandler) ListForPatient(w http.ResponseWriter, r *http.Request) {
	patientID, err := pathID(r, "patient_id")
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	appts, err := h.repo.ListAppointments(r.Context(), patientID)
	if err != nil {
		h.logger.Error("Failed to list appointments", "patient_id", patientID, "error", err)
		Error(w, http.StatusInternalServerError, "Failed to list appointments")
		return
	}
	if appts == nil {
		appts = []*domain.Appointment{}
	}
	JSON(w, http.StatusOK, appts)
}
