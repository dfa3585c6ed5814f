// Package httpapi exposes a small JSON surface over the gateway: a health
// check, a device-probe endpoint, and a one-off message send. It mirrors
// the routing style of bakode-goatsms's dashboard server (gorilla/mux,
// JSON responses) narrowed to the routes
// the original Python service exposed (/healthz, /api/devices/probe,
// /api/messages).
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/Skunkworks-Digital/muxo/internal/msisdn"
	"github.com/Skunkworks-Digital/muxo/internal/pdu"
	"github.com/Skunkworks-Digital/muxo/internal/store"
)

// Sender is the narrow modem-facing capability a one-off send needs.
type Sender interface {
	Send(ctx context.Context, segments []pdu.Segment) ([]string, error)
}

// Server wires the store and live device sessions into an http.Handler.
type Server struct {
	Store         store.Store
	Senders       map[int64]Sender
	DefaultRegion string
	Log           *slog.Logger
}

// New constructs a Server. log may be nil.
func New(st store.Store, senders map[int64]Sender, defaultRegion string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{Store: st, Senders: senders, DefaultRegion: defaultRegion, Log: log}
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.StrictSlash(true)

	r.HandleFunc("/healthz", s.healthzHandler).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/devices/probe", s.probeDevicesHandler).Methods(http.MethodGet)
	api.HandleFunc("/messages", s.sendMessageHandler).Methods(http.MethodPost)

	return r
}

func (s *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

type statusResponse struct {
	Status string `json:"status"`
}

type deviceProbeEntry struct {
	ID     int64  `json:"id"`
	Port   string `json:"port"`
	Active bool   `json:"active"`
}

func (s *Server) probeDevicesHandler(w http.ResponseWriter, r *http.Request) {
	devices, err := s.Store.ListActiveDevices(r.Context())
	if err != nil {
		s.Log.Error("probing devices failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, statusResponse{Status: "error"})
		return
	}
	entries := make([]deviceProbeEntry, 0, len(devices))
	for _, d := range devices {
		entries = append(entries, deviceProbeEntry{ID: d.ID, Port: d.Port, Active: d.Active})
	}
	writeJSON(w, http.StatusOK, entries)
}

type sendMessageRequest struct {
	MSISDN   string `json:"msisdn"`
	Text     string `json:"text"`
	DeviceID int64  `json:"device_id"`
}

type sendMessageResponse struct {
	Status    string   `json:"status"`
	RequestID string   `json:"request_id,omitempty"`
	Refs      []string `json:"refs,omitempty"`
	Error     string   `json:"error,omitempty"`
}

func (s *Server) sendMessageHandler(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, sendMessageResponse{Status: "error", Error: "malformed request body"})
		return
	}

	normalized, err := msisdn.Normalize(req.MSISDN, s.DefaultRegion)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, sendMessageResponse{Status: "error", Error: err.Error()})
		return
	}

	sender, ok := s.Senders[req.DeviceID]
	if !ok {
		writeJSON(w, http.StatusNotFound, sendMessageResponse{Status: "error", Error: "unknown or inactive device_id"})
		return
	}

	segments, err := pdu.Encode(normalized, req.Text)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, sendMessageResponse{Status: "error", Error: err.Error()})
		return
	}

	refs, err := sender.Send(r.Context(), segments)
	if err != nil {
		s.Log.Error("ad-hoc send failed", "msisdn", normalized, "device", req.DeviceID, "error", err)
		writeJSON(w, http.StatusBadGateway, sendMessageResponse{Status: "error", Error: err.Error()})
		return
	}

	contact, err := s.Store.UpsertContactByMSISDN(r.Context(), normalized)
	if err != nil {
		s.Log.Error("upserting contact for ad-hoc send failed", "msisdn", normalized, "error", err)
	} else {
		ref := ""
		if len(refs) > 0 {
			ref = refs[0]
		}
		if _, err := s.Store.RecordAttempt(r.Context(), store.Attempt{
			ContactID: contact.ID,
			DeviceID:  req.DeviceID,
			Text:      req.Text,
			Ref:       ref,
			Status:    store.StatusSent,
		}); err != nil {
			s.Log.Error("recording ad-hoc attempt failed", "msisdn", normalized, "error", err)
		}
	}

	s.Log.Info("ad-hoc message sent", "request_id", requestID, "msisdn", normalized, "device", req.DeviceID)
	writeJSON(w, http.StatusOK, sendMessageResponse{Status: "ok", RequestID: requestID, Refs: refs})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
