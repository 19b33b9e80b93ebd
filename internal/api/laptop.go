package api

import (
	"net/http"

	"github.com/hyperb1iss/uchroma/internal/device"
	"github.com/hyperb1iss/uchroma/internal/manager"
)

func (s *Server) handleFanAuto(w http.ResponseWriter, _ *http.Request, dev *manager.Device) {
	if err := dev.Driver.SetFanAuto(); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleFanRPM(w http.ResponseWriter, r *http.Request, dev *manager.Device) {
	var body struct {
		RPM1 int  `json:"rpm1"`
		RPM2 *int `json:"rpm2,omitempty"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	override, err := dev.Driver.SetFanRPM(body.RPM1, body.RPM2)
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := map[string]any{"ok": true}
	if override {
		resp["warning"] = "thermal override active"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetFan(w http.ResponseWriter, _ *http.Request, dev *manager.Device) {
	status, err := dev.Driver.GetFanRPM()
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := map[string]any{"rpm1": status.RPM1}
	if status.RPM2 != nil {
		resp["rpm2"] = *status.RPM2
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSetPowerMode(w http.ResponseWriter, r *http.Request, dev *manager.Device) {
	var body struct {
		Mode string `json:"mode"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	mode, err := device.ParsePowerMode(body.Mode)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := dev.Driver.SetPowerMode(mode); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mode": mode.String()})
}

func (s *Server) handleTemperatures(w http.ResponseWriter, _ *http.Request, dev *manager.Device) {
	temps, err := dev.Driver.GetTemperatures()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"temperatures": temps})
}
