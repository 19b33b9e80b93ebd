package api

import (
	"encoding/base64"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hyperb1iss/uchroma/internal/manager"
	"github.com/hyperb1iss/uchroma/internal/prefs"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

const wsWriteWindow = 200 * time.Millisecond

// handleEventsWS streams lifecycle and property-change events.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	sub := s.mgr.Events().Subscribe()

	// drain client reads so pings and close frames are processed
	go func() {
		defer sub.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer conn.Close()
	for ev := range sub.Events() {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWindow))
		if err := conn.WriteJSON(ev); err != nil {
			s.log.Debug().Err(err).Msg("event write failed")
			return
		}
	}
}

type wsFrame struct {
	T      int64  `json:"t"`
	Seq    uint64 `json:"seq"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	RGB    string `json:"rgb"`
}

// handleFramesWS streams composed frames for live preview, throttled to
// the configured preview rate.
func (s *Server) handleFramesWS(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.mgr.Get(r.PathValue("id"))
	if !ok || dev.Driver.Frame() == nil {
		http.NotFound(w, r)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	fps := s.cfg.LivePreviewFPS
	if fps < 1 {
		fps = 1
	}
	tick := time.NewTicker(time.Second / time.Duration(fps))
	defer tick.Stop()

	lastSeq := uint64(0)
	for {
		select {
		case <-closed:
			return
		case <-tick.C:
		}

		width, height, rgb, seq, at := dev.Driver.Frame().Snapshot()
		if seq == lastSeq {
			continue
		}
		lastSeq = seq

		conn.SetWriteDeadline(time.Now().Add(wsWriteWindow))
		err := conn.WriteJSON(wsFrame{
			T:      at.UnixNano(),
			Seq:    seq,
			Width:  width,
			Height: height,
			RGB:    base64.StdEncoding.EncodeToString(rgb),
		})
		if err != nil {
			s.log.Debug().Err(err).Msg("frame write failed")
			return
		}
	}
}

// profile endpoints

func (s *Server) handleListProfiles(w http.ResponseWriter, _ *http.Request, dev *manager.Device) {
	writeJSON(w, http.StatusOK, map[string]any{
		"profiles": s.prefs.Profiles(dev.Driver.GetSerial()),
	})
}

func (s *Server) handleSaveProfile(w http.ResponseWriter, r *http.Request, dev *manager.Device) {
	var body struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	p := s.prefs.SaveProfile(dev.Driver.GetSerial(), body.Name)
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleRestoreProfile(w http.ResponseWriter, r *http.Request, dev *manager.Device) {
	var body struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	rec, ok := s.prefs.RestoreProfile(dev.Driver.GetSerial(), body.Name)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "NotFound", Reason: "no such profile"})
		return
	}
	s.applyRecord(dev, rec)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// applyRecord replays a restored record onto the live device.
func (s *Server) applyRecord(dev *manager.Device, rec prefs.Record) {
	if rec.Brightness > 0 {
		_ = dev.Driver.SetBrightness(rec.Brightness)
	}
	if dev.Loop != nil {
		_ = withDeadline(func() error {
			for _, info := range dev.Loop.Layers() {
				_ = dev.Loop.RemoveRenderer(info.ZIndex)
			}
			for _, layer := range rec.Layers {
				z := layer.ZIndex
				_, _ = dev.Loop.AddRenderer(layer.Renderer, &z, layer.Traits)
			}
			return nil
		})
	}
}

func (s *Server) handleDebugEffects(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"renderers": s.mgr.Registry().Names(),
	})
}
