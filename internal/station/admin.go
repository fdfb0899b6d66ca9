package station

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"tailscale.com/tsweb"

	"github.com/banshee-data/groundlink/internal/control"
	"github.com/banshee-data/groundlink/internal/httputil"
	"github.com/banshee-data/groundlink/internal/link"
	"github.com/banshee-data/groundlink/internal/session"
)

// AttachAdminRoutes mounts status, telemetry and a command endpoint under
// tsweb's /debug/ handler.
func (s *Station) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("station", "Link, control and recorder status (JSON)", func(w http.ResponseWriter, r *http.Request) {
		httputil.OK(w, s.Status())
	})
	debug.HandleFunc("telemetry", "Telemetry snapshot (JSON)", func(w http.ResponseWriter, r *http.Request) {
		httputil.OK(w, s.Snapshot())
	})
	debug.HandleFunc("local-sessions", "Session directories on disk, newest first (JSON)", func(w http.ResponseWriter, r *http.Request) {
		names, err := s.recorder.Sessions()
		if err != nil {
			httputil.Fail(w, err)
			return
		}
		if names == nil {
			names = []string{}
		}
		httputil.OK(w, names)
	})
	debug.HandleSilentFunc("local-session", func(w http.ResponseWriter, r *http.Request) {
		info, err := s.recorder.ReadInfo(r.FormValue("name"))
		if errors.Is(err, session.ErrInvalidName) {
			err = httputil.WithStatus(http.StatusBadRequest, err)
		}
		if err != nil {
			httputil.Fail(w, err)
			return
		}
		httputil.OK(w, info)
	})

	// POST command=<name> plus the command's own form values.
	debug.HandleSilentFunc("station-command", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httputil.Failf(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			httputil.Failf(w, http.StatusBadRequest, "missing command")
			return
		}
		msg, err := s.runCommand(command, r)
		if err != nil {
			httputil.Fail(w, stateConflict(err))
			return
		}
		httputil.OK(w, map[string]string{"result": msg})
	})
}

func badForm(err error) error { return httputil.WithStatus(http.StatusBadRequest, err) }

// stateConflict tags errors caused by the vehicle or recorder being in the
// wrong state for the command.
func stateConflict(err error) error {
	for _, target := range []error{link.ErrNotConnected, ErrNotArmed, ErrArmed, ErrNoSavedParameters,
		session.ErrAlreadyRecording, session.ErrNotRecording} {
		if errors.Is(err, target) {
			return httputil.WithStatus(http.StatusConflict, err)
		}
	}
	return err
}

func formFloat(r *http.Request, key string) (float32, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(r.FormValue(key)), 32)
	if err != nil {
		return 0, badForm(fmt.Errorf("invalid %s: %w", key, err))
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, badForm(fmt.Errorf("invalid %s: %q is not a finite number", key, r.FormValue(key)))
	}
	return float32(v), nil
}

func (s *Station) runCommand(command string, r *http.Request) (string, error) {
	switch command {
	case "connect":
		port := 0
		if p := r.FormValue("port"); p != "" {
			n, err := strconv.Atoi(p)
			if err != nil {
				return "", badForm(fmt.Errorf("invalid port: %w", err))
			}
			port = n
		}
		s.Connect(port)
		return "connecting", nil
	case "disconnect":
		s.Disconnect()
		return "disconnected", nil
	case "arm":
		return "arm sent", s.Arm()
	case "disarm":
		return "disarm sent", s.Disarm()
	case "takeoff":
		return "takeoff sent", s.Takeoff()
	case "calibrate-imu":
		return "imu calibration sent", s.CalibrateIMU()
	case "calibrate-baro":
		return "baro calibration sent", s.CalibrateBaro()
	case "request-parameters":
		return "parameter list requested", s.RequestParameters()
	case "set-parameter":
		id := strings.TrimSpace(r.FormValue("id"))
		if id == "" {
			return "", badForm(errors.New("missing id"))
		}
		v, err := formFloat(r, "value")
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("set %s=%g", id, v), s.SetParameter(id, v)
	case "replay-parameters":
		n, err := s.ReplayLastSessionParameters()
		return fmt.Sprintf("replayed %d parameters", n), err
	case "start-recording":
		return "recording", s.StartRecording()
	case "stop-recording":
		info, err := s.StopRecording()
		if info == nil {
			return "", err
		}
		return fmt.Sprintf("stopped %s", info.Name), err
	case "throttle-mode":
		m, err := control.ParseThrottleMode(r.FormValue("mode"))
		if err != nil {
			return "", badForm(err)
		}
		s.SetThrottleMode(m)
		return "throttle mode " + m.String(), nil
	case "axis":
		var v [4]float32
		for i, key := range []string{"roll", "pitch", "yaw", "throttle"} {
			f, err := formFloat(r, key)
			if err != nil {
				return "", err
			}
			v[i] = f
		}
		s.SetAxisInput(v[0], v[1], v[2], v[3])
		return "ok", nil
	}
	return "", badForm(fmt.Errorf("unknown command %q", command))
}
