package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-live-detect/capture"
	"github.com/nvr-ai/go-live-detect/images"
	"github.com/nvr-ai/go-live-detect/inference"
	"github.com/nvr-ai/go-live-detect/models"
	"github.com/nvr-ai/go-live-detect/models/postprocess"
	"github.com/nvr-ai/go-live-detect/pipeline"
	"github.com/nvr-ai/go-live-detect/render"
	"github.com/nvr-ai/go-live-detect/session"
)

type errorJSON struct {
	Error string `json:"error"`
}

func sendJSON(w http.ResponseWriter, code int, obj any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(obj)
}

func sendError(w http.ResponseWriter, code int, err error) {
	sendJSON(w, code, errorJSON{Error: err.Error()})
}

// statusOf maps session and pipeline errors onto HTTP status codes.
func statusOf(err error) int {
	var loadErr *models.ModelLoadError
	switch {
	case errors.Is(err, session.ErrNoModel), errors.Is(err, session.ErrModelLoading):
		return http.StatusConflict
	case errors.Is(err, session.ErrNoSource):
		return http.StatusNotFound
	case inference.IsShapeError(err):
		return http.StatusUnprocessableEntity
	case errors.As(err, &loadErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// loadingJSON is the wire form of session.LoadingState.
type loadingJSON struct {
	ModelID    string          `json:"modelId"`
	Loading    bool            `json:"loading"`
	Progress   float64         `json:"progress"`
	InputShape inference.Shape `json:"inputShape,omitempty"`
	Status     string          `json:"status"`
	Error      string          `json:"error,omitempty"`
}

func toLoadingJSON(st session.LoadingState) loadingJSON {
	out := loadingJSON{
		ModelID:    st.ModelID,
		Loading:    st.Loading,
		Progress:   st.Progress,
		InputShape: st.InputShape,
		Status:     st.String(),
	}
	if st.Err != nil {
		out.Error = st.Err.Error()
	}
	return out
}

func (s *Server) httpListModels(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	sendJSON(w, http.StatusOK, s.sess.Models())
}

func (s *Server) httpSelectModel(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	id := params.ByName("id")
	// The load outlives the request.
	if err := s.sess.SelectModel(s.loopCtx, id); err != nil {
		sendError(w, http.StatusBadRequest, err)
		return
	}
	s.logger.Infow("model selected", "model", id)
	sendJSON(w, http.StatusAccepted, toLoadingJSON(s.sess.Loading()))
}

func (s *Server) httpCurrentModel(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	sendJSON(w, http.StatusOK, toLoadingJSON(s.sess.Loading()))
}

func (s *Server) httpResetModel(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := s.sess.ResetModel(); err != nil {
		sendError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// detectJSON is the response of POST /api/detect.
type detectJSON struct {
	Model      string                  `json:"model"`
	Width      int                     `json:"width"`
	Height     int                     `json:"height"`
	Detections []postprocess.Detection `json:"detections"`
	Timings    pipeline.Timings        `json:"timings"`
}

func (s *Server) httpDetect(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	frame, err := images.Decode(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		sendError(w, http.StatusBadRequest, err)
		return
	}

	res, err := s.sess.Detect(r.Context(), frame)
	if err != nil {
		s.logger.Warnw("detect failed", "error", err)
		sendError(w, statusOf(err), err)
		return
	}

	if format := images.ImageFormat(r.URL.Query().Get("format")); format != "" {
		var buf bytes.Buffer
		if err := images.Encode(&buf, render.Compose(frame, res.Overlay), format); err != nil {
			sendError(w, http.StatusBadRequest, err)
			return
		}
		w.Header().Set("Content-Type", format.ContentType())
		_, _ = w.Write(buf.Bytes())
		return
	}

	out := detectJSON{
		Width:      res.FrameSize.X,
		Height:     res.FrameSize.Y,
		Detections: append([]postprocess.Detection{}, res.Detections...),
		Timings:    res.Timings,
	}
	if m := s.sess.Model(); m != nil {
		out.Model = m.ID()
	}
	sendJSON(w, http.StatusOK, out)
}

func (s *Server) httpStats(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.profiler == nil {
		sendError(w, http.StatusNotFound, errors.New("profiler disabled"))
		return
	}
	sendJSON(w, http.StatusOK, s.profiler.Snapshot())
}

func (s *Server) httpStopStream(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.sess.Stop()
	w.WriteHeader(http.StatusNoContent)
}

func parseStreamKind(v string) (capture.Kind, error) {
	switch k := capture.Kind(v); k {
	case capture.KindCamera, capture.KindVideo, capture.KindImageSequence:
		return k, nil
	}
	return "", errors.Errorf("invalid source %q, expected camera, video or sequence", v)
}

// httpStream upgrades to a websocket and streams the cycles of one source.
// The source's loop is started when it is not already the active one. Every
// cycle is a JSON text message followed by a JPEG binary message of the frame
// with its overlay.
func (s *Server) httpStream(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	kind, err := parseStreamKind(r.URL.Query().Get("source"))
	if err != nil {
		sendError(w, http.StatusBadRequest, err)
		return
	}
	if s.sess.Source(kind) == nil {
		sendError(w, http.StatusNotFound, errors.Wrapf(session.ErrNoSource, "%s", kind))
		return
	}
	if s.sess.Model() == nil {
		sendError(w, http.StatusConflict, session.ErrNoModel)
		return
	}

	packets, unsubscribe := s.hub.Subscribe(kind)
	defer unsubscribe()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	log := s.logger.With("source", kind, "remote", r.RemoteAddr)
	log.Infow("stream client connected")
	defer log.Infow("stream client disconnected")

	if s.sess.Active() != kind {
		if err := s.sess.Play(s.loopCtx, kind); err != nil {
			log.Warnw("play failed", "error", err)
			msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error())
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
			return
		}
	}

	// Reads only detect the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	var buf bytes.Buffer
	for {
		select {
		case <-gone:
			return
		case <-s.loopCtx.Done():
			return
		case pkt, ok := <-packets:
			if !ok {
				return
			}
			if err := s.writePacket(conn, &buf, pkt); err != nil {
				log.Infow("stream write failed", "error", err)
				return
			}
		}
	}
}

func (s *Server) writePacket(conn *websocket.Conn, buf *bytes.Buffer, pkt Packet) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	if err := conn.WriteJSON(pkt.Message); err != nil {
		return err
	}
	if pkt.Image == nil {
		return nil
	}
	buf.Reset()
	if err := images.Encode(buf, pkt.Image, images.FormatJPEG); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.BinaryMessage, buf.Bytes())
}
