package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/graph-memory-service/internal/jsonx"
	"github.com/graph-memory-service/internal/memerr"
)

type addTextRequest struct {
	Text              string `json:"text" validate:"required"`
	UserID            string `json:"user_id"`
	Category          string `json:"category" validate:"required"`
	SourceDescription string `json:"source_description"`
}

type ragRequest struct {
	Question string `json:"question" validate:"required"`
	UserID   string `json:"user_id"`
	Category string `json:"category" validate:"required"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAddText(w http.ResponseWriter, r *http.Request) {
	var req addTextRequest
	if err := jsonx.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	userID, err := s.resolveUserID(r, req.UserID)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	res, err := s.svc.AddKnowledge(r.Context(), req.Text, userID, req.Category, req.SourceDescription)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	// A failed pipeline is still a well-formed response; success=false
	// carries the sanitized reason.
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAddUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "malformed multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxUploadBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading upload")
		return
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
		return
	}

	category := r.FormValue("category")
	if category == "" {
		writeError(w, http.StatusBadRequest, "category is required")
		return
	}
	userID, err := s.resolveUserID(r, r.FormValue("user_id"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	contentType := header.Header.Get("Content-Type")
	res, err := s.svc.AddFromDocument(r.Context(), data, contentType, header.Filename,
		userID, category, r.FormValue("source_description"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRAG(w http.ResponseWriter, r *http.Request) {
	var req ragRequest
	if err := jsonx.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	userID, err := s.resolveUserID(r, req.UserID)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	ans, err := s.svc.Answer(r.Context(), req.Question, userID, req.Category)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ans)
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	category := q.Get("category")
	if category == "" {
		writeError(w, http.StatusBadRequest, "category is required")
		return
	}
	userID, err := s.resolveUserID(r, q.Get("user_id"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	episodes, err := s.svc.RecentEpisodes(r.Context(), userID, category)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"episodes": episodes})
}

func (s *Server) handleVisualize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	category := q.Get("category")
	if category == "" {
		writeError(w, http.StatusBadRequest, "category is required")
		return
	}
	userID, err := s.resolveUserID(r, q.Get("user_id"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	view, err := s.svc.RenderGraph(r.Context(), userID, category)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// writeFailure maps the error taxonomy onto HTTP statuses. Validation
// failures are the caller's fault; an unsupported upload type gets the
// dedicated status. Everything upstream is a bad gateway.
func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	var verr *memerr.ValidationError
	switch {
	case errors.As(err, &verr):
		status := http.StatusBadRequest
		if verr.Field == "content_type" {
			status = http.StatusUnsupportedMediaType
		}
		writeError(w, status, memerr.Sanitize(err))
	case memerr.IsUpstream(err):
		s.logger.Error("upstream failure", zap.Error(err))
		writeError(w, http.StatusBadGateway, memerr.Sanitize(err))
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, memerr.Sanitize(err))
	}
}

func validationMessage(err error) string {
	if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
		return "missing or invalid field: " + errs[0].Field()
	}
	return "invalid request"
}

// writeJSON marshals before touching the ResponseWriter so an encoding
// failure can still change the status line.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := jsonx.Marshal(v)
	if err != nil {
		data = []byte(`{"error":"response encoding failed"}`)
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
