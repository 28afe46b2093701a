package api

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strconv"

	"github.com/micro-nova/statekit/internal/filecodec"
)

// decodeRequest is the POST /api/decode body.
type decodeRequest struct {
	Text     string `json:"text"`
	Filename string `json:"filename"`
	MIMEType string `json:"mime_type"`
}

// encodeResponse is the POST /api/encode reply.
type encodeResponse struct {
	filecodec.EncodedFile
	State filecodec.State `json:"state"`
}

func (h *Handlers) encodeFile(w http.ResponseWriter, r *http.Request) {
	if !h.limiter.Allow() {
		writeError(w, ErrRateLimited)
		return
	}
	if r.ContentLength > h.maxUpload {
		writeError(w, ErrTooLarge("upload exceeds "+strconv.FormatInt(h.maxUpload, 10)+" bytes"))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, ErrTooLarge("upload exceeds "+strconv.FormatInt(h.maxUpload, 10)+" bytes"))
			return
		}
		writeError(w, ErrBadRequest("invalid multipart form: "+err.Error()))
		return
	}
	defer r.MultipartForm.RemoveAll()

	fhs := r.MultipartForm.File["file"]
	if len(fhs) == 0 {
		writeError(w, ErrBadRequest("missing file field"))
		return
	}
	f, err := h.codec.EncodeFile(r.Context(), filecodec.NewMultipartSource(fhs[0]))
	if err != nil {
		writeError(w, ErrInternal(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, encodeResponse{EncodedFile: f, State: h.codec.State()})
}

func (h *Handlers) decodeFile(w http.ResponseWriter, r *http.Request) {
	var req decodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, ErrBadRequest("invalid JSON: "+err.Error()))
		return
	}
	if req.Filename == "" {
		writeError(w, ErrBadRequest("filename is required"))
		return
	}
	mt := req.MIMEType
	if mt == "" {
		if embedded, _, err := filecodec.ParseDataURL(req.Text); err == nil {
			mt = embedded
		} else {
			mt = filecodec.DefaultMIMEType
		}
	}
	f, err := h.codec.DecodeToFile(req.Text, req.Filename, mt)
	if err != nil {
		writeError(w, ErrBadRequest(err.Error()))
		return
	}
	w.Header().Set("Content-Type", f.Type)
	w.Header().Set("Content-Length", strconv.Itoa(f.Size()))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": f.Name}))
	w.WriteHeader(http.StatusOK)
	_, _ = f.WriteTo(w)
}

func (h *Handlers) codecState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.codec.State())
}
