package deposition

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// NewEmulatorHandler serves the archive wire protocol on top of emu:
//
//	GET    /                                         connection check
//	GET    /deposit/depositions                      list
//	POST   /deposit/depositions                      create
//	GET    /deposit/depositions/{id}                 get
//	DELETE /deposit/depositions/{id}                 delete
//	POST   /deposit/depositions/{id}/files           upload (multipart)
//	POST   /deposit/depositions/{id}/actions/publish publish
func NewEmulatorHandler(emu *Emulator) http.Handler {
	h := &emulatorHandler{emu: emu}

	r := chi.NewRouter()
	r.Get("/", h.ping)
	r.Route("/deposit/depositions", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Get("/{id}", h.get)
		r.Delete("/{id}", h.delete)
		r.Post("/{id}/files", h.upload)
		r.Post("/{id}/actions/publish", h.publish)
	})
	return r
}

type emulatorHandler struct {
	emu *Emulator
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode emulator response", "error", err)
	}
}

func notFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, map[string]string{"message": "Deposition not found"})
}

func depositionID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		notFound(w)
		return 0, false
	}
	return id, true
}

func (h *emulatorHandler) ping(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "Connected to FakenodoAPI"})
}

func (h *emulatorHandler) list(w http.ResponseWriter, r *http.Request) {
	deps, err := h.emu.ListDepositions(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"depositions": deps})
}

func (h *emulatorHandler) create(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Metadata Metadata `json:"metadata"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Invalid JSON payload"})
		return
	}

	d, err := h.emu.CreateDeposition(r.Context(), payload.Metadata)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (h *emulatorHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := depositionID(w, r)
	if !ok {
		return
	}
	d, err := h.emu.GetDeposition(r.Context(), id)
	if err != nil {
		notFound(w)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *emulatorHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := depositionID(w, r)
	if !ok {
		return
	}
	if err := h.emu.DeleteDeposition(r.Context(), id); err != nil {
		notFound(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Deposition deleted"})
}

func (h *emulatorHandler) upload(w http.ResponseWriter, r *http.Request) {
	id, ok := depositionID(w, r)
	if !ok {
		return
	}

	filename := r.FormValue("filename")
	if filename == "" {
		filename = "unnamed_file"
	}
	var content io.Reader
	if f, _, err := r.FormFile("file"); err == nil {
		defer f.Close()
		content = f
	}

	res, err := h.emu.UploadFile(r.Context(), id, filename, content)
	if err != nil {
		if errors.Is(err, ErrDepositionNotFound) {
			notFound(w)
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *emulatorHandler) publish(w http.ResponseWriter, r *http.Request) {
	id, ok := depositionID(w, r)
	if !ok {
		return
	}
	res, err := h.emu.PublishDeposition(r.Context(), id)
	if err != nil {
		notFound(w)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}
