// builds.go — обработчики /api/v1/builds.
// Десериализация запросов, вызов service, сериализация ответов.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/build-share/internal/api/errors"
	"github.com/bigkaa/goartstore/build-share/internal/domain/model"
	"github.com/bigkaa/goartstore/build-share/internal/service"
)

// createBuildRequest — тело POST /api/v1/builds.
type createBuildRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Archetype   string  `json:"archetype"`
	Primary     string  `json:"primary"`
	Secondary   string  `json:"secondary"`
	BuildData   string  `json:"buildData"`
	ImageData   string  `json:"imageData"`
}

// updateBuildRequest — тело PATCH /api/v1/builds/{code}.
type updateBuildRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Primary     *string `json:"primary"`
	Secondary   *string `json:"secondary"`
	BuildData   string  `json:"buildData"`
	ImageData   string  `json:"imageData"`
}

// buildResultResponse — ответ create/update.
type buildResultResponse struct {
	Shortcode   string    `json:"shortcode"`
	DownloadURL string    `json:"downloadUrl"`
	ImageURL    string    `json:"imageUrl"`
	SchemaURL   string    `json:"schemaUrl"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// buildResponse — метаданные сборки без сжатых данных.
type buildResponse struct {
	Shortcode   string    `json:"shortcode"`
	Name        *string   `json:"name,omitempty"`
	Description *string   `json:"description,omitempty"`
	Archetype   string    `json:"archetype,omitempty"`
	Primary     string    `json:"primary,omitempty"`
	Secondary   string    `json:"secondary,omitempty"`
	Legacy      bool      `json:"legacy"`
	PageData    *string   `json:"pageData,omitempty"`
	CreatedAt   time.Time `json:"createdAt,omitzero"`
	UpdatedAt   time.Time `json:"updatedAt,omitzero"`
	ExpiresAt   time.Time `json:"expiresAt"`
	DownloadURL string    `json:"downloadUrl"`
	ImageURL    string    `json:"imageUrl"`
	SchemaURL   string    `json:"schemaUrl"`
}

// searchResponse — ответ поиска.
type searchResponse struct {
	Items []buildResponse `json:"items"`
	Count int             `json:"count"`
}

// CreateBuild — POST /api/v1/builds.
func (h *APIHandler) CreateBuild(w http.ResponseWriter, r *http.Request) {
	var req createBuildRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	res, err := h.builds.Create(r.Context(), model.CreateInput{
		Name:        req.Name,
		Description: req.Description,
		Archetype:   req.Archetype,
		Primary:     req.Primary,
		Secondary:   req.Secondary,
		BuildData:   req.BuildData,
		ImageData:   req.ImageData,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/v1/builds/"+res.Shortcode)
	writeJSON(w, http.StatusCreated, toResultResponse(res))
}

// UpdateBuild — PATCH /api/v1/builds/{code}.
func (h *APIHandler) UpdateBuild(w http.ResponseWriter, r *http.Request) {
	var req updateBuildRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	res, err := h.builds.Update(r.Context(), chi.URLParam(r, "code"), model.UpdateInput{
		Name:        req.Name,
		Description: req.Description,
		Primary:     req.Primary,
		Secondary:   req.Secondary,
		BuildData:   req.BuildData,
		ImageData:   req.ImageData,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toResultResponse(res))
}

// DeleteBuild — DELETE /api/v1/builds/{code}.
func (h *APIHandler) DeleteBuild(w http.ResponseWriter, r *http.Request) {
	if err := h.builds.Delete(r.Context(), chi.URLParam(r, "code")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetBuild — GET /api/v1/builds/{code}.
func (h *APIHandler) GetBuild(w http.ResponseWriter, r *http.Request) {
	rec, err := h.builds.Retrieve(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toBuildResponse(rec))
}

// HeadBuild — HEAD /api/v1/builds/{code}: 200, если сборка существует.
func (h *APIHandler) HeadBuild(w http.ResponseWriter, r *http.Request) {
	err := h.builds.Exists(r.Context(), chi.URLParam(r, "code"))
	w.WriteHeader(statusFor(err))
}

// DownloadBuild — GET /api/v1/builds/{code}/download: файл сборки.
func (h *APIHandler) DownloadBuild(w http.ResponseWriter, r *http.Request) {
	file, err := h.builds.GenerateFile(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", file.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": file.FileName}))
	w.Header().Set("Content-Length", strconv.Itoa(len(file.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(file.Data)
}

// GetBuildImage — GET /api/v1/builds/{code}/image.
func (h *APIHandler) GetBuildImage(w http.ResponseWriter, r *http.Request) {
	img, err := h.builds.Image(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", img.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img.Data)
}

// SearchBuilds — GET /api/v1/builds?q=Tanker,Fire.
func (h *APIHandler) SearchBuilds(w http.ResponseWriter, r *http.Request) {
	recs, err := h.builds.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := searchResponse{
		Items: make([]buildResponse, 0, len(recs)),
		Count: len(recs),
	}
	for _, rec := range recs {
		resp.Items = append(resp.Items, h.toBuildResponse(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Вспомогательные функции ---

// decodeBody читает JSON-тело с ограничением размера.
// При ошибке записывает ответ и возвращает false.
func (h *APIHandler) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if h.maxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apierrors.PayloadTooLarge(w, "Тело запроса превышает допустимый размер")
			return false
		}
		apierrors.ValidationError(w, "Некорректный JSON в теле запроса")
		return false
	}
	return true
}

// writeServiceError переводит ошибку сервисного слоя в HTTP-ответ.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, err.Error())
	case errors.Is(err, service.ErrConflict):
		apierrors.Conflict(w, err.Error())
	case errors.Is(err, service.ErrDataCorruption):
		apierrors.DataCorruption(w, err.Error())
	case errors.Is(err, service.ErrInfrastructure):
		h.logger.Error("Хранилище недоступно",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.ServiceUnavailable(w, "Хранилище временно недоступно")
	default:
		h.logger.Error("Внутренняя ошибка",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}

// statusFor — HTTP-статус для ответа без тела (HEAD).
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInfrastructure):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func toResultResponse(res *service.BuildResult) buildResultResponse {
	return buildResultResponse{
		Shortcode:   res.Shortcode,
		DownloadURL: res.DownloadURL,
		ImageURL:    res.ImageURL,
		SchemaURL:   res.SchemaURL,
		ExpiresAt:   res.ExpiresAt,
	}
}

func (h *APIHandler) toBuildResponse(rec *model.BuildRecord) buildResponse {
	l := h.builds.Links(rec.Shortcode)
	return buildResponse{
		Shortcode:   rec.Shortcode,
		Name:        rec.Name,
		Description: rec.Description,
		Archetype:   rec.Archetype,
		Primary:     rec.Primary,
		Secondary:   rec.Secondary,
		Legacy:      rec.IsLegacy(),
		PageData:    rec.PageData,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
		ExpiresAt:   rec.ExpiresAt,
		DownloadURL: l.DownloadURL,
		ImageURL:    l.ImageURL,
		SchemaURL:   l.SchemaURL,
	}
}
