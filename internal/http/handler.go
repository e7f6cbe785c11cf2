package http

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"platewatch/internal/archive"
	"platewatch/internal/domain/anpr"
	"platewatch/internal/service"
)

const dateLayout = "2006-01-02"

type Handler struct {
	sightingService *service.SightingService
	log             zerolog.Logger
}

func NewHandler(sightingService *service.SightingService, log zerolog.Logger) *Handler {
	return &Handler{
		sightingService: sightingService,
		log:             log,
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	r.GET("/healthz", h.health)

	// Public endpoints
	public := r.Group("/api")
	{
		public.GET("/plates", h.listPlates)
		public.GET("/plates/export", h.exportPlates)
		public.PUT("/plates/:id", h.updatePlate)
		public.DELETE("/plates/:id", h.deletePlate)
		public.POST("/delete-multiple", h.deleteMultiple)
	}

	// Protected endpoints
	protected := r.Group("/api")
	protected.Use(authMiddleware)
	{
		protected.POST("/sightings", h.createSighting)
	}

	r.GET("/plates/:filename", h.serveImage(archive.RolePlate))
	r.GET("/original_images/:filename", h.serveImage(archive.RoleOriginal))
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) listPlates(c *gin.Context) {
	filter, err := parseListFilter(c)
	if err != nil {
		h.handleError(c, err)
		return
	}

	sightings, err := h.sightingService.ListSightings(c.Request.Context(), filter)
	if err != nil {
		h.handleError(c, err)
		return
	}

	// The plate table front end reads this route as a bare array.
	c.JSON(http.StatusOK, sightings)
}

func (h *Handler) exportPlates(c *gin.Context) {
	filter, err := parseListFilter(c)
	if err != nil {
		h.handleError(c, err)
		return
	}

	var buf bytes.Buffer
	if _, err := h.sightingService.ExportCSV(c.Request.Context(), &buf, filter); err != nil {
		h.handleError(c, err)
		return
	}

	name := fmt.Sprintf("plates_%s.csv", time.Now().Format("20060102_150405"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

type updatePlateRequest struct {
	Plate string `json:"plate"`
}

func (h *Handler) updatePlate(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	var req updatePlateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	if err := h.sightingService.UpdatePlate(c.Request.Context(), id, req.Plate); err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, messageResponse("plate updated"))
}

func (h *Handler) deletePlate(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	if err := h.sightingService.DeleteSighting(c.Request.Context(), id); err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, messageResponse("record deleted"))
}

type deleteMultipleRequest struct {
	IDs []int64 `json:"ids"`
}

func (h *Handler) deleteMultiple(c *gin.Context) {
	var req deleteMultipleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("ids must be a list of integers"))
		return
	}
	if req.IDs == nil {
		c.JSON(http.StatusBadRequest, errorResponse("ids must be a list of integers"))
		return
	}

	result, err := h.sightingService.DeleteSightings(c.Request.Context(), req.IDs)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": fmt.Sprintf("%d records deleted", len(result.Deleted)),
		"deleted": result.Deleted,
	})
}

func (h *Handler) createSighting(c *gin.Context) {
	capture, err := parseCapture(c)
	if err != nil {
		h.handleError(c, err)
		return
	}

	sighting, err := h.sightingService.RecordSighting(c.Request.Context(), capture)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, successResponse(sighting))
}

func (h *Handler) serveImage(role archive.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		filename := c.Param("filename")
		data, err := h.sightingService.FetchImage(c.Request.Context(), role, filename)
		if err != nil {
			h.handleError(c, err)
			return
		}

		contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
		if contentType == "" {
			contentType = http.DetectContentType(data)
		}
		c.Data(http.StatusOK, contentType, data)
	}
}

func (h *Handler) handleError(c *gin.Context, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, errorResponse(err.Error()))
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func parseListFilter(c *gin.Context) (anpr.ListFilter, error) {
	filter := anpr.ListFilter{
		Plate: strings.TrimSpace(c.Query("plate")),
	}

	if f := strings.TrimSpace(c.Query("from")); f != "" {
		t, err := parseBound(f, false)
		if err != nil {
			return filter, fmt.Errorf("%w: invalid from time format", service.ErrInvalidInput)
		}
		filter.From = &t
	}
	if to := strings.TrimSpace(c.Query("to")); to != "" {
		t, err := parseBound(to, true)
		if err != nil {
			return filter, fmt.Errorf("%w: invalid to time format", service.ErrInvalidInput)
		}
		filter.To = &t
	}

	switch strings.ToLower(c.DefaultQuery("order", "asc")) {
	case "asc":
	case "desc":
		filter.Desc = true
	default:
		return filter, fmt.Errorf("%w: order must be asc or desc", service.ErrInvalidInput)
	}

	var err error
	if filter.Limit, err = parseNonNegative(c.Query("limit")); err != nil {
		return filter, fmt.Errorf("%w: invalid limit", service.ErrInvalidInput)
	}
	if filter.Offset, err = parseNonNegative(c.Query("offset")); err != nil {
		return filter, fmt.Errorf("%w: invalid offset", service.ErrInvalidInput)
	}
	return filter, nil
}

// parseBound accepts RFC 3339 or a bare date. A bare upper bound covers the
// whole day.
func parseBound(s string, upper bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(dateLayout, s, time.Local)
	if err != nil {
		return time.Time{}, err
	}
	if upper {
		t = t.AddDate(0, 0, 1).Add(-time.Second)
	}
	return t, nil
}

func parseCapture(c *gin.Context) (anpr.Capture, error) {
	var capture anpr.Capture

	if _, err := c.MultipartForm(); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return capture, fmt.Errorf("%w: upload exceeds %d bytes: %w", service.ErrInvalidInput, tooLarge.Limit, err)
		}
		return capture, fmt.Errorf("%w: invalid multipart form: %w", service.ErrInvalidInput, err)
	}

	capture.Plate = strings.TrimSpace(c.PostForm("plate"))

	capturedAt, err := time.Parse(time.RFC3339Nano, c.PostForm("captured_at"))
	if err != nil {
		return capture, fmt.Errorf("%w: invalid captured_at", service.ErrInvalidInput)
	}
	capture.CapturedAt = capturedAt

	if capture.Sequence, err = strconv.Atoi(c.DefaultPostForm("sequence", "0")); err != nil {
		return capture, fmt.Errorf("%w: invalid sequence", service.ErrInvalidInput)
	}
	if capture.Confidence, err = strconv.ParseFloat(c.DefaultPostForm("confidence", "0"), 64); err != nil {
		return capture, fmt.Errorf("%w: invalid confidence", service.ErrInvalidInput)
	}

	if capture.PlateImage, err = readFormFile(c, "plate_image"); err != nil {
		return capture, err
	}
	if capture.OriginalImage, err = readFormFile(c, "original_image"); err != nil {
		return capture, err
	}
	return capture, nil
}

func readFormFile(c *gin.Context, field string) ([]byte, error) {
	header, err := c.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, fmt.Errorf("%w: %s is required", service.ErrInvalidInput, field)
		}
		return nil, fmt.Errorf("%w: %s: %w", service.ErrInvalidInput, field, err)
	}
	f, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", field, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", field, err)
	}
	return data, nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("%w: invalid id %q", service.ErrInvalidInput, s)
	}
	return id, nil
}

func parseNonNegative(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errors.New("must be a non-negative integer")
	}
	return n, nil
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func messageResponse(message string) gin.H {
	return gin.H{
		"message": message,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}
