package api

import (
	"errors"
	"net/http"

	"vidstore/internal/video"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	reasonBadFormat  = "bad_format"
	reasonBadID      = "bad_id"
	reasonBadSize    = "bad_size"
	reasonProcessing = "processing"
	reasonBadRequest = "bad_request"
	reasonInternal   = "internal"

	defaultMaxUploadBytes int64 = 512 << 20
)

type uploadResponse struct {
	ID string `json:"id"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

type resizeRequest struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type fileInfoResponse struct {
	ID                string `json:"id"`
	Filename          string `json:"filename"`
	Processing        bool   `json:"processing"`
	ProcessingSuccess *bool  `json:"processingSuccess"`
}

type API struct {
	engine         *video.Engine
	maxUploadBytes int64
	metrics        http.Handler
}

// Option customizes the API.
type Option func(*API)

// WithMaxUploadBytes caps the size of a multipart upload body.
func WithMaxUploadBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxUploadBytes = n
		}
	}
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *API) { a.metrics = h }
}

func NewAPI(engine *video.Engine, opts ...Option) *API {
	a := &API{engine: engine, maxUploadBytes: defaultMaxUploadBytes}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RegisterRoutes registers API routes on the provided gin engine
func (a *API) RegisterRoutes(router *gin.Engine) {
	files := router.Group("/file")
	{
		files.POST("/", a.Upload)
		files.GET("/", a.ListFiles)
		files.GET("/:id", a.GetInfo)
		files.PATCH("/:id", a.Resize)
		files.DELETE("/:id", a.Delete)
	}
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if a.metrics != nil {
		router.GET("/metrics", gin.WrapH(a.metrics))
	}
}

// Upload accepts a multipart "file" field and starts storing it
func (a *API) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, a.maxUploadBytes)
	header, err := c.FormFile("file")
	if err != nil {
		log.Warn().Err(err).Msg("invalid upload request")
		c.JSON(http.StatusBadRequest, errorResponse{Error: "multipart field \"file\" is required", Reason: reasonBadRequest})
		return
	}
	src, err := header.Open()
	if err != nil {
		log.Error().Str("filename", header.Filename).Err(err).Msg("open uploaded part failed")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "could not read upload", Reason: reasonInternal})
		return
	}
	id, _, err := a.engine.Ingest(c.Request.Context(), header.Filename, src)
	if err != nil {
		_ = src.Close()
		a.writeError(c, err, "")
		return
	}
	c.JSON(http.StatusOK, uploadResponse{ID: id.String()})
}

// Resize starts an asynchronous resize of the file
func (a *API) Resize(c *gin.Context) {
	id, ok := a.parseID(c)
	if !ok {
		return
	}
	var req resizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn().Str("file_id", id.String()).Err(err).Msg("invalid resize request")
		c.JSON(http.StatusBadRequest, errorResponse{Error: "body must be {\"width\": int, \"height\": int}", Reason: reasonBadRequest})
		return
	}
	if _, err := a.engine.Transform(c.Request.Context(), id, req.Width, req.Height); err != nil {
		a.writeError(c, err, id.String())
		return
	}
	c.JSON(http.StatusOK, successResponse{Success: true})
}

// GetInfo returns the current status of a file
func (a *API) GetInfo(c *gin.Context) {
	id, ok := a.parseID(c)
	if !ok {
		return
	}
	info, err := a.engine.GetInfo(c.Request.Context(), id)
	if err != nil {
		a.writeError(c, err, id.String())
		return
	}
	c.JSON(http.StatusOK, toFileInfoResponse(info))
}

// ListFiles returns the status of every stored file
func (a *API) ListFiles(c *gin.Context) {
	infos, err := a.engine.List(c.Request.Context())
	if err != nil {
		a.writeError(c, err, "")
		return
	}
	resp := make([]fileInfoResponse, 0, len(infos))
	for _, info := range infos {
		resp = append(resp, toFileInfoResponse(info))
	}
	c.JSON(http.StatusOK, resp)
}

// Delete removes the file; byte deletion may finish later
func (a *API) Delete(c *gin.Context) {
	id, ok := a.parseID(c)
	if !ok {
		return
	}
	if _, err := a.engine.Purge(c.Request.Context(), id); err != nil {
		a.writeError(c, err, id.String())
		return
	}
	c.JSON(http.StatusOK, successResponse{Success: true})
}

func (a *API) parseID(c *gin.Context) (uuid.UUID, bool) {
	raw := c.Param("id")
	id, err := uuid.Parse(raw)
	if err != nil {
		log.Warn().Str("file_id", raw).Msg("malformed file id")
		c.JSON(http.StatusBadRequest, errorResponse{Error: "file id is invalid", Reason: reasonBadID})
		return uuid.Nil, false
	}
	return id, true
}

func (a *API) writeError(c *gin.Context, err error, fileID string) {
	status, resp := classify(err)
	evt := log.Warn()
	if status >= http.StatusInternalServerError {
		evt = log.Error()
	}
	evt.Str("file_id", fileID).Str("reason", resp.Reason).Err(err).Msg("request rejected")
	c.JSON(status, resp)
}

func classify(err error) (int, errorResponse) {
	switch {
	case errors.Is(err, video.ErrFormat):
		return http.StatusBadRequest, errorResponse{Error: "file format is invalid", Reason: reasonBadFormat}
	case errors.Is(err, video.ErrNonExistentID):
		return http.StatusBadRequest, errorResponse{Error: "file does not exist", Reason: reasonBadID}
	case errors.Is(err, video.ErrIncorrectSize):
		return http.StatusBadRequest, errorResponse{Error: "invalid size: each dimension must be an even number greater than 20", Reason: reasonBadSize}
	case errors.Is(err, video.ErrProcessing):
		return http.StatusBadRequest, errorResponse{Error: "file is being processed, wait until it finishes", Reason: reasonProcessing}
	default:
		return http.StatusInternalServerError, errorResponse{Error: "internal error", Reason: reasonInternal}
	}
}

func toFileInfoResponse(info video.FileInfo) fileInfoResponse {
	return fileInfoResponse{
		ID:                info.ID.String(),
		Filename:          info.Filename,
		Processing:        info.Processing,
		ProcessingSuccess: info.LastSuccess,
	}
}
