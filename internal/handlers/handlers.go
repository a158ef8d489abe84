package handlers

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/example/scandish/internal/auth"
	"github.com/example/scandish/internal/catalog"
	"github.com/example/scandish/internal/recognizer"
	"github.com/example/scandish/internal/repository"
	"github.com/example/scandish/internal/usecase"
)

// MaxUploadSize caps the size of an uploaded P3 image.
const MaxUploadSize = 4 << 20

// Room for multipart framing and the base64 expansion of JSON payloads.
const (
	multipartOverhead = 64 << 10
	maxJSONBody       = MaxUploadSize*4/3 + 64<<10
)

var allowedUploadTypes = map[string]struct{}{
	"image/x-portable-pixmap":  {},
	"image/x-portable-anymap":  {},
	"application/octet-stream": {},
	"text/plain":               {},
}

// RecognitionService is the use case surface the handlers depend on.
type RecognitionService interface {
	Recognize(ctx context.Context, userID string, q recognizer.Query) (*usecase.Outcome, error)
	GetResult(ctx context.Context, userID, requestID string) (*repository.RecognitionLog, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

type recognizeRequest struct {
	ImageURL    string `json:"imageUrl"`
	ImageBase64 string `json:"imageBase64"`
}

type catalogItem struct {
	Brand       string   `json:"brand"`
	Model       string   `json:"model"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router. Recognition
// endpoints require authMiddleware; health and catalog listing do not.
func RegisterRoutes(router *gin.Engine, svc RecognitionService, cat *catalog.Catalog, authMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "catalog_entries": cat.Len()})
	})

	items := make([]catalogItem, 0, cat.Len())
	for _, e := range cat.Entries() {
		items = append(items, catalogItem{
			Brand:       e.Brand,
			Model:       e.Model,
			Name:        e.Name,
			Description: e.Description,
			Keywords:    e.Keywords,
		})
	}
	router.GET("/api/catalog", func(c *gin.Context) {
		c.JSON(http.StatusOK, items)
	})

	api := router.Group("/api", authMiddleware)
	api.POST("/recognize", recognizeHandler(svc))

	api.GET("/recognitions/:id", func(c *gin.Context) {
		userID, _ := auth.GetUserID(c.Request.Context())
		requestID := c.Param("id")
		if requestID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
			return
		}

		log, err := svc.GetResult(c.Request.Context(), userID, requestID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load result"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"request_id": log.RequestID,
			"user_id":    log.UserID,
			"matched":    log.Matched,
			"method":     log.Method,
			"brand":      log.Brand,
			"model":      log.Model,
			"confidence": log.Confidence,
			"distance":   log.Distance,
			"created_at": log.CreatedAt,
		})
	})

	api.GET("/metrics", func(c *gin.Context) {
		summary, err := svc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate metrics"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

func recognizeHandler(svc RecognitionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var (
			q      recognizer.Query
			status int
			err    error
		)
		if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
			q, status, err = readUpload(c)
		} else {
			q, status, err = readJSON(c)
		}
		if err != nil {
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		userID, _ := auth.GetUserID(c.Request.Context())
		out, err := svc.Recognize(c.Request.Context(), userID, q)
		if err != nil {
			kind := recognizer.Kind(err)
			c.JSON(statusForKind(kind), gin.H{"error": err.Error(), "kind": kind.String()})
			return
		}

		c.JSON(http.StatusOK, out)
	}
}

func readJSON(c *gin.Context) (recognizer.Query, int, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxJSONBody)

	var req recognizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if isTooLarge(err) {
			return recognizer.Query{}, http.StatusRequestEntityTooLarge, errors.New("payload too large")
		}
		return recognizer.Query{}, http.StatusBadRequest, errors.New("invalid JSON body")
	}

	q := recognizer.Query{ImageURL: strings.TrimSpace(req.ImageURL), ImageBase64: req.ImageBase64}
	if q.ImageURL == "" && !q.HasImage() {
		return q, http.StatusBadRequest, errors.New("imageUrl or imageBase64 is required")
	}
	return q, 0, nil
}

func readUpload(c *gin.Context) (recognizer.Query, int, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize+multipartOverhead)

	file, err := c.FormFile("image")
	if err != nil {
		if isTooLarge(err) {
			return recognizer.Query{}, http.StatusRequestEntityTooLarge, errors.New("image too large")
		}
		return recognizer.Query{}, http.StatusBadRequest, errors.New("image file is required")
	}
	if file.Size > MaxUploadSize {
		return recognizer.Query{}, http.StatusRequestEntityTooLarge, errors.New("image too large")
	}

	mediaType, _, err := mime.ParseMediaType(file.Header.Get("Content-Type"))
	if err != nil {
		mediaType = "application/octet-stream"
	}
	if _, ok := allowedUploadTypes[mediaType]; !ok {
		return recognizer.Query{}, http.StatusUnsupportedMediaType, errors.New("only plain-text P3 images are supported")
	}

	src, err := file.Open()
	if err != nil {
		return recognizer.Query{}, http.StatusBadRequest, errors.New("unable to open image")
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return recognizer.Query{}, http.StatusInternalServerError, errors.New("failed to read image")
	}

	return recognizer.Query{ImageURL: strings.TrimSpace(c.PostForm("imageUrl")), ImageData: data}, 0, nil
}

func statusForKind(kind recognizer.ErrorKind) int {
	switch kind {
	case recognizer.KindInvalidPayload:
		return http.StatusBadRequest
	case recognizer.KindFormat, recognizer.KindEmptyImage:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
