package filestore

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/labstack/echo/v4"
)

// Handler serves stored prescription photos back to the app shell.
type Handler struct {
	store *Local
}

func NewHandler(store *Local) *Handler {
	return &Handler{store: store}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/photos/:name", h.handleDownload)
}

func (h *Handler) handleDownload(c echo.Context) error {
	name := c.Param("name")
	if name == "" || SafeFileName(name) != name || name == "." || name == ".." {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid file name")
	}

	f, err := os.Open(filepath.Join(h.store.baseDir, PrescriptionsDir, name))
	if errors.Is(err, os.ErrNotExist) {
		return echo.NewHTTPError(http.StatusNotFound, "photo not found")
	}
	if err != nil {
		return err
	}
	defer f.Close()

	return c.Stream(http.StatusOK, "image/jpeg", f)
}
