package prescription

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/pillfolio/pillfolio/internal/platform/filestore"
	"github.com/pillfolio/pillfolio/internal/validation"
	"github.com/pillfolio/pillfolio/pkg/pagination"
)

// Stager keeps an uploaded image until a draft references it.
type Stager interface {
	Stage(ctx context.Context, fileName, contentType string, content io.Reader) (string, error)
	Unstage(ctx context.Context, uri string) error
}

type Handler struct {
	svc    *Service
	stager Stager
}

func NewHandler(svc *Service, stager Stager) *Handler {
	return &Handler{svc: svc, stager: stager}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/prescriptions", h.ListPrescriptions)
	api.POST("/prescriptions", h.AddPrescription)
	api.GET("/prescriptions/:id", h.GetPrescription)
	api.PUT("/prescriptions/:id", h.EditPrescription)
	api.DELETE("/prescriptions/:id", h.DeletePrescription)

	api.POST("/photos", h.UploadPhoto)
	api.POST("/default-patient", h.EnsureDefaultPatient)
}

// draftRequest accepts tags either as a list or as the raw comma separated
// text typed into the form.
type draftRequest struct {
	Draft
	TagInput string `json:"tagInput"`
}

func (r draftRequest) draft() Draft {
	d := r.Draft
	if len(d.Tags) == 0 && r.TagInput != "" {
		d.Tags = ParseTagInput(r.TagInput)
	}
	return d
}

func resultError(res *Result) error {
	if _, ok := res.Errors["prescriptionId"]; ok {
		return echo.NewHTTPError(http.StatusNotFound, res.Errors["prescriptionId"])
	}
	return &validation.Error{Fields: res.Errors}
}

func (h *Handler) AddPrescription(c echo.Context) error {
	var req draftRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d := req.draft()
	res, err := h.svc.Add(c.Request().Context(), d)
	if err != nil {
		return err
	}
	if !res.OK() {
		return resultError(res)
	}
	h.unstage(c.Request().Context(), d.PhotoURI)
	return c.JSON(http.StatusCreated, res.Prescription)
}

func (h *Handler) EditPrescription(c echo.Context) error {
	var req draftRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d := req.draft()
	res, err := h.svc.Edit(c.Request().Context(), EditDraft{PrescriptionID: c.Param("id"), Draft: d})
	if err != nil {
		return err
	}
	if !res.OK() {
		return resultError(res)
	}
	h.unstage(c.Request().Context(), d.PhotoURI)
	return c.JSON(http.StatusOK, res.Prescription)
}

// unstage drops the raw upload once its compressed copy is stored.
func (h *Handler) unstage(ctx context.Context, uri string) {
	if err := h.stager.Unstage(context.WithoutCancel(ctx), uri); err != nil {
		h.svc.logger.Warn().Err(err).Str("uri", uri).Msg("staged upload cleanup failed")
	}
}

func (h *Handler) GetPrescription(c echo.Context) error {
	p, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	if p == nil {
		return echo.NewHTTPError(http.StatusNotFound, "prescription not found")
	}
	return c.JSON(http.StatusOK, p)
}

// ListPrescriptions serves the timeline. ?q= searches doctor, condition and
// tags; ?all=true widens a search beyond ?patientId=.
func (h *Handler) ListPrescriptions(c echo.Context) error {
	ctx := c.Request().Context()
	pg := pagination.FromContext(c)
	patientID := c.QueryParam("patientId")
	all, _ := strconv.ParseBool(c.QueryParam("all"))

	var (
		items []*Prescription
		err   error
	)
	switch q := c.QueryParam("q"); {
	case q == "" && (patientID == "" || all):
		items, err = h.svc.List(ctx, "")
	case q == "":
		items, err = h.svc.List(ctx, patientID)
	default:
		items, err = h.svc.Search(ctx, SearchParams{
			PatientID:         patientID,
			Query:             q,
			SearchAllPatients: all || patientID == "",
		})
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(pagination.Page(items, pg), len(items), pg.Limit, pg.Offset))
}

func (h *Handler) DeletePrescription(c echo.Context) error {
	deleted, err := h.svc.Delete(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	if !deleted {
		return echo.NewHTTPError(http.StatusNotFound, "prescription not found")
	}
	return c.NoContent(http.StatusNoContent)
}

// UploadPhoto stages a multipart "photo" field and returns the URI to put
// in a draft's photoUri.
func (h *Handler) UploadPhoto(c echo.Context) error {
	file, err := c.FormFile("photo")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "photo file is required")
	}
	if file.Size > filestore.MaxUploadSize {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, filestore.ErrFileTooLarge.Error())
	}

	src, err := file.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read uploaded file")
	}
	defer src.Close()

	uri, err := h.stager.Stage(c.Request().Context(), file.Filename, file.Header.Get(echo.HeaderContentType), src)
	switch {
	case errors.Is(err, filestore.ErrMissingFileName):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, filestore.ErrInvalidContentType):
		return echo.NewHTTPError(http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, filestore.ErrFileTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	case err != nil:
		return err
	}
	return c.JSON(http.StatusCreated, map[string]string{"uri": uri})
}

func (h *Handler) EnsureDefaultPatient(c echo.Context) error {
	id, err := h.svc.EnsureDefaultPatient(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"patientId": id})
}
