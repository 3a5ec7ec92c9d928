package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/cmlabs-hris/payroll-engine/internal/domain/template"
	"github.com/cmlabs-hris/payroll-engine/internal/handler/http/response"
	"github.com/go-chi/chi/v5"
)

type InvoiceTemplateHandler interface {
	List(w http.ResponseWriter, r *http.Request)
	Get(w http.ResponseWriter, r *http.Request)
	Create(w http.ResponseWriter, r *http.Request)
	Update(w http.ResponseWriter, r *http.Request)
	Delete(w http.ResponseWriter, r *http.Request)
	GetDefault(w http.ResponseWriter, r *http.Request)
	Clone(w http.ResponseWriter, r *http.Request)
}

type invoiceTemplateHandlerImpl struct {
	invoiceService template.InvoiceTemplateService
}

func NewInvoiceTemplateHandler(invoiceService template.InvoiceTemplateService) InvoiceTemplateHandler {
	return &invoiceTemplateHandlerImpl{invoiceService: invoiceService}
}

func (h *invoiceTemplateHandlerImpl) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrAbort(w, r)
	if !ok {
		return
	}

	filter := template.InvoiceTemplateFilter{
		ClientID:            queryString(r, "client_id"),
		PayGradeStructureID: queryString(r, "pay_grade_structure_id"),
		IsActive:            queryBool(r, "is_active"),
		Search:              queryString(r, "search"),
	}
	filter.Page, filter.Limit = queryPage(r)

	result, err := h.invoiceService.List(r.Context(), actor, filter)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.SuccessWithMeta(w, result.Data, &response.Meta{
		Page:       result.Page,
		Limit:      result.Limit,
		TotalItems: result.TotalCount,
		TotalPages: result.TotalPages,
	})
}

func (h *invoiceTemplateHandlerImpl) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrAbort(w, r)
	if !ok {
		return
	}

	result, err := h.invoiceService.Get(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.Success(w, result)
}

func (h *invoiceTemplateHandlerImpl) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrAbort(w, r)
	if !ok {
		return
	}

	var req template.CreateInvoiceTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body", nil)
		return
	}

	result, err := h.invoiceService.Create(r.Context(), actor, req)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.Created(w, "Invoice template created", result)
}

func (h *invoiceTemplateHandlerImpl) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrAbort(w, r)
	if !ok {
		return
	}

	var req template.UpdateInvoiceTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body", nil)
		return
	}
	req.ID = chi.URLParam(r, "id")

	result, err := h.invoiceService.Update(r.Context(), actor, req)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.SuccessWithMessage(w, "Invoice template updated", result)
}

func (h *invoiceTemplateHandlerImpl) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrAbort(w, r)
	if !ok {
		return
	}

	if err := h.invoiceService.Delete(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		response.HandleError(w, err)
		return
	}

	response.SuccessWithMessage(w, "Invoice template deactivated", nil)
}

func (h *invoiceTemplateHandlerImpl) GetDefault(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrAbort(w, r)
	if !ok {
		return
	}

	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		response.BadRequest(w, "client_id is required", nil)
		return
	}

	result, err := h.invoiceService.GetDefault(r.Context(), actor, clientID, queryString(r, "pay_grade_structure_id"))
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.Success(w, result)
}

func (h *invoiceTemplateHandlerImpl) Clone(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrAbort(w, r)
	if !ok {
		return
	}

	var req template.CloneInvoiceTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(w, "Invalid request body", nil)
		return
	}
	req.ID = chi.URLParam(r, "id")

	result, err := h.invoiceService.Clone(r.Context(), actor, req)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.Created(w, "Invoice template cloned", result)
}
