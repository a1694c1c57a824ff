package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"agentpool/core"
	"agentpool/models"
	"agentpool/services"
)

// ResourcesHTTPHandler serves the internal resource-layer routes used by
// operator tooling: instance create/destroy, configuration, redeploys and
// per-tool resource management.
type ResourcesHTTPHandler struct {
	lifecycleService services.LifecycleService
}

func NewResourcesHTTPHandler(lifecycleService services.LifecycleService) *ResourcesHTTPHandler {
	return &ResourcesHTTPHandler{lifecycleService: lifecycleService}
}

type CreateInstanceRequest struct {
	Tools []string `json:"tools"`
}

type ConfigureRequest struct {
	Variables map[string]string `json:"variables"`
}

func (h *ResourcesHTTPHandler) HandleCreateInstance(w http.ResponseWriter, r *http.Request) {
	log.Printf("➕ Create instance request received from %s", r.RemoteAddr)

	var req CreateInstanceRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			log.Printf("❌ Invalid create request body: %v", err)
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	tools := models.AllToolKinds
	if len(req.Tools) > 0 {
		tools = make([]models.ToolKind, 0, len(req.Tools))
		for _, tool := range req.Tools {
			if !models.IsValidToolKind(tool) {
				http.Error(w, "unknown tool kind: "+tool, http.StatusBadRequest)
				return
			}
			tools = append(tools, models.ToolKind(tool))
		}
	}

	instance, err := h.lifecycleService.CreateInstance(r.Context(), tools)
	if err != nil {
		log.Printf("❌ Failed to create instance: %v", err)
		http.Error(w, "failed to create instance", http.StatusInternalServerError)
		return
	}

	h.writeJSONResponse(w, http.StatusCreated, instance)
}

func (h *ResourcesHTTPHandler) HandleDestroyInstance(w http.ResponseWriter, r *http.Request) {
	instanceID := mux.Vars(r)["id"]
	log.Printf("💀 Destroy instance request received for %s from %s", instanceID, r.RemoteAddr)

	result, err := h.lifecycleService.DestroyInstance(r.Context(), instanceID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			http.Error(w, "instance not found", http.StatusNotFound)
			return
		}
		log.Printf("❌ Failed to destroy instance %s: %v", instanceID, err)
		http.Error(w, "failed to destroy instance", http.StatusInternalServerError)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, result)
}

func (h *ResourcesHTTPHandler) HandleBatchStatuses(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.lifecycleService.BatchStatuses(r.Context())
	if err != nil {
		log.Printf("❌ Failed to get batch statuses: %v", err)
		http.Error(w, "failed to get batch statuses", http.StatusInternalServerError)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, statuses)
}

func (h *ResourcesHTTPHandler) HandleConfigureInstance(w http.ResponseWriter, r *http.Request) {
	instanceID := mux.Vars(r)["id"]
	log.Printf("🔧 Configure instance request received for %s from %s", instanceID, r.RemoteAddr)

	var req ConfigureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("❌ Invalid configure request body: %v", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.lifecycleService.ConfigureInstance(r.Context(), instanceID, req.Variables); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			http.Error(w, "instance not found", http.StatusNotFound)
			return
		}
		log.Printf("❌ Failed to configure instance %s: %v", instanceID, err)
		http.Error(w, "failed to configure instance", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *ResourcesHTTPHandler) HandleRedeployInstance(w http.ResponseWriter, r *http.Request) {
	instanceID := mux.Vars(r)["id"]
	log.Printf("🔄 Redeploy instance request received for %s from %s", instanceID, r.RemoteAddr)

	if err := h.lifecycleService.RedeployInstance(r.Context(), instanceID); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			http.Error(w, "instance not found", http.StatusNotFound)
			return
		}
		log.Printf("❌ Failed to redeploy instance %s: %v", instanceID, err)
		http.Error(w, "failed to redeploy instance", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *ResourcesHTTPHandler) HandleProvisionResource(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	instanceID := vars["id"]
	tool := vars["tool"]
	log.Printf("➕ Provision %s resource request received for %s from %s", tool, instanceID, r.RemoteAddr)

	if !models.IsValidToolKind(tool) {
		http.Error(w, "unknown tool kind: "+tool, http.StatusBadRequest)
		return
	}

	resource, err := h.lifecycleService.ProvisionResource(r.Context(), instanceID, models.ToolKind(tool))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			http.Error(w, "instance not found", http.StatusNotFound)
			return
		}
		log.Printf("❌ Failed to provision %s resource for %s: %v", tool, instanceID, err)
		http.Error(w, "failed to provision resource", http.StatusInternalServerError)
		return
	}

	h.writeJSONResponse(w, http.StatusCreated, resource)
}

func (h *ResourcesHTTPHandler) HandleDestroyResource(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	instanceID := vars["id"]
	tool := vars["tool"]
	resourceID := vars["resourceId"]
	log.Printf("💀 Destroy %s resource %s request received for %s from %s",
		tool, resourceID, instanceID, r.RemoteAddr)

	if !models.IsValidToolKind(tool) {
		http.Error(w, "unknown tool kind: "+tool, http.StatusBadRequest)
		return
	}

	err := h.lifecycleService.DestroyResource(r.Context(), instanceID, models.ToolKind(tool), resourceID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			http.Error(w, "resource not found", http.StatusNotFound)
			return
		}
		log.Printf("❌ Failed to destroy %s resource %s: %v", tool, resourceID, err)
		http.Error(w, "failed to destroy resource", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeJSONResponse writes a JSON response with the given status code
func (h *ResourcesHTTPHandler) writeJSONResponse(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("❌ Failed to encode JSON response: %v", err)
	}
}
