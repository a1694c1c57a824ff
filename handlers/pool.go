package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"agentpool/core"
	"agentpool/models/api"
	"agentpool/services"
)

// PoolHTTPHandler serves the pool-facing routes consumed by the dashboard and CLI.
type PoolHTTPHandler struct {
	poolService      services.PoolService
	instancesService services.InstancesService
}

func NewPoolHTTPHandler(
	poolService services.PoolService,
	instancesService services.InstancesService,
) *PoolHTTPHandler {
	return &PoolHTTPHandler{
		poolService:      poolService,
		instancesService: instancesService,
	}
}

type ReplenishRequest struct {
	Count int `json:"count"`
}

type DrainRequest struct {
	Count int `json:"count"`
}

type CountResponse struct {
	Count int `json:"count"`
}

func (h *PoolHTTPHandler) HandleGetPoolCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.instancesService.GetPoolCounts(r.Context())
	if err != nil {
		log.Printf("❌ Failed to get pool counts: %v", err)
		http.Error(w, "failed to get pool counts", http.StatusInternalServerError)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, api.DomainPoolCountsToAPIPoolCounts(counts))
}

func (h *PoolHTTPHandler) HandleGetPoolAgents(w http.ResponseWriter, r *http.Request) {
	log.Printf("📋 List pool agents request received from %s", r.RemoteAddr)

	instances, err := h.instancesService.GetAllInstances(r.Context())
	if err != nil {
		log.Printf("❌ Failed to get pool agents: %v", err)
		http.Error(w, "failed to get pool agents", http.StatusInternalServerError)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, api.DomainInstancesToAPIPoolAgents(instances))
}

func (h *PoolHTTPHandler) HandleClaim(w http.ResponseWriter, r *http.Request) {
	log.Printf("🎯 Claim request received from %s", r.RemoteAddr)

	var req services.ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("❌ Invalid claim request body: %v", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	maybeInstance, err := h.poolService.Claim(r.Context(), req)
	if err != nil {
		log.Printf("❌ Claim failed: %v", err)
		http.Error(w, "claim failed", http.StatusInternalServerError)
		return
	}

	instance, ok := maybeInstance.Get()
	if !ok {
		// Expected absence - the pool is simply empty right now
		log.Printf("📋 No idle instance available for claim")
		http.Error(w, "no idle instance available", http.StatusServiceUnavailable)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, api.DomainInstanceToAPIClaimResult(instance))
}

func (h *PoolHTTPHandler) HandleReplenish(w http.ResponseWriter, r *http.Request) {
	log.Printf("➕ Replenish request received from %s", r.RemoteAddr)

	var req ReplenishRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			log.Printf("❌ Invalid replenish request body: %v", err)
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	created, err := h.poolService.Replenish(r.Context(), req.Count)
	if err != nil {
		log.Printf("❌ Replenish failed: %v", err)
		http.Error(w, "replenish failed", http.StatusInternalServerError)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, CountResponse{Count: created})
}

func (h *PoolHTTPHandler) HandleDrain(w http.ResponseWriter, r *http.Request) {
	log.Printf("➖ Drain request received from %s", r.RemoteAddr)

	var req DrainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("❌ Invalid drain request body: %v", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Count <= 0 {
		http.Error(w, "count must be positive", http.StatusBadRequest)
		return
	}

	destroyed, err := h.poolService.Drain(r.Context(), req.Count)
	if err != nil {
		log.Printf("❌ Drain failed: %v", err)
		http.Error(w, "drain failed", http.StatusInternalServerError)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, CountResponse{Count: destroyed})
}

func (h *PoolHTTPHandler) HandleKillInstance(w http.ResponseWriter, r *http.Request) {
	instanceID := mux.Vars(r)["id"]
	log.Printf("💀 Kill instance request received for %s from %s", instanceID, r.RemoteAddr)

	if err := h.poolService.Kill(r.Context(), instanceID); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			http.Error(w, "instance not found", http.StatusNotFound)
			return
		}
		log.Printf("❌ Failed to kill instance %s: %v", instanceID, err)
		http.Error(w, "failed to kill instance", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *PoolHTTPHandler) HandleDismissCrashed(w http.ResponseWriter, r *http.Request) {
	instanceID := mux.Vars(r)["id"]
	log.Printf("🧹 Dismiss crashed request received for %s from %s", instanceID, r.RemoteAddr)

	if err := h.poolService.DismissCrashed(r.Context(), instanceID); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			http.Error(w, "instance not found", http.StatusNotFound)
			return
		}
		log.Printf("❌ Failed to dismiss crashed instance %s: %v", instanceID, err)
		http.Error(w, "failed to dismiss crashed instance", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeJSONResponse writes a JSON response with the given status code
func (h *PoolHTTPHandler) writeJSONResponse(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("❌ Failed to encode JSON response: %v", err)
	}
}
